// Package device exposes a tmem.Backend through a single-owner command
// handle, the in-process counterpart of a character device with get, put
// and invalidate ioctls.
//
// Only one Handle can be open at a time. Each handle owns a scratch page
// that every transfer goes through, so callers may pass any PageSize-byte
// buffer, including one that aliases memory they keep using.
package device
