//go:build !unix && !windows

package mmap

func osMapAnon(int, bool) ([]byte, func([]byte) error, error) {
	return nil, nil, ErrUnsupported
}

func osAdvise([]byte, Advice) error {
	return nil
}
