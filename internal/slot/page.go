package slot

// PageSize is the size in bytes of one cached page.
const PageSize = 4096

// Page is one page of opaque payload.
type Page [PageSize]byte

// PagesPerChunk is the number of pages obtained from the allocator per block.
const PagesPerChunk = 256

// MaxCapacity bounds the number of slots a pool may hold.
const MaxCapacity = 1 << 28
