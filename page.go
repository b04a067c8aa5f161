package tmem

import (
	"github.com/hupe1980/tmem/internal/slot"
)

// PageSize is the size in bytes of every cached page.
const PageSize = slot.PageSize

// Page is one cached page.
type Page = slot.Page

// PageOf views b as a Page without copying. b must be exactly PageSize
// bytes long.
func PageOf(b []byte) (*Page, error) {
	if len(b) != PageSize {
		return nil, &ErrPageSizeMismatch{Expected: PageSize, Actual: len(b)}
	}
	return (*Page)(b), nil
}
