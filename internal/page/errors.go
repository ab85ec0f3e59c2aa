package page

import "errors"

// ErrPageFull is returned when an insert would exceed a page's remaining
// free space.
var ErrPageFull = errors.New("page: full")

// ErrSlotNotFound is returned when an item/cell/bar index does not exist in
// a page.
var ErrSlotNotFound = errors.New("page: slot not found")
