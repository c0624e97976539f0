package bufferpool

import (
	"sync"

	"github.com/relkernel/storagecore/internal/diskio"
)

// Frame is one slot of the pool's fixed-size frame array: a page buffer
// plus the bookkeeping the pool needs to decide when it is safe to reuse.
//
// Latch is distinct from the pool's own coarse mutex: a goroutine that
// has pinned a page acquires Latch.RLock/Lock to read or mutate its
// contents, independently of the pool's page-table bookkeeping.
type Frame struct {
	PageID   diskio.PageID
	Page     *diskio.Page
	PinCount int32
	Dirty    bool
	Latch    sync.RWMutex
}

func newFrame() *Frame {
	return &Frame{
		PageID: diskio.InvalidPageID,
		Page:   diskio.NewPage(),
	}
}

func (f *Frame) reset() {
	f.PageID = diskio.InvalidPageID
	f.PinCount = 0
	f.Dirty = false
	f.Page.Reset()
}
