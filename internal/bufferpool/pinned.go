package bufferpool

import "github.com/relkernel/storagecore/internal/diskio"

// PinnedPage wraps a fetched or newly allocated frame and mechanizes the
// "every fetch/new_page pairs with exactly one unpin" discipline: callers
// defer Done immediately after a successful Fetch/New and flip its
// argument to true on whichever exit path mutated the page.
type PinnedPage struct {
	pool   *Pool
	pageID diskio.PageID
	frame  *Frame
	done   bool
}

// Fetch pins pageID and wraps it in a PinnedPage.
func (p *Pool) Fetch(pageID diskio.PageID) (*PinnedPage, error) {
	f, err := p.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return &PinnedPage{pool: p, pageID: pageID, frame: f}, nil
}

// New allocates a fresh page and wraps it in a PinnedPage.
func (p *Pool) New() (*PinnedPage, error) {
	pageID, f, err := p.NewPage()
	if err != nil {
		return nil, err
	}
	return &PinnedPage{pool: p, pageID: pageID, frame: f}, nil
}

// PageID returns the underlying page's id.
func (pp *PinnedPage) PageID() diskio.PageID { return pp.pageID }

// Buf returns the page's raw byte buffer.
func (pp *PinnedPage) Buf() []byte { return pp.frame.Page.Buf }

// RLock/RUnlock/Lock/Unlock expose the frame's latch for crabbing: a
// caller walking the B+ tree read path takes RLock on a child before
// releasing RUnlock on its parent, and the write path does the same
// with Lock, keeping unsafe ancestors latched until a mutation completes.
func (pp *PinnedPage) RLock()   { pp.frame.Latch.RLock() }
func (pp *PinnedPage) RUnlock() { pp.frame.Latch.RUnlock() }
func (pp *PinnedPage) Lock()    { pp.frame.Latch.Lock() }
func (pp *PinnedPage) Unlock()  { pp.frame.Latch.Unlock() }

// Done unpins the page exactly once; later calls are no-ops. dirty should
// be true on any exit path that wrote to Buf.
func (pp *PinnedPage) Done(dirty bool) {
	if pp.done {
		return
	}
	pp.done = true
	pp.pool.Unpin(pp.pageID, dirty)
}
