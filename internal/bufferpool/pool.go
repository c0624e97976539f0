// Package bufferpool implements the buffer pool manager: a fixed-size
// cache of disk pages, backed by internal/diskio, that hands out pinned
// frames to callers and evicts the least-recently-unpinned frame when it
// needs room for a new one.
package bufferpool

import (
	"errors"
	"sync"

	"github.com/relkernel/storagecore/internal/diskio"
)

var (
	// ErrNoFreeFrame is returned when every frame is pinned and none can be
	// evicted to make room for a fetch or allocation.
	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")
	// ErrPageNotResident is returned by operations that require the page to
	// already be loaded into a frame.
	ErrPageNotResident = errors.New("bufferpool: page not resident")
	// ErrForeignPageID is returned when a caller asks a sharded pool to
	// fetch a page-id that belongs to a different shard.
	ErrForeignPageID = errors.New("bufferpool: page id does not belong to this pool's shard")
)

// Disk is the blocking page I/O primitive the pool reads and writes
// through. *diskio.Manager satisfies it.
type Disk interface {
	ReadPage(pageID diskio.PageID, dst []byte) error
	WritePage(pageID diskio.PageID, src []byte) error
}

// Pool is the buffer pool manager: numFrames resident frames, a page
// table mapping resident page-ids to frames, a free-list of frames that
// currently hold no page, and a replacer tracking unpinned frames.
//
// A single coarse mutex protects the page table, free-list, and every
// frame's metadata; disk I/O happens inside that critical section, the
// simple always-correct option called out for this core.
type Pool struct {
	mu sync.Mutex

	disk      Disk
	allocator *allocator
	replacer  *replacer

	frames    []*Frame
	pageTable map[diskio.PageID]frameID
	freeList  []frameID
}

// NewPool builds a pool of numFrames frames, allocating page-ids sharded
// across numInstances parallel pools with this one numbered instanceIndex.
// A non-sharded, single-instance pool passes numInstances=1, instanceIndex=0.
func NewPool(disk Disk, numFrames int, numInstances, instanceIndex int32) *Pool {
	frames := make([]*Frame, numFrames)
	freeList := make([]frameID, numFrames)
	for i := range frames {
		frames[i] = newFrame()
		freeList[i] = frameID(i)
	}

	return &Pool{
		disk:      disk,
		allocator: newAllocator(numInstances, instanceIndex),
		replacer:  newReplacer(),
		frames:    frames,
		pageTable: make(map[diskio.PageID]frameID),
		freeList:  freeList,
	}
}

// FetchPage pins and returns the frame holding pageID, loading it from
// disk into a free or evicted frame if it is not already resident.
func (p *Pool) FetchPage(pageID diskio.PageID) (*Frame, error) {
	if !p.allocator.owns(pageID) {
		return nil, ErrForeignPageID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if fid, ok := p.pageTable[pageID]; ok {
		f := p.frames[fid]
		f.PinCount++
		p.replacer.Pin(fid)
		return f, nil
	}

	fid, err := p.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	f := p.frames[fid]
	if err := p.disk.ReadPage(pageID, f.Page.Buf); err != nil {
		p.freeList = append(p.freeList, fid)
		return nil, err
	}

	f.PageID = pageID
	f.PinCount = 1
	f.Dirty = false
	p.pageTable[pageID] = fid
	return f, nil
}

// NewPage allocates a fresh page-id, pins a zeroed frame for it, and
// returns both.
func (p *Pool) NewPage() (diskio.PageID, *Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, err := p.acquireFrameLocked()
	if err != nil {
		return diskio.InvalidPageID, nil, err
	}

	pageID := p.allocator.next()
	f := p.frames[fid]
	f.Page.Reset()
	f.PageID = pageID
	f.PinCount = 1
	f.Dirty = false
	p.pageTable[pageID] = fid
	return pageID, f, nil
}

// acquireFrameLocked returns a frame ready to take on a new page-id,
// flushing and evicting the replacer's victim if the free-list is empty.
// Callers must hold p.mu.
func (p *Pool) acquireFrameLocked() (frameID, error) {
	if len(p.freeList) > 0 {
		fid := p.freeList[0]
		p.freeList = p.freeList[1:]
		return fid, nil
	}

	fid, ok := p.replacer.Victim()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	f := p.frames[fid]
	if f.Dirty {
		if err := p.disk.WritePage(f.PageID, f.Page.Buf); err != nil {
			return 0, err
		}
	}
	delete(p.pageTable, f.PageID)
	f.reset()
	return fid, nil
}

// Unpin decrements pageID's pin count and ORs its dirty flag with
// isDirty. When the pin count reaches zero the frame becomes eligible
// for eviction. Returns false if the page is not resident or was
// already unpinned to zero.
func (p *Pool) Unpin(pageID diskio.PageID, isDirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[pageID]
	if !ok {
		return false
	}
	f := p.frames[fid]
	if f.PinCount <= 0 {
		return false
	}

	f.Dirty = f.Dirty || isDirty
	f.PinCount--
	if f.PinCount == 0 {
		p.replacer.Unpin(fid)
	}
	return true
}

// FlushPage writes pageID's current bytes to disk if it is resident,
// regardless of its dirty flag. The dirty flag is left untouched; it is
// cleared only by the eviction path's write-back, matching Unpin's
// OR-only semantics.
func (p *Pool) FlushPage(pageID diskio.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[pageID]
	if !ok {
		return false
	}
	f := p.frames[fid]
	if err := p.disk.WritePage(f.PageID, f.Page.Buf); err != nil {
		return false
	}
	return true
}

// FlushAllPages writes every resident page's bytes to disk.
func (p *Pool) FlushAllPages() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for pageID, fid := range p.pageTable {
		f := p.frames[fid]
		_ = p.disk.WritePage(pageID, f.Page.Buf)
	}
}

// DeletePage removes pageID from the pool, returning its frame to the
// free-list. Returns false if the page is resident and still pinned.
func (p *Pool) DeletePage(pageID diskio.PageID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable[pageID]
	if !ok {
		return true
	}
	f := p.frames[fid]
	if f.PinCount > 0 {
		return false
	}

	p.replacer.Pin(fid) // drop from the unpinned set, it's about to be freed
	delete(p.pageTable, pageID)
	f.reset()
	p.freeList = append(p.freeList, fid)
	p.allocator.free(pageID)
	return true
}
