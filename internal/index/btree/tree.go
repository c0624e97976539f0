package btree

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/catalog"
)

// ErrOutOfMemory wraps a page-allocation failure from the buffer pool
// encountered mid-operation; it is fatal for that call.
var ErrOutOfMemory = errors.New("btree: out of memory allocating a page")

// Tree is a B+ tree index over KeyType keys. Like hash.Table, it carries
// a generated identity distinct from its on-disk display name.
type Tree struct {
	ID   uuid.UUID
	Name string

	pool   *bufferpool.Pool
	header *catalog.Header

	leafMaxSize     int
	internalMaxSize int

	rootLock   sync.RWMutex
	rootPageID diskio.PageID
}

// Open attaches a Tree to name, loading its root page-id from the header
// page if name has an existing record, or starting empty otherwise.
// leafMaxSize and internalMaxSize must each leave at least one slot of
// headroom below leafCapacity()/internalCapacity(): internal split needs
// to momentarily hold max_size+1 entries before moving the upper half out.
func Open(pool *bufferpool.Pool, header *catalog.Header, name string, leafMaxSize, internalMaxSize int) (*Tree, error) {
	t := &Tree{
		ID:              uuid.New(),
		Name:            name,
		pool:            pool,
		header:          header,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      diskio.InvalidPageID,
	}

	id, err := header.GetRootID(name)
	switch {
	case err == nil:
		t.rootPageID = id
	case errors.Is(err, catalog.ErrNotFound):
		// Tree starts empty; the header record is created on first insert.
	default:
		return nil, err
	}
	return t, nil
}

// IsEmpty reports whether the tree currently has no root.
func (t *Tree) IsEmpty() bool {
	t.rootLock.RLock()
	defer t.rootLock.RUnlock()
	return t.rootPageID == diskio.InvalidPageID
}

func (t *Tree) currentRoot() diskio.PageID {
	t.rootLock.RLock()
	defer t.rootLock.RUnlock()
	return t.rootPageID
}

func (t *Tree) setRoot(id diskio.PageID) {
	t.rootLock.Lock()
	defer t.rootLock.Unlock()
	t.rootPageID = id
}

// Get returns the value stored under key, if any.
func (t *Tree) Get(key KeyType) ([]index.RID, error) {
	if t.IsEmpty() {
		return nil, nil
	}
	leafPP, err := t.findLeafForRead(key)
	if err != nil {
		return nil, err
	}
	defer func() {
		leafPP.RUnlock()
		leafPP.Done(false)
	}()

	lf := newLeaf(leafPP.Buf())
	if v, ok := lf.lookup(key); ok {
		return []index.RID{v}, nil
	}
	return nil, nil
}

// findLeafForRead descends with latch coupling on the read path: a
// child's RLock is acquired before its parent's RUnlock is released.
func (t *Tree) findLeafForRead(key KeyType) (*bufferpool.PinnedPage, error) {
	pp, err := t.pool.Fetch(t.currentRoot())
	if err != nil {
		return nil, err
	}
	pp.RLock()

	for isInternal(pp.Buf()) {
		n := newInternal(pp.Buf())
		childID := n.childAt(n.childIndexFor(key))

		childPP, err := t.pool.Fetch(childID)
		if err != nil {
			pp.RUnlock()
			pp.Done(false)
			return nil, err
		}
		childPP.RLock()
		pp.RUnlock()
		pp.Done(false)
		pp = childPP
	}
	return pp, nil
}

func isSafeInsert(buf []byte) bool {
	h := header{buf}
	return h.size() < h.maxSize()
}

func isSafeDelete(buf []byte) bool {
	h := header{buf}
	return h.size() > minSize(h.maxSize())
}

// descendForWrite walks root to leaf taking write latches, releasing
// ancestors in bulk as soon as a descendant is "safe" under safe (has
// room to absorb the mutation without itself needing to split or merge).
// The returned stack holds every page still latched, leaf last.
func (t *Tree) descendForWrite(key KeyType, safe func(buf []byte) bool) ([]*bufferpool.PinnedPage, error) {
	pp, err := t.pool.Fetch(t.currentRoot())
	if err != nil {
		return nil, err
	}
	pp.Lock()
	stack := []*bufferpool.PinnedPage{pp}

	for isInternal(pp.Buf()) {
		n := newInternal(pp.Buf())
		childID := n.childAt(n.childIndexFor(key))

		childPP, err := t.pool.Fetch(childID)
		if err != nil {
			releaseStack(stack, false)
			return nil, err
		}
		childPP.Lock()
		stack = append(stack, childPP)

		if safe(childPP.Buf()) {
			releaseStack(stack[:len(stack)-1], false)
			stack = stack[len(stack)-1:]
		}
		pp = childPP
	}
	return stack, nil
}

func releaseStack(pages []*bufferpool.PinnedPage, dirty bool) {
	for _, pp := range pages {
		pp.Unlock()
		pp.Done(dirty)
	}
}

// Insert adds (key, value). Returns false without modifying the tree if
// key already exists.
func (t *Tree) Insert(key KeyType, value index.RID) (bool, error) {
	t.rootLock.Lock()
	if t.rootPageID == diskio.InvalidPageID {
		ok, err := t.startNewTreeLocked(key, value)
		t.rootLock.Unlock()
		return ok, err
	}
	t.rootLock.Unlock()

	stack, err := t.descendForWrite(key, isSafeInsert)
	if err != nil {
		return false, err
	}
	leafPP := stack[len(stack)-1]
	lf := newLeaf(leafPP.Buf())

	if _, found := lf.lookup(key); found {
		releaseStack(stack, false)
		return false, nil
	}

	if lf.size() < lf.maxSize() {
		lf.insertSorted(key, value)
		releaseStack(stack, true)
		return true, nil
	}

	// Leaf is full: insert first (leafCapacity() leaves headroom above
	// max_size for exactly this case), then split so the lower half keeps
	// size/2 of the now-max_size+1 entries, mirroring insertIntoParent's
	// insert-then-moveHalfTo order on the internal-node path.
	lf.insertSorted(key, value)

	newLeafPP, err := t.pool.New()
	if err != nil {
		releaseStack(stack, false)
		return false, ErrOutOfMemory
	}
	newLf := newLeaf(newLeafPP.Buf())
	newLf.init(newLeafPP.PageID(), lf.parentPageID(), lf.maxSize())

	lf.moveHalfTo(newLf)
	newLf.setNextPageID(lf.nextPageID())
	lf.setNextPageID(newLeafPP.PageID())

	promote := newLf.keyAt(0)

	ancestors := stack[:len(stack)-1]
	err = t.insertIntoParent(ancestors, leafPP.PageID(), newLeafPP.PageID(), promote)
	releaseStack(ancestors, true)
	leafPP.Unlock()
	leafPP.Done(true)
	newLeafPP.Done(true)

	slog.Debug("btree: leaf split", "tree", t.Name, "new_leaf", newLeafPP.PageID(), "promoted_key", promote)
	return err == nil, err
}

func (t *Tree) startNewTreeLocked(key KeyType, value index.RID) (bool, error) {
	pp, err := t.pool.New()
	if err != nil {
		return false, ErrOutOfMemory
	}
	lf := newLeaf(pp.Buf())
	lf.init(pp.PageID(), diskio.InvalidPageID, t.leafMaxSize)
	lf.insertSorted(key, value)
	t.rootPageID = pp.PageID()

	if _, err := t.header.InsertRecord(t.Name, pp.PageID()); err != nil {
		pp.Done(true)
		return false, err
	}
	pp.Done(true)
	return true, nil
}

// reparent sets pageID's parent_page_id field to newParent. It bypasses
// the page's latch: every caller already has exclusive access to
// pageID, either by holding its write latch higher up the same call
// stack or because the page was just allocated and is not yet reachable
// by any other goroutine.
func (t *Tree) reparent(pageID, newParent diskio.PageID) error {
	pp, err := t.pool.Fetch(pageID)
	if err != nil {
		return err
	}
	header{pp.Buf()}.setParentPageID(newParent)
	pp.Done(true)
	return nil
}

// insertIntoParent promotes separatorKey between leftChildPageID and
// rightChildPageID into their parent (the top of ancestors), allocating
// a new root or splitting the parent and recursing as needed.
func (t *Tree) insertIntoParent(ancestors []*bufferpool.PinnedPage, leftChildPageID, rightChildPageID diskio.PageID, separatorKey KeyType) error {
	if len(ancestors) == 0 {
		newRootPP, err := t.pool.New()
		if err != nil {
			return ErrOutOfMemory
		}
		newRoot := newInternal(newRootPP.Buf())
		newRoot.init(newRootPP.PageID(), diskio.InvalidPageID, t.internalMaxSize)
		newRoot.setSize(1)
		newRoot.setChild(0, leftChildPageID)
		newRoot.insertAt(1, separatorKey, rightChildPageID)

		if err := t.reparent(leftChildPageID, newRootPP.PageID()); err != nil {
			newRootPP.Done(true)
			return err
		}
		if err := t.reparent(rightChildPageID, newRootPP.PageID()); err != nil {
			newRootPP.Done(true)
			return err
		}

		t.setRoot(newRootPP.PageID())
		if _, err := t.header.UpdateRecord(t.Name, newRootPP.PageID()); err != nil {
			newRootPP.Done(true)
			return err
		}
		newRootPP.Done(true)
		slog.Debug("btree: new root created", "tree", t.Name, "root", newRootPP.PageID())
		return nil
	}

	parentPP := ancestors[len(ancestors)-1]
	parent := newInternal(parentPP.Buf())
	idx := parent.indexOfChild(leftChildPageID)

	if parent.size() < parent.maxSize() {
		parent.insertAt(idx+1, separatorKey, rightChildPageID)
		return t.reparent(rightChildPageID, parentPP.PageID())
	}

	newInternalPP, err := t.pool.New()
	if err != nil {
		return ErrOutOfMemory
	}
	newNode := newInternal(newInternalPP.Buf())
	newNode.init(newInternalPP.PageID(), parent.parentPageID(), parent.maxSize())

	parent.insertAt(idx+1, separatorKey, rightChildPageID)
	parent.moveHalfTo(newNode)
	promote := newNode.keyAt(0)

	if err := t.reparent(rightChildPageID, parentPP.PageID()); err != nil {
		newInternalPP.Done(true)
		return err
	}
	for i := 0; i < newNode.size(); i++ {
		if err := t.reparent(newNode.childAt(i), newInternalPP.PageID()); err != nil {
			newInternalPP.Done(true)
			return err
		}
	}

	err = t.insertIntoParent(ancestors[:len(ancestors)-1], parentPP.PageID(), newInternalPP.PageID(), promote)
	newInternalPP.Done(true)
	slog.Debug("btree: internal node split", "tree", t.Name, "new_node", newInternalPP.PageID())
	return err
}
