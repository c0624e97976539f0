package btree

import (
	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
)

// Iterator yields (key, value) pairs in ascending key order. It holds a
// read pin (and read latch) on at most one leaf at a time; advancing past
// the end of a leaf releases it before pinning the next one. A non-End
// iterator must eventually be closed, either by draining it to End or by
// calling Close, to release its held pin.
type Iterator struct {
	tree *Tree
	leaf *bufferpool.PinnedPage
	slot int
}

// Begin returns an iterator positioned at the smallest key in the tree.
func (t *Tree) Begin() (*Iterator, error) {
	if t.IsEmpty() {
		return &Iterator{tree: t}, nil
	}
	pp, err := t.descendLeftmostForRead()
	if err != nil {
		return nil, err
	}
	return &Iterator{tree: t, leaf: pp, slot: 0}, nil
}

// BeginAt returns an iterator positioned at the first key >= key.
func (t *Tree) BeginAt(key KeyType) (*Iterator, error) {
	if t.IsEmpty() {
		return &Iterator{tree: t}, nil
	}
	pp, err := t.findLeafForRead(key)
	if err != nil {
		return nil, err
	}
	lf := newLeaf(pp.Buf())
	slot := lf.findSlot(key)
	it := &Iterator{tree: t, leaf: pp, slot: slot}
	if slot >= lf.size() {
		if err := it.advanceToNextLeaf(); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (t *Tree) descendLeftmostForRead() (*bufferpool.PinnedPage, error) {
	pp, err := t.pool.Fetch(t.currentRoot())
	if err != nil {
		return nil, err
	}
	pp.RLock()
	for isInternal(pp.Buf()) {
		n := newInternal(pp.Buf())
		childPP, err := t.pool.Fetch(n.childAt(0))
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

// Valid reports whether the iterator is positioned at an entry. A false
// return means the iterator has reached End; Item must not be called.
func (it *Iterator) Valid() bool {
	return it.leaf != nil
}

// Item returns the entry the iterator is currently positioned at. The
// returned key and value are valid until the next call to Next or Close.
func (it *Iterator) Item() (KeyType, index.RID) {
	lf := newLeaf(it.leaf.Buf())
	return lf.keyAt(it.slot), lf.valueAt(it.slot)
}

// Next advances the iterator by one entry, moving across a leaf boundary
// if needed. It is a no-op once the iterator has reached End.
func (it *Iterator) Next() error {
	if it.leaf == nil {
		return nil
	}
	it.slot++
	lf := newLeaf(it.leaf.Buf())
	if it.slot < lf.size() {
		return nil
	}
	return it.advanceToNextLeaf()
}

func (it *Iterator) advanceToNextLeaf() error {
	lf := newLeaf(it.leaf.Buf())
	nextID := lf.nextPageID()
	it.leaf.RUnlock()
	it.leaf.Done(false)
	it.leaf = nil
	it.slot = 0

	if nextID == diskio.InvalidPageID {
		return nil
	}
	pp, err := it.tree.pool.Fetch(nextID)
	if err != nil {
		return err
	}
	pp.RLock()
	it.leaf = pp
	return nil
}

// Close releases the iterator's pinned leaf, if any. Safe to call more
// than once and safe on an iterator already at End.
func (it *Iterator) Close() {
	if it.leaf == nil {
		return
	}
	it.leaf.RUnlock()
	it.leaf.Done(false)
	it.leaf = nil
}
