package btree

import (
	"log/slog"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
)

// Remove deletes key if present. Returns false if key was not found.
func (t *Tree) Remove(key KeyType) (bool, error) {
	if t.IsEmpty() {
		return false, nil
	}

	stack, err := t.descendForWrite(key, isSafeDelete)
	if err != nil {
		return false, err
	}
	leafPP := stack[len(stack)-1]
	lf := newLeaf(leafPP.Buf())

	i := lf.findSlot(key)
	if i >= lf.size() || lf.keyAt(i) != key {
		releaseStack(stack, false)
		return false, nil
	}
	lf.removeAt(i)

	ancestors := stack[:len(stack)-1]

	if len(ancestors) == 0 {
		// Leaf is the root.
		if lf.size() == 0 {
			t.setRoot(diskio.InvalidPageID)
			if _, err := t.header.UpdateRecord(t.Name, diskio.InvalidPageID); err != nil {
				leafPP.Unlock()
				leafPP.Done(true)
				return true, err
			}
			deletedID := leafPP.PageID()
			leafPP.Unlock()
			leafPP.Done(true)
			_ = t.pool.DeletePage(deletedID)
			return true, nil
		}
		leafPP.Unlock()
		leafPP.Done(true)
		return true, nil
	}

	if lf.size() >= minSize(lf.maxSize()) {
		releaseStack(ancestors, false)
		leafPP.Unlock()
		leafPP.Done(true)
		return true, nil
	}

	return true, t.coalesceOrRedistributeLeaf(ancestors, leafPP, lf)
}

// coalesceOrRedistributeLeaf handles an underflowed non-root leaf: borrow
// from a sibling if one can spare an entry without itself underflowing,
// else merge with a sibling and propagate the resulting parent underflow
// upward. Every page this function touches is released before it returns.
func (t *Tree) coalesceOrRedistributeLeaf(ancestors []*bufferpool.PinnedPage, leafPP *bufferpool.PinnedPage, lf leaf) error {
	parentPP := ancestors[len(ancestors)-1]
	parent := newInternal(parentPP.Buf())
	idx := parent.indexOfChild(leafPP.PageID())

	if idx > 0 {
		leftPP, err := t.pool.Fetch(parent.childAt(idx - 1))
		if err != nil {
			releaseStack(ancestors, false)
			leafPP.Unlock()
			leafPP.Done(true)
			return err
		}
		leftPP.Lock()
		leftLf := newLeaf(leftPP.Buf())
		if leftLf.size()+lf.size() > lf.maxSize() {
			leftLf.moveLastTo(lf)
			parent.setEntry(idx, lf.keyAt(0), parent.childAt(idx))
			leftPP.Unlock()
			leftPP.Done(true)
			releaseStack(ancestors, true)
			leafPP.Unlock()
			leafPP.Done(true)
			return nil
		}
		leftPP.Unlock()
		leftPP.Done(false)
	}

	if idx < parent.size()-1 {
		rightPP, err := t.pool.Fetch(parent.childAt(idx + 1))
		if err != nil {
			releaseStack(ancestors, false)
			leafPP.Unlock()
			leafPP.Done(true)
			return err
		}
		rightPP.Lock()
		rightLf := newLeaf(rightPP.Buf())
		if rightLf.size()+lf.size() > lf.maxSize() {
			rightLf.moveFirstTo(lf)
			parent.setEntry(idx+1, rightLf.keyAt(0), parent.childAt(idx+1))
			rightPP.Unlock()
			rightPP.Done(true)
			releaseStack(ancestors, true)
			leafPP.Unlock()
			leafPP.Done(true)
			return nil
		}
		rightPP.Unlock()
		rightPP.Done(false)
	}

	if idx > 0 {
		leftPP, err := t.pool.Fetch(parent.childAt(idx - 1))
		if err != nil {
			releaseStack(ancestors, false)
			leafPP.Unlock()
			leafPP.Done(true)
			return err
		}
		leftPP.Lock()
		leftLf := newLeaf(leftPP.Buf())
		lf.moveAllTo(leftLf)
		leftLf.setNextPageID(lf.nextPageID())
		parent.removeAt(idx)
		leftPP.Unlock()
		leftPP.Done(true)

		deletedID := leafPP.PageID()
		leafPP.Unlock()
		leafPP.Done(true)
		_ = t.pool.DeletePage(deletedID)
		slog.Debug("btree: leaves coalesced into left sibling", "tree", t.Name, "survivor", leftLf.pageID())
		return t.handleParentUnderflow(ancestors)
	}

	rightPP, err := t.pool.Fetch(parent.childAt(idx + 1))
	if err != nil {
		releaseStack(ancestors, false)
		leafPP.Unlock()
		leafPP.Done(true)
		return err
	}
	rightPP.Lock()
	rightLf := newLeaf(rightPP.Buf())
	rightLf.moveAllTo(lf)
	lf.setNextPageID(rightLf.nextPageID())
	parent.removeAt(idx + 1)

	deletedID := rightPP.PageID()
	rightPP.Unlock()
	rightPP.Done(true)
	_ = t.pool.DeletePage(deletedID)

	leafPP.Unlock()
	leafPP.Done(true)
	slog.Debug("btree: leaves coalesced from right sibling", "tree", t.Name, "survivor", lf.pageID())
	return t.handleParentUnderflow(ancestors)
}

// handleParentUnderflow is called after a coalesce removed one entry
// from ancestors' top node. If that node is the root, it either
// collapses (single remaining child becomes the new root) or is left
// as-is; otherwise, if it underflowed, it recurses into the internal
// redistribute/coalesce path against its own parent.
func (t *Tree) handleParentUnderflow(ancestors []*bufferpool.PinnedPage) error {
	parentPP := ancestors[len(ancestors)-1]
	parent := newInternal(parentPP.Buf())
	grandparents := ancestors[:len(ancestors)-1]

	if len(grandparents) == 0 {
		if parent.size() == 1 {
			onlyChild := parent.childAt(0)
			t.setRoot(onlyChild)
			if _, err := t.header.UpdateRecord(t.Name, onlyChild); err != nil {
				parentPP.Unlock()
				parentPP.Done(true)
				return err
			}
			if err := t.reparent(onlyChild, diskio.InvalidPageID); err != nil {
				parentPP.Unlock()
				parentPP.Done(true)
				return err
			}
			deletedID := parentPP.PageID()
			parentPP.Unlock()
			parentPP.Done(true)
			_ = t.pool.DeletePage(deletedID)
			slog.Debug("btree: root collapsed", "tree", t.Name, "new_root", onlyChild)
			return nil
		}
		parentPP.Unlock()
		parentPP.Done(true)
		return nil
	}

	if parent.size() >= minSize(parent.maxSize()) {
		releaseStack(grandparents, false)
		parentPP.Unlock()
		parentPP.Done(true)
		return nil
	}

	return t.coalesceOrRedistributeInternal(grandparents, parentPP, parent)
}

func (t *Tree) coalesceOrRedistributeInternal(ancestors []*bufferpool.PinnedPage, selfPP *bufferpool.PinnedPage, self internalNode) error {
	parentPP := ancestors[len(ancestors)-1]
	parent := newInternal(parentPP.Buf())
	idx := parent.indexOfChild(selfPP.PageID())

	if idx > 0 {
		leftPP, err := t.pool.Fetch(parent.childAt(idx - 1))
		if err != nil {
			releaseStack(ancestors, false)
			selfPP.Unlock()
			selfPP.Done(true)
			return err
		}
		leftPP.Lock()
		left := newInternal(leftPP.Buf())
		if left.size()+self.size() > self.maxSize() {
			middleKey := parent.keyAt(idx)
			movedChild := left.childAt(left.size() - 1)
			newSeparator := left.keyAt(left.size() - 1)
			left.moveLastTo(self, middleKey)
			parent.setEntry(idx, newSeparator, parent.childAt(idx))
			if err := t.reparent(movedChild, selfPP.PageID()); err != nil {
				leftPP.Unlock()
				leftPP.Done(true)
				releaseStack(ancestors, true)
				selfPP.Unlock()
				selfPP.Done(true)
				return err
			}
			leftPP.Unlock()
			leftPP.Done(true)
			releaseStack(ancestors, true)
			selfPP.Unlock()
			selfPP.Done(true)
			return nil
		}
		leftPP.Unlock()
		leftPP.Done(false)
	}

	if idx < parent.size()-1 {
		rightPP, err := t.pool.Fetch(parent.childAt(idx + 1))
		if err != nil {
			releaseStack(ancestors, false)
			selfPP.Unlock()
			selfPP.Done(true)
			return err
		}
		rightPP.Lock()
		right := newInternal(rightPP.Buf())
		if right.size()+self.size() > self.maxSize() {
			middleKey := parent.keyAt(idx + 1)
			movedChild := right.childAt(0)
			right.moveFirstTo(self, middleKey)
			parent.setEntry(idx+1, right.keyAt(0), parent.childAt(idx+1))
			if err := t.reparent(movedChild, selfPP.PageID()); err != nil {
				rightPP.Unlock()
				rightPP.Done(true)
				releaseStack(ancestors, true)
				selfPP.Unlock()
				selfPP.Done(true)
				return err
			}
			rightPP.Unlock()
			rightPP.Done(true)
			releaseStack(ancestors, true)
			selfPP.Unlock()
			selfPP.Done(true)
			return nil
		}
		rightPP.Unlock()
		rightPP.Done(false)
	}

	if idx > 0 {
		leftPP, err := t.pool.Fetch(parent.childAt(idx - 1))
		if err != nil {
			releaseStack(ancestors, false)
			selfPP.Unlock()
			selfPP.Done(true)
			return err
		}
		leftPP.Lock()
		left := newInternal(leftPP.Buf())
		middleKey := parent.keyAt(idx)
		for i := 0; i < self.size(); i++ {
			if err := t.reparent(self.childAt(i), leftPP.PageID()); err != nil {
				leftPP.Unlock()
				leftPP.Done(true)
				releaseStack(ancestors, false)
				selfPP.Unlock()
				selfPP.Done(true)
				return err
			}
		}
		self.moveAllTo(left, middleKey)
		parent.removeAt(idx)
		leftPP.Unlock()
		leftPP.Done(true)

		deletedID := selfPP.PageID()
		selfPP.Unlock()
		selfPP.Done(true)
		_ = t.pool.DeletePage(deletedID)
		return t.handleParentUnderflow(ancestors)
	}

	rightPP, err := t.pool.Fetch(parent.childAt(idx + 1))
	if err != nil {
		releaseStack(ancestors, false)
		selfPP.Unlock()
		selfPP.Done(true)
		return err
	}
	rightPP.Lock()
	right := newInternal(rightPP.Buf())
	middleKey := parent.keyAt(idx + 1)
	for i := 0; i < right.size(); i++ {
		if err := t.reparent(right.childAt(i), selfPP.PageID()); err != nil {
			rightPP.Unlock()
			rightPP.Done(true)
			releaseStack(ancestors, false)
			selfPP.Unlock()
			selfPP.Done(true)
			return err
		}
	}
	right.moveAllTo(self, middleKey)
	parent.removeAt(idx + 1)

	deletedID := rightPP.PageID()
	rightPP.Unlock()
	rightPP.Done(true)
	_ = t.pool.DeletePage(deletedID)

	selfPP.Unlock()
	selfPP.Done(true)
	return t.handleParentUnderflow(ancestors)
}
