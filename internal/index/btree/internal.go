package btree

import (
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/diskio"
)

const (
	internalEntryLen = 8 /* key */ + 4 /* child page-id */
)

// internalCapacity is the physical upper bound on how many children fit
// in one internal page.
func internalCapacity() int {
	return (diskio.PageSize - commonHeaderLen) / internalEntryLen
}

// internalNode is a non-owning view over a pinned internal page's bytes:
// the common header followed by size (key, child) pairs, where pair 0's
// key is unused (entry 0 holds only the leftmost child) and pairs
// 1..size-1 hold the separator key preceding child i.
type internalNode struct {
	header
}

func newInternal(buf []byte) internalNode { return internalNode{header{buf}} }

func (n internalNode) entryOffset(i int) int {
	return commonHeaderLen + i*internalEntryLen
}

func (n internalNode) keyAt(i int) KeyType {
	return bx.I64(n.buf[n.entryOffset(i):])
}

func (n internalNode) childAt(i int) diskio.PageID {
	return diskio.PageID(bx.I32(n.buf[n.entryOffset(i)+8:]))
}

func (n internalNode) setEntry(i int, key KeyType, child diskio.PageID) {
	off := n.entryOffset(i)
	bx.PutU64At(n.buf, off, uint64(key))
	bx.PutU32At(n.buf, off+8, uint32(int32(child)))
}

func (n internalNode) setChild(i int, child diskio.PageID) {
	bx.PutU32At(n.buf, n.entryOffset(i)+8, uint32(int32(child)))
}

// init formats a fresh page as an empty internal node (size=0, no child
// written). insertIntoParent then sets child 0 and size 1 itself before
// adding the first promoted key via insertAt(1, ...).
func (n internalNode) init(pageID, parentPageID diskio.PageID, maxSize int) {
	n.setPageType(pageInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setParentPageID(parentPageID)
	n.setPageID(pageID)
}

// childIndexFor returns the index of the child whose subtree contains
// key: the largest i such that key[i] <= key (with key[0] treated as
// -infinity), via binary search over separators 1..size-1.
func (n internalNode) childIndexFor(key KeyType) int {
	lo, hi := 1, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keyAt(mid) <= key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// indexOfChild returns the slot holding childPageID, or -1.
func (n internalNode) indexOfChild(childPageID diskio.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == childPageID {
			return i
		}
	}
	return -1
}

// insertAt inserts (key, child) at position i, shifting later entries up.
// Used both to seed the very first separator (i=1 on a 1-child node) and
// for ordinary mid-node insertion.
func (n internalNode) insertAt(i int, key KeyType, child diskio.PageID) {
	for j := n.size(); j > i; j-- {
		k := n.keyAt(j - 1)
		c := n.childAt(j - 1)
		n.setEntry(j, k, c)
	}
	n.setEntry(i, key, child)
	n.setSize(n.size() + 1)
}

// removeAt deletes entry i, shifting later entries down.
func (n internalNode) removeAt(i int) {
	sz := n.size()
	for j := i; j < sz-1; j++ {
		k := n.keyAt(j + 1)
		c := n.childAt(j + 1)
		n.setEntry(j, k, c)
	}
	n.setSize(sz - 1)
}

// moveHalfTo moves this node's upper half of entries onto dst, mirroring
// leaf.moveHalfTo's split ratio: lower half keeps size/2 entries.
func (n internalNode) moveHalfTo(dst internalNode) {
	sz := n.size()
	lowerCount := sz / 2
	for i := lowerCount; i < sz; i++ {
		dst.setEntry(i-lowerCount, n.keyAt(i), n.childAt(i))
	}
	dst.setSize(sz - lowerCount)
	n.setSize(lowerCount)
}

// moveAllTo appends every entry of n onto the end of dst, carrying down
// middleKey as the separator between dst's last existing child and n's
// first (formerly keyless) child.
func (n internalNode) moveAllTo(dst internalNode, middleKey KeyType) {
	base := dst.size()
	dst.setEntry(base, middleKey, n.childAt(0))
	for i := 1; i < n.size(); i++ {
		dst.setEntry(base+i, n.keyAt(i), n.childAt(i))
	}
	dst.setSize(base + n.size())
	n.setSize(0)
}

// moveLastTo moves n's final child to the front of dst, carrying
// middleKey down as the separator ahead of dst's old first child.
func (n internalNode) moveLastTo(dst internalNode, middleKey KeyType) {
	sz := n.size()
	lastChild := n.childAt(sz - 1)
	n.setSize(sz - 1)

	oldFirstChild := dst.childAt(0)
	for j := dst.size(); j > 1; j-- {
		dst.setEntry(j, dst.keyAt(j-1), dst.childAt(j-1))
	}
	dst.setEntry(1, middleKey, oldFirstChild)
	dst.setChild(0, lastChild)
	dst.setSize(dst.size() + 1)
}

// moveFirstTo moves n's first (keyless) child to the end of dst, with
// middleKey becoming the separator ahead of it; n's new first child
// takes over the keyless slot 0.
func (n internalNode) moveFirstTo(dst internalNode, middleKey KeyType) {
	firstChild := n.childAt(0)
	n.removeAt(0)

	dst.setEntry(dst.size(), middleKey, firstChild)
	dst.setSize(dst.size() + 1)
}
