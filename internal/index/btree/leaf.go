package btree

import (
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
)

const (
	offNextPageID = commonHeaderLen
	leafHeaderLen = commonHeaderLen + 4
	leafEntryLen  = 8 /* key */ + 4 /* RID.PageID */ + 2 /* RID.Slot */
)

// leafCapacity is the physical upper bound on how many entries fit in one
// leaf page; a tree's configured max_size must not exceed it.
func leafCapacity() int {
	return (diskio.PageSize - leafHeaderLen) / leafEntryLen
}

// leaf is a non-owning view over a pinned leaf page's bytes: the common
// header, a next-leaf pointer, then an ordered array of (key, RID) pairs.
type leaf struct {
	header
}

func newLeaf(buf []byte) leaf { return leaf{header{buf}} }

func (l leaf) nextPageID() diskio.PageID {
	return diskio.PageID(bx.I32(l.buf[offNextPageID:]))
}

func (l leaf) setNextPageID(id diskio.PageID) {
	bx.PutU32At(l.buf, offNextPageID, uint32(int32(id)))
}

func (l leaf) entryOffset(i int) int {
	return leafHeaderLen + i*leafEntryLen
}

func (l leaf) keyAt(i int) KeyType {
	return bx.I64(l.buf[l.entryOffset(i):])
}

func (l leaf) valueAt(i int) index.RID {
	off := l.entryOffset(i) + 8
	return index.RID{PageID: bx.U32(l.buf[off:]), Slot: bx.U16(l.buf[off+4:])}
}

func (l leaf) setEntry(i int, key KeyType, value index.RID) {
	off := l.entryOffset(i)
	bx.PutU64At(l.buf, off, uint64(key))
	bx.PutU32At(l.buf, off+8, value.PageID)
	bx.PutU16At(l.buf, off+12, value.Slot)
}

// init formats a fresh page as an empty leaf.
func (l leaf) init(pageID, parentPageID diskio.PageID, maxSize int) {
	l.setPageType(pageLeaf)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setParentPageID(parentPageID)
	l.setPageID(pageID)
	l.setNextPageID(diskio.InvalidPageID)
}

// findSlot returns the index of the first entry whose key is >= key
// (lower bound), via binary search. If the key is present, that is its
// slot.
func (l leaf) findSlot(key KeyType) int {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if l.keyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// lookup returns the value for key and whether it was found.
func (l leaf) lookup(key KeyType) (index.RID, bool) {
	i := l.findSlot(key)
	if i < l.size() && l.keyAt(i) == key {
		return l.valueAt(i), true
	}
	return index.RID{}, false
}

// insertSorted inserts (key, value) in key order. Returns false if key
// already exists (caller is responsible for checking size < max_size
// beforehand; this never overflows the backing array).
func (l leaf) insertSorted(key KeyType, value index.RID) bool {
	i := l.findSlot(key)
	if i < l.size() && l.keyAt(i) == key {
		return false
	}
	for j := l.size(); j > i; j-- {
		k := l.keyAt(j - 1)
		v := l.valueAt(j - 1)
		l.setEntry(j, k, v)
	}
	l.setEntry(i, key, value)
	l.setSize(l.size() + 1)
	return true
}

// removeAt deletes the entry at slot i, shifting later entries down.
func (l leaf) removeAt(i int) {
	n := l.size()
	for j := i; j < n-1; j++ {
		k := l.keyAt(j + 1)
		v := l.valueAt(j + 1)
		l.setEntry(j, k, v)
	}
	l.setSize(n - 1)
}

// moveHalfTo moves this leaf's upper half of entries onto dst, which
// must be an empty leaf. Lower half keeps size/2 entries (integer
// division), mirroring MoveHalfTo's split ratio.
func (l leaf) moveHalfTo(dst leaf) {
	n := l.size()
	lowerCount := n / 2
	for i := lowerCount; i < n; i++ {
		dst.setEntry(i-lowerCount, l.keyAt(i), l.valueAt(i))
	}
	dst.setSize(n - lowerCount)
	l.setSize(lowerCount)
}

// moveAllTo appends every entry of l onto the end of dst, used when
// coalescing a leaf into a sibling.
func (l leaf) moveAllTo(dst leaf) {
	base := dst.size()
	for i := 0; i < l.size(); i++ {
		dst.setEntry(base+i, l.keyAt(i), l.valueAt(i))
	}
	dst.setSize(base + l.size())
	l.setSize(0)
}

// moveLastTo moves l's final entry to the front of dst, the
// borrow-from-left-sibling redistribution step.
func (l leaf) moveLastTo(dst leaf) {
	n := l.size()
	key, value := l.keyAt(n-1), l.valueAt(n-1)
	l.setSize(n - 1)
	for j := dst.size(); j > 0; j-- {
		k := dst.keyAt(j - 1)
		v := dst.valueAt(j - 1)
		dst.setEntry(j, k, v)
	}
	dst.setEntry(0, key, value)
	dst.setSize(dst.size() + 1)
}

// moveFirstTo moves l's first entry to the end of dst, the
// borrow-from-right-sibling redistribution step.
func (l leaf) moveFirstTo(dst leaf) {
	key, value := l.keyAt(0), l.valueAt(0)
	l.removeAt(0)
	dst.setEntry(dst.size(), key, value)
	dst.setSize(dst.size() + 1)
}
