// Package hash implements the extendible hash index: a directory page
// whose global depth grows and shrinks as fixed-capacity bucket pages
// split and merge.
package hash

import (
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/index"
)

// DefaultBucketArraySize is the slot count used when a table is opened
// without an explicit capacity (config.Index.HashBuckets unset or zero).
// Chosen so the two bitmaps plus this many (key, value) slots fit
// comfortably inside one diskio page.
const DefaultBucketArraySize = 256

const bucketOccupiedOff = 0
const bucketSlotLen = 8 /* key */ + 4 /* RID.PageID */ + 2 /* RID.Slot */

func bucketBitmapBytes(cap int) int { return (cap + 7) / 8 }
func bucketReadableOff(cap int) int { return bucketOccupiedOff + bucketBitmapBytes(cap) }
func bucketSlotsOff(cap int) int    { return bucketReadableOff(cap) + bucketBitmapBytes(cap) }

// bucket is a non-owning view over a pinned page's bytes, laid out as
// two MSB-first bitmaps followed by cap (key, value) slots. Grounded
// bit-for-bit on BusTub's hash_table_bucket_page.cpp, generalized with a
// runtime capacity in place of BusTub's compile-time template parameter.
type bucket struct {
	buf []byte
	cap int
}

func newBucket(buf []byte, cap int) bucket { return bucket{buf: buf, cap: cap} }

func bitByte(i int) int  { return i / 8 }
func bitMask(i int) byte { return 1 << (7 - uint(i%8)) }

func (b bucket) isOccupied(i int) bool {
	return b.buf[bucketOccupiedOff+bitByte(i)]&bitMask(i) != 0
}

func (b bucket) setOccupied(i int) {
	b.buf[bucketOccupiedOff+bitByte(i)] |= bitMask(i)
}

func (b bucket) isReadable(i int) bool {
	return b.buf[bucketReadableOff(b.cap)+bitByte(i)]&bitMask(i) != 0
}

func (b bucket) setReadable(i int) {
	b.buf[bucketReadableOff(b.cap)+bitByte(i)] |= bitMask(i)
}

func (b bucket) removeReadable(i int) {
	b.buf[bucketReadableOff(b.cap)+bitByte(i)] &^= bitMask(i)
}

func (b bucket) slotOffset(i int) int {
	return bucketSlotsOff(b.cap) + i*bucketSlotLen
}

func (b bucket) keyAt(i int) int64 {
	return bx.I64(b.buf[b.slotOffset(i):])
}

func (b bucket) valueAt(i int) index.RID {
	off := b.slotOffset(i) + 8
	return index.RID{
		PageID: bx.U32(b.buf[off:]),
		Slot:   bx.U16(b.buf[off+4:]),
	}
}

func (b bucket) setSlot(i int, key int64, value index.RID) {
	off := b.slotOffset(i)
	bx.PutU64At(b.buf, off, uint64(key))
	bx.PutU32At(b.buf, off+8, value.PageID)
	bx.PutU16At(b.buf, off+12, value.Slot)
}

// GetValue returns every readable value stored under key.
func (b bucket) GetValue(key int64) []index.RID {
	var out []index.RID
	for i := 0; i < b.cap; i++ {
		if b.isReadable(i) && b.keyAt(i) == key {
			out = append(out, b.valueAt(i))
		}
	}
	return out
}

// Insert places (key, value) into the first occupied-clear slot. Rejects
// exact duplicates and a full bucket.
func (b bucket) Insert(key int64, value index.RID) bool {
	freeSlot := -1
	for i := 0; i < b.cap; i++ {
		if b.isReadable(i) && b.keyAt(i) == key && b.valueAt(i) == value {
			return false
		}
		if freeSlot == -1 && !b.isOccupied(i) {
			freeSlot = i
		}
	}
	if freeSlot == -1 {
		return false
	}
	b.setSlot(freeSlot, key, value)
	b.setOccupied(freeSlot)
	b.setReadable(freeSlot)
	return true
}

// Remove clears the readable bit of the first matching (key, value) slot.
// The occupied bit is left set, a tombstone preserving probe semantics.
func (b bucket) Remove(key int64, value index.RID) bool {
	for i := 0; i < b.cap; i++ {
		if b.isReadable(i) && b.keyAt(i) == key && b.valueAt(i) == value {
			b.removeReadable(i)
			return true
		}
	}
	return false
}

// IsFull reports whether every valid slot is occupied (readable or
// tombstoned), leaving no room for a new key.
func (b bucket) IsFull() bool {
	for i := 0; i < b.cap; i++ {
		if !b.isOccupied(i) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no slot has ever been occupied.
func (b bucket) IsEmpty() bool {
	for i := 0; i < b.cap; i++ {
		if b.isOccupied(i) {
			return false
		}
	}
	return true
}

// NumReadable returns the popcount of the readable bitmap.
func (b bucket) NumReadable() int {
	n := 0
	for i := 0; i < b.cap; i++ {
		if b.isReadable(i) {
			n++
		}
	}
	return n
}

// entry is one readable (key, value) pair pulled out of a bucket during
// split redistribution.
type entry struct {
	Key   int64
	Value index.RID
}

// entries returns every currently readable (key, value) pair, used when
// redistributing a bucket's contents during a split.
func (b bucket) entries() []entry {
	var out []entry
	for i := 0; i < b.cap; i++ {
		if b.isReadable(i) {
			out = append(out, entry{b.keyAt(i), b.valueAt(i)})
		}
	}
	return out
}

// reset clears both bitmaps, emptying the bucket in place.
func (b bucket) reset() {
	for i := bucketOccupiedOff; i < bucketSlotsOff(b.cap); i++ {
		b.buf[i] = 0
	}
}
