package hash

import (
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/diskio"
)

// DirArraySize bounds how many directory slots this page can hold, which
// in turn bounds global_depth to log2(DirArraySize).
const DirArraySize = 512

const (
	dirGlobalDepthOff   = 0
	dirLocalDepthsOff   = dirGlobalDepthOff + 4
	dirBucketPageIDsOff = dirLocalDepthsOff + DirArraySize
)

// directory is a non-owning view over the directory page's bytes:
// global_depth (u32), local_depths[DirArraySize] (u8), then
// bucket_page_ids[DirArraySize] (i32), grounded on BusTub's
// extendible_hash_table_directory_page.
type directory struct {
	buf []byte
}

func newDirectory(buf []byte) directory { return directory{buf: buf} }

func (d directory) globalDepth() uint32 {
	return bx.U32At(d.buf, dirGlobalDepthOff)
}

func (d directory) setGlobalDepth(v uint32) {
	bx.PutU32At(d.buf, dirGlobalDepthOff, v)
}

func (d directory) size() uint32 {
	return 1 << d.globalDepth()
}

func (d directory) localDepth(i uint32) uint8 {
	return d.buf[dirLocalDepthsOff+i]
}

func (d directory) setLocalDepth(i uint32, depth uint8) {
	d.buf[dirLocalDepthsOff+i] = depth
}

func (d directory) bucketPageID(i uint32) diskio.PageID {
	return diskio.PageID(bx.I32(d.buf[dirBucketPageIDsOff+i*4:]))
}

func (d directory) setBucketPageID(i uint32, pageID diskio.PageID) {
	bx.PutU32At(d.buf, int(dirBucketPageIDsOff+i*4), uint32(int32(pageID)))
}

// init sets up a brand new directory: global_depth 0, one slot pointing
// at the single initial bucket.
func (d directory) init(bucketPageID diskio.PageID) {
	d.setGlobalDepth(0)
	d.setLocalDepth(0, 0)
	d.setBucketPageID(0, bucketPageID)
}

// bucketIndex returns the directory slot a fingerprint maps to: its low
// global_depth bits.
func (d directory) bucketIndex(fingerprint uint32) uint32 {
	mask := d.size() - 1
	return fingerprint & mask
}

// splitImageIndex returns the slot that shares every bit of i below the
// bucket's own local depth except the highest one, BusTub's GetSplitImageIndex.
func (d directory) splitImageIndex(i uint32) uint32 {
	localDepth := d.localDepth(i)
	return i ^ (1 << (localDepth - 1))
}

// grow doubles the directory: global_depth++, and every slot i gets a
// copy at i + oldSize pointing at the same bucket with the same local depth.
func (d directory) grow() {
	oldSize := d.size()
	d.setGlobalDepth(d.globalDepth() + 1)
	for i := uint32(0); i < oldSize; i++ {
		d.setLocalDepth(i+oldSize, d.localDepth(i))
		d.setBucketPageID(i+oldSize, d.bucketPageID(i))
	}
}

// canShrink reports whether every slot's local depth is strictly below
// the global depth, meaning the directory can safely halve.
func (d directory) canShrink() bool {
	gd := d.globalDepth()
	for i := uint32(0); i < d.size(); i++ {
		if uint32(d.localDepth(i)) >= gd {
			return false
		}
	}
	return true
}

// shrink halves the directory: global_depth--. The upper half of slots,
// now redundant with the lower half, is simply no longer addressed.
func (d directory) shrink() {
	d.setGlobalDepth(d.globalDepth() - 1)
}
