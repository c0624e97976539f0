// Package btree implements the B+ tree index: ordered internal and leaf
// pages supporting point lookup, range iteration, insertion with
// splitting, and deletion with redistribution/coalescing.
package btree

import (
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/diskio"
)

// KeyType is fixed to int64 for this core, mirroring the teacher's
// btree.KeyType and the reference kernel's integer-keyed template
// instantiation.
type KeyType = int64

// pageType tags what a tree page's bytes decode as.
type pageType uint8

const (
	pageInvalid  pageType = 0
	pageLeaf     pageType = 1
	pageInternal pageType = 2
)

// Common page header, present at the start of every tree page:
// page_type, lsn (reserved, unused by this core), size, max_size,
// parent_page_id, page_id. Leaves append next_page_id after this.
const (
	offPageType     = 0
	offLSN          = 4
	offSize         = 8
	offMaxSize      = 12
	offParentPageID = 16
	offPageID       = 20
	commonHeaderLen = 24
)

// header is the shared accessor set both leaf and internal views embed.
type header struct {
	buf []byte
}

func (h header) pageType() pageType {
	return pageType(h.buf[offPageType])
}

func (h header) setPageType(t pageType) {
	h.buf[offPageType] = byte(t)
}

func (h header) size() int {
	return int(bx.I32(h.buf[offSize:]))
}

func (h header) setSize(n int) {
	bx.PutU32At(h.buf, offSize, uint32(n))
}

func (h header) maxSize() int {
	return int(bx.I32(h.buf[offMaxSize:]))
}

func (h header) setMaxSize(n int) {
	bx.PutU32At(h.buf, offMaxSize, uint32(n))
}

func (h header) parentPageID() diskio.PageID {
	return diskio.PageID(bx.I32(h.buf[offParentPageID:]))
}

func (h header) setParentPageID(id diskio.PageID) {
	bx.PutU32At(h.buf, offParentPageID, uint32(int32(id)))
}

func (h header) pageID() diskio.PageID {
	return diskio.PageID(bx.I32(h.buf[offPageID:]))
}

func (h header) setPageID(id diskio.PageID) {
	bx.PutU32At(h.buf, offPageID, uint32(int32(id)))
}

// isLeaf/isInternal let callers branch on a fetched page's type without
// committing to a view before they know which one applies.
func isLeaf(buf []byte) bool     { return header{buf}.pageType() == pageLeaf }
func isInternal(buf []byte) bool { return header{buf}.pageType() == pageInternal }

// minSize is ceil(maxSize/2), the floor every non-root node must stay at
// or above after a delete.
func minSize(maxSize int) int {
	return (maxSize + 1) / 2
}
