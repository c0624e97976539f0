// Package catalog implements the header page: the single page, always
// at page-id 0, that maps an index's name to its current root page-id.
// It is the only catalog-like structure this core owns; everything else
// about naming rows and tables belongs to the table heap and catalog
// layer, which are out of scope here.
package catalog

import (
	"errors"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/bx"
	"github.com/relkernel/storagecore/internal/diskio"
)

// HeaderPageID is the fixed page-id of the header page, grounded on
// BusTub's convention of reserving page 0 for this purpose.
const HeaderPageID diskio.PageID = 0

// ErrNameTooLong is returned when an index name does not fit in a record
// slot's fixed-width name field.
var ErrNameTooLong = errors.New("catalog: index name too long")

// ErrNotFound is returned when GetRootID finds no record for the name.
var ErrNotFound = errors.New("catalog: index name not found")

const (
	nameFieldLen  = 32
	recordLen     = nameFieldLen + 4 // name + root_page_id (int32)
	countOffset   = 0
	recordsOffset = 4
)

func maxRecords() int {
	return (diskio.PageSize - recordsOffset) / recordLen
}

// Header implements the InsertRecord/UpdateRecord/GetRootID contract over
// the header page's raw bytes, fetching and unpinning that page through
// the pool on every call.
type Header struct {
	pool *bufferpool.Pool
}

// New wraps pool's header page. The caller is responsible for reserving
// HeaderPageID in the pool before any index allocates a page; Bootstrap
// does that.
func New(pool *bufferpool.Pool) *Header {
	return &Header{pool: pool}
}

// Bootstrap reserves HeaderPageID in the pool's page-id allocator via
// NewPage, so no index page is ever issued page 0. On a pristine pool that
// first NewPage lands on page 0; its zeroed in-memory copy is dropped again
// so the next fetch reads the header bytes already on disk (all zeroes for
// a brand new file). A repeated call allocates and discards one more id.
func (h *Header) Bootstrap() error {
	pp, err := h.pool.New()
	if err != nil {
		return err
	}
	pageID := pp.PageID()
	pp.Done(false)
	if pageID == HeaderPageID {
		_ = h.pool.DeletePage(HeaderPageID)
	}
	return nil
}

// InsertRecord adds a new (name, rootPageID) record. Returns false if
// name already has a record (use UpdateRecord instead) or the page is full.
func (h *Header) InsertRecord(name string, rootPageID diskio.PageID) (bool, error) {
	if len(name) > nameFieldLen {
		return false, ErrNameTooLong
	}
	pp, err := h.pool.Fetch(HeaderPageID)
	if err != nil {
		return false, err
	}
	defer pp.Done(true)

	buf := pp.Buf()
	count := int(bx.U32At(buf, countOffset))
	for i := 0; i < count; i++ {
		if recordName(buf, i) == name {
			return false, nil
		}
	}
	if count >= maxRecords() {
		return false, nil
	}

	writeRecord(buf, count, name, rootPageID)
	bx.PutU32At(buf, countOffset, uint32(count+1))
	return true, nil
}

// UpdateRecord overwrites the root page-id for an existing name. Returns
// false if name has no record.
func (h *Header) UpdateRecord(name string, rootPageID diskio.PageID) (bool, error) {
	pp, err := h.pool.Fetch(HeaderPageID)
	if err != nil {
		return false, err
	}
	defer pp.Done(true)

	buf := pp.Buf()
	count := int(bx.U32At(buf, countOffset))
	for i := 0; i < count; i++ {
		if recordName(buf, i) == name {
			writeRecord(buf, i, name, rootPageID)
			return true, nil
		}
	}
	return false, nil
}

// GetRootID returns the root page-id registered for name.
func (h *Header) GetRootID(name string) (diskio.PageID, error) {
	pp, err := h.pool.Fetch(HeaderPageID)
	if err != nil {
		return diskio.InvalidPageID, err
	}
	defer pp.Done(false)

	buf := pp.Buf()
	count := int(bx.U32At(buf, countOffset))
	for i := 0; i < count; i++ {
		if recordName(buf, i) == name {
			return diskio.PageID(bx.I32(buf[recordOffset(i)+nameFieldLen:])), nil
		}
	}
	return diskio.InvalidPageID, ErrNotFound
}

func recordOffset(i int) int {
	return recordsOffset + i*recordLen
}

func recordName(buf []byte, i int) string {
	off := recordOffset(i)
	raw := buf[off : off+nameFieldLen]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

func writeRecord(buf []byte, i int, name string, rootPageID diskio.PageID) {
	off := recordOffset(i)
	nameField := buf[off : off+nameFieldLen]
	for j := range nameField {
		nameField[j] = 0
	}
	copy(nameField, name)
	bx.PutU32At(buf, off+nameFieldLen, uint32(int32(rootPageID)))
}
