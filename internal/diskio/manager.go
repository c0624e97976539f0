package diskio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/relkernel/storagecore/pkg/util"
)

// FileSet abstracts the segment files backing one logical page space, so
// the Manager never has to know whether pages live in one file or many.
type FileSet interface {
	OpenSegment(segNo int32) (*os.File, error)
}

var _ FileSet = (*LocalFileSet)(nil)

// LocalFileSet is a directory + base file name. Segments are stored as
// Base, Base.1, Base.2, ... once a segment fills up.
type LocalFileSet struct {
	Dir  string
	Base string
}

// OpenSegment opens (creating if absent) the segNo'th segment file.
func (lfs LocalFileSet) OpenSegment(segNo int32) (*os.File, error) {
	name := lfs.Base
	if segNo > 0 {
		name = fmt.Sprintf("%s.%d", lfs.Base, segNo)
	}
	if err := os.MkdirAll(lfs.Dir, FileMode0755); err != nil {
		return nil, err
	}
	path := filepath.Join(lfs.Dir, name)
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, FileMode0644)
}

// Manager is the disk-file page I/O primitive: it maps a page-id to
// (segment, offset) and performs the blocking ReadPage/WritePage this core
// treats as an external collaborator.
type Manager struct {
	fs FileSet
}

// NewManager binds a Manager to the file set it reads/writes pages through.
func NewManager(fs FileSet) *Manager {
	return &Manager{fs: fs}
}

func (m *Manager) locate(pageID PageID) (segNo int32, offset int64) {
	segNo = int32(pageID) / int32(PagesPerSegment)
	pageInSeg := int32(pageID) % int32(PagesPerSegment)
	offset = int64(pageInSeg) * PageSize
	return segNo, offset
}

// ReadPage reads exactly PageSize bytes for pageID into dst. Reads beyond
// the current end of file are zero-filled, so a never-written page reads
// back as all zeroes rather than failing.
func (m *Manager) ReadPage(pageID PageID, dst []byte) error {
	if len(dst) != PageSize {
		return ErrWrongSize
	}
	segNo, off := m.locate(pageID)
	f, err := m.fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.ReadAt(dst, off)
	if err != nil && err != io.EOF {
		return err
	}
	for i := n; i < PageSize; i++ {
		dst[i] = 0
	}
	return nil
}

// WritePage writes exactly PageSize bytes from src at pageID's location.
func (m *Manager) WritePage(pageID PageID, src []byte) error {
	if len(src) != PageSize {
		return ErrWrongSize
	}
	segNo, off := m.locate(pageID)
	f, err := m.fs.OpenSegment(segNo)
	if err != nil {
		return err
	}
	defer util.CloseFileFunc(f)

	n, err := f.WriteAt(src, off)
	if err != nil {
		return err
	}
	if n != PageSize {
		return io.ErrShortWrite
	}
	return nil
}

