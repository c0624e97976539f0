package hash

import (
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/catalog"
)

// registry tracks every live Table by its generated identity, distinct
// from its on-disk display name, so two tables opened against the same
// name in different test runs never collide in-process: Open evicts
// and closes whatever stale handle is still registered under name
// before installing the new one.
var (
	registryMu sync.Mutex
	registry   = map[uuid.UUID]*Table{}
)

// Lookup resolves a live Table by its generated identity, for callers
// that only have an ID (e.g. carried across a message or log line) and
// need the handle back.
func Lookup(id uuid.UUID) (*Table, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	t, ok := registry[id]
	return t, ok
}

// closeStaleByName deregisters whatever Table is currently registered
// under name, if any, so Open can replace it without leaving an orphaned
// entry in the registry.
func closeStaleByName(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for id, t := range registry {
		if t.Name == name {
			delete(registry, id)
			slog.Debug("hash: evicted stale table handle", "table", name, "id", id)
		}
	}
}

// Table is an extendible hash index: a single directory page whose
// global depth grows and shrinks as fixed-capacity buckets split and merge.
type Table struct {
	ID   uuid.UUID
	Name string

	pool    *bufferpool.Pool
	header  *catalog.Header
	dirPage diskio.PageID
	bktCap  int
}

// Open attaches a Table to name, creating a fresh directory (and its
// single initial bucket) if name has never been registered in the
// header page, or loading the existing directory page-id otherwise.
// bucketCapacity sets the bucket slot count (config.Index.HashBuckets);
// a value <= 0 falls back to DefaultBucketArraySize. An existing
// directory's buckets were already laid out with whatever capacity
// created them, so bucketCapacity must stay the same across every Open
// of a given name.
func Open(pool *bufferpool.Pool, header *catalog.Header, name string, bucketCapacity int) (*Table, error) {
	if bucketCapacity <= 0 {
		bucketCapacity = DefaultBucketArraySize
	}
	closeStaleByName(name)

	t := &Table{
		ID:     uuid.New(),
		Name:   name,
		pool:   pool,
		header: header,
		bktCap: bucketCapacity,
	}

	id, err := header.GetRootID(name)
	switch {
	case err == nil:
		t.dirPage = id
	case errors.Is(err, catalog.ErrNotFound):
		dirPP, err := pool.New()
		if err != nil {
			return nil, err
		}
		bucketPP, err := pool.New()
		if err != nil {
			dirPP.Done(false)
			return nil, err
		}
		newBucket(bucketPP.Buf(), t.bktCap).reset()
		newDirectory(dirPP.Buf()).init(bucketPP.PageID())
		bucketPP.Done(true)
		dirPP.Done(true)

		t.dirPage = dirPP.PageID()
		if _, err := header.InsertRecord(name, t.dirPage); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	registryMu.Lock()
	registry[t.ID] = t
	registryMu.Unlock()
	return t, nil
}

// Close deregisters t from the in-process registry. It does not touch
// any on-disk state; the directory and buckets stay exactly as they
// are, ready for a future Open of the same name.
func (t *Table) Close() {
	registryMu.Lock()
	delete(registry, t.ID)
	registryMu.Unlock()
}

func fingerprint(key int64) uint32 {
	h := fnv.New32a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(key >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return h.Sum32()
}

// Get returns every value stored under key.
func (t *Table) Get(key int64) ([]index.RID, error) {
	dirPP, err := t.pool.Fetch(t.dirPage)
	if err != nil {
		return nil, err
	}
	dir := newDirectory(dirPP.Buf())
	idx := dir.bucketIndex(fingerprint(key))
	bucketPageID := dir.bucketPageID(idx)
	dirPP.Done(false)

	bucketPP, err := t.pool.Fetch(bucketPageID)
	if err != nil {
		return nil, err
	}
	defer bucketPP.Done(false)
	return newBucket(bucketPP.Buf(), t.bktCap).GetValue(key), nil
}

// Insert adds (key, value), splitting buckets and doubling the directory
// as many times as needed to make room.
func (t *Table) Insert(key int64, value index.RID) (bool, error) {
	fp := fingerprint(key)

	for {
		dirPP, err := t.pool.Fetch(t.dirPage)
		if err != nil {
			return false, err
		}
		dir := newDirectory(dirPP.Buf())
		idx := dir.bucketIndex(fp)
		bucketPageID := dir.bucketPageID(idx)

		bucketPP, err := t.pool.Fetch(bucketPageID)
		if err != nil {
			dirPP.Done(false)
			return false, err
		}
		b := newBucket(bucketPP.Buf(), t.bktCap)

		if !b.IsFull() {
			ok := b.Insert(key, value)
			bucketPP.Done(ok)
			dirPP.Done(false)
			return ok, nil
		}

		if err := t.splitLocked(dir, dirPP, idx, bucketPP); err != nil {
			return false, err
		}
		// Directory/bucket layout changed; refetch and retry from scratch.
	}
}

// splitLocked grows the directory if needed, allocates the two daughter
// buckets, redistributes the full bucket's entries, and releases the
// pins it was handed. Caller must retry the insert after this returns.
func (t *Table) splitLocked(dir directory, dirPP *bufferpool.PinnedPage, idx uint32, fullPP *bufferpool.PinnedPage) error {
	localDepth := dir.localDepth(idx)
	if uint32(localDepth) == dir.globalDepth() {
		dir.grow()
		slog.Debug("hash: directory grew", "table", t.Name, "global_depth", dir.globalDepth())
	}

	b0PP, err := t.pool.New()
	if err != nil {
		dirPP.Done(true)
		fullPP.Done(false)
		return err
	}
	b1PP, err := t.pool.New()
	if err != nil {
		b0PP.Done(false)
		_ = t.pool.DeletePage(b0PP.PageID())
		dirPP.Done(true)
		fullPP.Done(false)
		return err
	}
	newBucket(b0PP.Buf(), t.bktCap).reset()
	newBucket(b1PP.Buf(), t.bktCap).reset()

	newDepth := localDepth + 1
	lowIdx := idx &^ (1 << (newDepth - 1))
	highIdx := lowIdx | (1 << (newDepth - 1))

	// Every directory slot pointing at the bucket being split shares only
	// its low localDepth bits with idx; bits at or above localDepth vary
	// freely across those slots whenever localDepth < globalDepth. Starting
	// each loop at lowIdx/highIdx directly (rather than their residue mod
	// step) would carry idx's higher bits along and skip the slots that
	// don't happen to share them, leaving stale pointers at the deleted
	// bucket. Reducing to the residue before striding fixes that, mirroring
	// the %step arithmetic Remove already uses to re-point the survivor.
	step := uint32(1) << newDepth
	size := dir.size()
	for i := lowIdx % step; i < size; i += step {
		dir.setBucketPageID(i, b0PP.PageID())
		dir.setLocalDepth(i, newDepth)
	}
	for i := highIdx % step; i < size; i += step {
		dir.setBucketPageID(i, b1PP.PageID())
		dir.setLocalDepth(i, newDepth)
	}

	splitBit := uint32(1) << (newDepth - 1)
	full := newBucket(fullPP.Buf(), t.bktCap)
	b0 := newBucket(b0PP.Buf(), t.bktCap)
	b1 := newBucket(b1PP.Buf(), t.bktCap)
	for _, e := range full.entries() {
		target := b0
		// Every entry here already shares idx's low localDepth bits (that's
		// why it landed in this bucket); only the new split bit decides
		// which daughter it goes to, not the entry's own higher bits, which
		// can legitimately differ from idx's whenever localDepth < globalDepth.
		if dir.bucketIndex(fingerprint(e.Key))&splitBit != 0 {
			target = b1
		}
		target.Insert(e.Key, e.Value)
	}

	oldBucketPageID := fullPP.PageID()
	fullPP.Done(false)
	b0PP.Done(true)
	b1PP.Done(true)
	dirPP.Done(true)
	_ = t.pool.DeletePage(oldBucketPageID)
	slog.Debug("hash: bucket split", "table", t.Name, "old_bucket", oldBucketPageID)
	return nil
}

// Remove deletes the exact (key, value) pair, coalescing the emptied
// bucket with its split image when possible.
func (t *Table) Remove(key int64, value index.RID) (bool, error) {
	fp := fingerprint(key)

	dirPP, err := t.pool.Fetch(t.dirPage)
	if err != nil {
		return false, err
	}
	dir := newDirectory(dirPP.Buf())
	idx := dir.bucketIndex(fp)
	bucketPageID := dir.bucketPageID(idx)

	bucketPP, err := t.pool.Fetch(bucketPageID)
	if err != nil {
		dirPP.Done(false)
		return false, err
	}
	b := newBucket(bucketPP.Buf(), t.bktCap)
	removed := b.Remove(key, value)

	if !removed || dir.localDepth(idx) == 0 || !b.IsEmpty() {
		bucketPP.Done(removed)
		dirPP.Done(false)
		return removed, nil
	}

	siblingIdx := dir.splitImageIndex(idx)
	if dir.localDepth(siblingIdx) != dir.localDepth(idx) {
		bucketPP.Done(true)
		dirPP.Done(false)
		return true, nil
	}

	survivorIdx := idx
	deadBucketPageID := dir.bucketPageID(idx)
	if siblingIdx < idx {
		survivorIdx = siblingIdx
	}
	survivorBucketPageID := dir.bucketPageID(survivorIdx)

	newDepth := dir.localDepth(survivorIdx) - 1
	step := uint32(1) << newDepth
	size := dir.size()
	for i := survivorIdx % step; i < size; i += step {
		dir.setBucketPageID(i, survivorBucketPageID)
		dir.setLocalDepth(i, newDepth)
	}

	bucketPP.Done(true)
	_ = t.pool.DeletePage(deadBucketPageID)

	if dir.canShrink() {
		dir.shrink()
		slog.Debug("hash: directory shrank", "table", t.Name, "global_depth", dir.globalDepth())
	}

	dirPP.Done(true)
	slog.Debug("hash: buckets coalesced", "table", t.Name, "survivor", survivorBucketPageID)
	return true, nil
}

// VerifyIntegrity checks testable property 3: every local depth is at
// most the global depth, and the distinct bucket pages, weighted by the
// fan-in 2^(global_depth-local_depth) their directory slots imply, sum
// to exactly the directory's size.
func (t *Table) VerifyIntegrity() (bool, error) {
	dirPP, err := t.pool.Fetch(t.dirPage)
	if err != nil {
		return false, err
	}
	defer dirPP.Done(false)
	dir := newDirectory(dirPP.Buf())

	gd := dir.globalDepth()
	seen := mapset.NewSet[diskio.PageID]()
	fanIn := 0
	totalReadable := 0
	for i := uint32(0); i < dir.size(); i++ {
		ld := dir.localDepth(i)
		if uint32(ld) > gd {
			return false, nil
		}
		pageID := dir.bucketPageID(i)
		if !seen.Contains(pageID) {
			seen.Add(pageID)
			fanIn += 1 << (gd - uint32(ld))

			bucketPP, err := t.pool.Fetch(pageID)
			if err != nil {
				return false, err
			}
			readable := newBucket(bucketPP.Buf(), t.bktCap).NumReadable()
			bucketPP.Done(false)
			if readable > t.bktCap {
				return false, nil
			}
			totalReadable += readable
		}
	}
	slog.Debug("hash: integrity check", "table", t.Name, "buckets", seen.Cardinality(), "readable_entries", totalReadable)
	return fanIn == int(dir.size()), nil
}
