package hash

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/catalog"
)

func newTestTable(t *testing.T, name string) (*Table, func()) {
	return newTestTableWithCapacity(t, name, DefaultBucketArraySize)
}

func newTestTableWithCapacity(t *testing.T, name string, bucketCapacity int) (*Table, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "storagecore-hash-*")
	require.NoError(t, err)

	fs := diskio.LocalFileSet{Dir: dir, Base: "core.db"}
	pool := bufferpool.NewPool(diskio.NewManager(fs), 32, 1, 0)

	h := catalog.New(pool)
	require.NoError(t, h.Bootstrap())

	tbl, err := Open(pool, h, name, bucketCapacity)
	require.NoError(t, err)

	return tbl, func() { _ = os.RemoveAll(dir) }
}

func TestTable_InsertThenGetRoundTrips(t *testing.T) {
	tbl, cleanup := newTestTable(t, "orders_hash")
	defer cleanup()

	ok, err := tbl.Insert(42, index.RID{PageID: 1, Slot: 0})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := tbl.Get(42)
	require.NoError(t, err)
	require.Equal(t, []index.RID{{PageID: 1, Slot: 0}}, got)
}

func TestTable_OpenEvictsStaleHandleForSameName(t *testing.T) {
	tbl, cleanup := newTestTable(t, "orders_hash")
	defer cleanup()

	firstID := tbl.ID
	_, ok := Lookup(firstID)
	require.True(t, ok)

	second, err := Open(tbl.pool, tbl.header, "orders_hash", DefaultBucketArraySize)
	require.NoError(t, err)
	require.NotEqual(t, firstID, second.ID)

	_, ok = Lookup(firstID)
	require.False(t, ok)
	_, ok = Lookup(second.ID)
	require.True(t, ok)

	second.Close()
	_, ok = Lookup(second.ID)
	require.False(t, ok)
}

func TestTable_InsertDuplicateFails(t *testing.T) {
	tbl, cleanup := newTestTable(t, "orders_hash")
	defer cleanup()

	rid := index.RID{PageID: 1, Slot: 0}
	ok, err := tbl.Insert(42, rid)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tbl.Insert(42, rid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTable_ManyInsertsRoundTripAndStayIntegral(t *testing.T) {
	tbl, cleanup := newTestTable(t, "wide_hash")
	defer cleanup()

	const n = 2000
	for i := int64(0); i < n; i++ {
		ok, err := tbl.Insert(i, index.RID{PageID: uint32(i), Slot: uint16(i % 7)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	for i := int64(0); i < n; i++ {
		got, err := tbl.Get(i)
		require.NoError(t, err)
		require.Equal(t, []index.RID{{PageID: uint32(i), Slot: uint16(i % 7)}}, got)
	}

	ok, err := tbl.VerifyIntegrity()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTable_RemoveThenGetEmpty(t *testing.T) {
	tbl, cleanup := newTestTable(t, "orders_hash")
	defer cleanup()

	rid := index.RID{PageID: 1, Slot: 0}
	_, err := tbl.Insert(42, rid)
	require.NoError(t, err)

	removed, err := tbl.Remove(42, rid)
	require.NoError(t, err)
	require.True(t, removed)

	got, err := tbl.Get(42)
	require.NoError(t, err)
	require.Empty(t, got)
}

// TestTable_SmallBucketCapacityGrowsDirectory exercises the directory
// growth path with a bucket capacity far below DefaultBucketArraySize:
// with only 2 slots per bucket, a handful of distinct keys is enough to
// force at least one split, which this config.Index.HashBuckets-sized
// table reaches in the ordinary Insert loop rather than needing the
// 2000-key volume TestTable_ManyInsertsRoundTripAndStayIntegral relies on.
func TestTable_SmallBucketCapacityGrowsDirectory(t *testing.T) {
	tbl, cleanup := newTestTableWithCapacity(t, "small_bucket_hash", 2)
	defer cleanup()

	const n = 20
	for i := int64(0); i < n; i++ {
		ok, err := tbl.Insert(i, index.RID{PageID: uint32(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	dirPP, err := tbl.pool.Fetch(tbl.dirPage)
	require.NoError(t, err)
	gd := newDirectory(dirPP.Buf()).globalDepth()
	dirPP.Done(false)
	require.Greater(t, gd, uint32(0))

	for i := int64(0); i < n; i++ {
		got, err := tbl.Get(i)
		require.NoError(t, err)
		require.Equal(t, []index.RID{{PageID: uint32(i)}}, got)
	}

	ok, err := tbl.VerifyIntegrity()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTable_InsertRemoveManyStaysIntegral(t *testing.T) {
	tbl, cleanup := newTestTable(t, "churn_hash")
	defer cleanup()

	const n = 1000
	for i := int64(0); i < n; i++ {
		_, err := tbl.Insert(i, index.RID{PageID: uint32(i)})
		require.NoError(t, err)
	}
	for i := int64(0); i < n; i += 2 {
		removed, err := tbl.Remove(i, index.RID{PageID: uint32(i)})
		require.NoError(t, err)
		require.True(t, removed)
	}

	for i := int64(1); i < n; i += 2 {
		got, err := tbl.Get(i)
		require.NoError(t, err)
		require.Equal(t, []index.RID{{PageID: uint32(i)}}, got)
	}

	ok, err := tbl.VerifyIntegrity()
	require.NoError(t, err)
	require.True(t, ok)
}
