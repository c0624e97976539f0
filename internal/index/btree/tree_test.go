package btree

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relkernel/storagecore/internal/bufferpool"
	"github.com/relkernel/storagecore/internal/diskio"
	"github.com/relkernel/storagecore/internal/index"
	"github.com/relkernel/storagecore/internal/index/catalog"
)

func newTestTree(t *testing.T, name string, leafMaxSize, internalMaxSize int) (*Tree, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "storagecore-btree-*")
	require.NoError(t, err)

	fs := diskio.LocalFileSet{Dir: dir, Base: "core.db"}
	pool := bufferpool.NewPool(diskio.NewManager(fs), 64, 1, 0)

	h := catalog.New(pool)
	require.NoError(t, h.Bootstrap())

	tree, err := Open(pool, h, name, leafMaxSize, internalMaxSize)
	require.NoError(t, err)

	return tree, func() { _ = os.RemoveAll(dir) }
}

func rid(n int64) index.RID { return index.RID{PageID: uint32(n), Slot: uint16(n % 7)} }

func TestTree_InsertThenGetRoundTrips(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 4, 4)
	defer cleanup()

	ok, err := tree.Insert(10, rid(10))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := tree.Get(10)
	require.NoError(t, err)
	require.Equal(t, []index.RID{rid(10)}, got)
}

func TestTree_GetOnEmptyTree(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 4, 4)
	defer cleanup()

	got, err := tree.Get(10)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTree_InsertDuplicateFails(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 4, 4)
	defer cleanup()

	ok, err := tree.Insert(10, rid(10))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tree.Insert(10, rid(99))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestTree_LeafSplitPromotesMiddleKey exercises the scenario of a
// three-entry leaf splitting on its fourth insert, with leaf_max_size=3:
// keys 10, 20, 30 fill the root leaf, and inserting 40 splits it in two,
// promoting 30 into a freshly created root. The mandated post-split
// structure is root=internal[30], left leaf=[10,20], right leaf=[30,40],
// linked by next_page_id.
func TestTree_LeafSplitPromotesMiddleKey(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 3, 3)
	defer cleanup()

	for _, k := range []int64{10, 20, 30, 40} {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for _, k := range []int64{10, 20, 30, 40} {
		got, err := tree.Get(k)
		require.NoError(t, err)
		require.Equal(t, []index.RID{rid(k)}, got)
	}

	rootPP, err := tree.pool.Fetch(tree.currentRoot())
	require.NoError(t, err)
	defer rootPP.Done(false)
	require.True(t, isInternal(rootPP.Buf()))

	root := newInternal(rootPP.Buf())
	require.Equal(t, 2, root.size())
	require.Equal(t, int64(30), root.keyAt(1))

	leftPP, err := tree.pool.Fetch(root.childAt(0))
	require.NoError(t, err)
	defer leftPP.Done(false)
	left := newLeaf(leftPP.Buf())
	require.Equal(t, 2, left.size())
	require.Equal(t, int64(10), left.keyAt(0))
	require.Equal(t, int64(20), left.keyAt(1))

	rightPP, err := tree.pool.Fetch(root.childAt(1))
	require.NoError(t, err)
	defer rightPP.Done(false)
	right := newLeaf(rightPP.Buf())
	require.Equal(t, 2, right.size())
	require.Equal(t, int64(30), right.keyAt(0))
	require.Equal(t, int64(40), right.keyAt(1))

	require.Equal(t, right.pageID(), left.nextPageID())
}

func TestTree_ManyInsertsRoundTrip(t *testing.T) {
	tree, cleanup := newTestTree(t, "wide_pk", 4, 4)
	defer cleanup()

	const n = 500
	for i := int64(0); i < n; i++ {
		ok, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := int64(0); i < n; i++ {
		got, err := tree.Get(i)
		require.NoError(t, err)
		require.Equal(t, []index.RID{rid(i)}, got)
	}
}

func TestTree_RemoveThenGetEmpty(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 4, 4)
	defer cleanup()

	_, err := tree.Insert(10, rid(10))
	require.NoError(t, err)

	removed, err := tree.Remove(10)
	require.NoError(t, err)
	require.True(t, removed)

	got, err := tree.Get(10)
	require.NoError(t, err)
	require.Nil(t, got)
	require.True(t, tree.IsEmpty())
}

func TestTree_RemoveMissingKeyIsNoop(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 4, 4)
	defer cleanup()

	_, err := tree.Insert(10, rid(10))
	require.NoError(t, err)

	removed, err := tree.Remove(999)
	require.NoError(t, err)
	require.False(t, removed)
}

// TestTree_DeleteTriggersBorrowFromLeftSibling builds two unevenly loaded
// leaf siblings with leaf_max_size=5 (min_size=3): 10/20/30/40/50/60 split
// the root leaf into left=[10,20,30]/right=[40,50,60], then 15 and 25
// grow the left leaf to five entries while the right stays at three —
// exactly min_size, with no spare key of its own. Removing 50 drops the
// right leaf to two entries, below min_size, and since left has more than
// it needs (5+2 > max_size=5), coalesceOrRedistributeLeaf borrows left's
// last key (30) into the right leaf rather than merging the two.
func TestTree_DeleteTriggersBorrowFromLeftSibling(t *testing.T) {
	tree, cleanup := newTestTree(t, "orders_pk", 5, 5)
	defer cleanup()

	for _, k := range []int64{10, 20, 30, 40, 50, 60, 15, 25} {
		_, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
	}

	removed, err := tree.Remove(50)
	require.NoError(t, err)
	require.True(t, removed)

	rootPP, err := tree.pool.Fetch(tree.currentRoot())
	require.NoError(t, err)
	defer rootPP.Done(false)
	require.True(t, isInternal(rootPP.Buf()))

	root := newInternal(rootPP.Buf())
	require.Equal(t, int64(30), root.keyAt(1))

	leftPP, err := tree.pool.Fetch(root.childAt(0))
	require.NoError(t, err)
	defer leftPP.Done(false)
	left := newLeaf(leftPP.Buf())
	require.Equal(t, 4, left.size())
	require.Equal(t, []int64{10, 15, 20, 25}, leafKeys(left))

	rightPP, err := tree.pool.Fetch(root.childAt(1))
	require.NoError(t, err)
	defer rightPP.Done(false)
	right := newLeaf(rightPP.Buf())
	require.Equal(t, 3, right.size())
	require.Equal(t, []int64{30, 40, 60}, leafKeys(right))

	for _, k := range []int64{10, 15, 20, 25, 30, 40, 60} {
		got, err := tree.Get(k)
		require.NoError(t, err)
		require.Equal(t, []index.RID{rid(k)}, got)
	}
	got, err := tree.Get(50)
	require.NoError(t, err)
	require.Nil(t, got)
}

func leafKeys(l leaf) []int64 {
	keys := make([]int64, l.size())
	for i := range keys {
		keys[i] = l.keyAt(i)
	}
	return keys
}

func TestTree_InsertRemoveManyStaysConsistent(t *testing.T) {
	tree, cleanup := newTestTree(t, "churn_pk", 4, 4)
	defer cleanup()

	const n = 300
	for i := int64(0); i < n; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}
	for i := int64(0); i < n; i += 2 {
		removed, err := tree.Remove(i)
		require.NoError(t, err)
		require.True(t, removed)
	}

	for i := int64(1); i < n; i += 2 {
		got, err := tree.Get(i)
		require.NoError(t, err)
		require.Equal(t, []index.RID{rid(i)}, got)
	}
	for i := int64(0); i < n; i += 2 {
		got, err := tree.Get(i)
		require.NoError(t, err)
		require.Nil(t, got)
	}
}

func TestTree_RemoveAllCollapsesToEmpty(t *testing.T) {
	tree, cleanup := newTestTree(t, "draining_pk", 4, 4)
	defer cleanup()

	const n = 100
	for i := int64(0); i < n; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}
	for i := int64(0); i < n; i++ {
		removed, err := tree.Remove(i)
		require.NoError(t, err)
		require.True(t, removed)
	}
	require.True(t, tree.IsEmpty())
}

func TestTree_IteratorYieldsKeysInOrder(t *testing.T) {
	tree, cleanup := newTestTree(t, "scan_pk", 4, 4)
	defer cleanup()

	const n = 100
	for i := int64(1); i <= n; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	defer it.Close()

	var prev KeyType
	count := 0
	for it.Valid() {
		k, v := it.Item()
		if count > 0 {
			require.Greater(t, k, prev)
		}
		require.Equal(t, rid(k), v)
		prev = k
		count++
		require.NoError(t, it.Next())
	}
	require.Equal(t, n, count)
}

func TestTree_IteratorBeginAtRangeScan(t *testing.T) {
	tree, cleanup := newTestTree(t, "scan_pk", 4, 4)
	defer cleanup()

	for i := int64(1); i <= 100; i++ {
		_, err := tree.Insert(i, rid(i))
		require.NoError(t, err)
	}

	it, err := tree.BeginAt(50)
	require.NoError(t, err)
	defer it.Close()

	for want := int64(50); want < 60; want++ {
		require.True(t, it.Valid())
		k, _ := it.Item()
		require.Equal(t, want, k)
		require.NoError(t, it.Next())
	}
}

func TestTree_IteratorOnEmptyTreeIsImmediatelyAtEnd(t *testing.T) {
	tree, cleanup := newTestTree(t, "empty_pk", 4, 4)
	defer cleanup()

	it, err := tree.Begin()
	require.NoError(t, err)
	require.False(t, it.Valid())
}
