package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplacer_VictimIsOldestUnpinned(t *testing.T) {
	r := newReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(3)
	require.Equal(t, 3, r.Size())

	fid, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(1), fid)
	require.Equal(t, 2, r.Size())

	fid, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(2), fid)
}

func TestReplacer_PinRemovesFromVictimPool(t *testing.T) {
	r := newReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	require.Equal(t, 1, r.Size())

	fid, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(2), fid)
}

func TestReplacer_PinOnAbsentFrameIsNoop(t *testing.T) {
	r := newReplacer()
	r.Pin(42)
	require.Equal(t, 0, r.Size())
}

func TestReplacer_RepeatedUnpinDoesNotReorder(t *testing.T) {
	r := newReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Unpin(1) // already evictable, position unchanged

	fid, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(1), fid)
}

func TestReplacer_VictimOnEmptyReplacer(t *testing.T) {
	r := newReplacer()
	_, ok := r.Victim()
	require.False(t, ok)
}

func TestReplacer_ReunpinAfterPinGoesToBack(t *testing.T) {
	r := newReplacer()

	r.Unpin(1)
	r.Unpin(2)
	r.Pin(1)
	r.Unpin(1) // 1 is evictable again, now behind 2

	fid, ok := r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(2), fid)

	fid, ok = r.Victim()
	require.True(t, ok)
	require.Equal(t, frameID(1), fid)
}
