package bitmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/blockdev"
)

func newTestBitmap(t *testing.T, totalBlocks, reserved uint32) (*Bitmap, *bcache.Cache) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.Create(path, totalBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	cache := bcache.New(dev, bcache.DefaultCapacity)
	bm := New(cache, totalBlocks, 0, reserved)
	bm.Initialize()
	return bm, cache
}

func TestInitializeReservesLeadingBlocks(t *testing.T) {
	bm, _ := newTestBitmap(t, 64, 4)
	for i := uint32(0); i < 4; i++ {
		require.True(t, bm.IsAllocated(i))
	}
	require.False(t, bm.IsAllocated(4))
	require.EqualValues(t, 60, bm.FreeCount())
}

func TestAllocateOneReturnsLowestFreeIndex(t *testing.T) {
	bm, _ := newTestBitmap(t, 16, 2)
	idx, err := bm.AllocateOne()
	require.NoError(t, err)
	require.EqualValues(t, 2, idx)

	idx2, err := bm.AllocateOne()
	require.NoError(t, err)
	require.EqualValues(t, 3, idx2)
}

func TestAllocateContiguousFirstFit(t *testing.T) {
	bm, _ := newTestBitmap(t, 16, 2)

	// Allocate and free blocks 2,3 individually to create a hole pattern,
	// then confirm allocate_contiguous finds the lowest-index run.
	b1, err := bm.AllocateOne()
	require.NoError(t, err)
	require.EqualValues(t, 2, b1)
	b2, err := bm.AllocateOne()
	require.NoError(t, err)
	require.EqualValues(t, 3, b2)
	bm.FreeOne(b1)
	bm.FreeOne(b2)

	start, err := bm.AllocateContiguous(2)
	require.NoError(t, err)
	require.EqualValues(t, 2, start)
}

func TestAllocateContiguousFailsWhenNoRunFits(t *testing.T) {
	bm, _ := newTestBitmap(t, 8, 2)
	_, err := bm.AllocateContiguous(100)
	require.Error(t, err)
}

func TestFreeingReservedBlockIsNoOp(t *testing.T) {
	bm, _ := newTestBitmap(t, 16, 2)
	before := bm.FreeCount()
	bm.FreeOne(0)
	require.Equal(t, before, bm.FreeCount())
	require.True(t, bm.IsAllocated(0))
}

func TestOutOfRangeReportsAllocated(t *testing.T) {
	bm, _ := newTestBitmap(t, 16, 2)
	require.True(t, bm.IsAllocated(1000))
}

func TestSaveLoadRoundTripsFreeCount(t *testing.T) {
	bm, cache := newTestBitmap(t, 32, 2)
	_, err := bm.AllocateContiguous(5)
	require.NoError(t, err)
	require.NoError(t, bm.Save())

	loaded := New(cache, 32, 0, 2)
	require.NoError(t, loaded.Load())
	require.Equal(t, bm.FreeCount(), loaded.FreeCount())
}

func TestMarkAllocatedRejectsAlreadyAllocated(t *testing.T) {
	bm, _ := newTestBitmap(t, 16, 2)
	_, err := bm.AllocateOne()
	require.NoError(t, err)
	require.False(t, bm.MarkAllocated(2, 1), "block 2 is already allocated")
	require.True(t, bm.MarkAllocated(4, 2))
}
