package inode

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/bitmap"
	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/ferr"
)

func newTestManager(t *testing.T, totalBlocks, capacity uint32) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := blockdev.Create(path, totalBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	cache := bcache.New(dev, bcache.DefaultCapacity)
	tableBlocks := (capacity*uint32(Size) + blockdev.BlockSize - 1) / blockdev.BlockSize
	tableStart := uint32(1)
	reserved := tableStart + tableBlocks

	bm := bitmap.New(cache, totalBlocks, 0, reserved)
	bm.Initialize()

	mgr := New(cache, bm, tableStart, tableBlocks, capacity)
	require.NoError(t, mgr.Initialize())
	require.NoError(t, mgr.Bootstrap(1000))
	return mgr
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	n := &Inode{
		ID:         3,
		Type:       TypeFile,
		Size:       4096,
		StartBlock: 10,
		BlockCount: 1,
		ParentID:   1,
		CreateTime: 111,
		ModifyTime: 222,
		Name:       "hello.txt",
	}
	buf := n.Encode()
	require.Len(t, buf, Size)

	got, err := DecodeInode(buf)
	require.NoError(t, err)
	require.Equal(t, n, got)
}

func TestValidateNameRejectsIllegalCharacters(t *testing.T) {
	require.NoError(t, ValidateName("ok_name-1.txt"))
	require.Error(t, ValidateName(""))
	require.Error(t, ValidateName("bad/name"))
	require.Error(t, ValidateName("bad:name"))
}

func TestBootstrapCreatesSelfLinkedRoot(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	root, err := mgr.Get(RootID)
	require.NoError(t, err)
	require.True(t, root.IsDirectory())
	require.Equal(t, uint32(RootID), root.ParentID)

	entries, err := mgr.ListDirectory(RootID)
	require.NoError(t, err)
	names := map[string]uint32{}
	for _, e := range entries {
		names[e.Name] = e.InodeID
	}
	require.Equal(t, uint32(RootID), names["."])
	require.Equal(t, uint32(RootID), names[".."])
}

func TestCreateFileRejectsDuplicateName(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.CreateFile(RootID, "a.txt", nil, 1000)
	require.NoError(t, err)
	_, err = mgr.CreateFile(RootID, "a.txt", nil, 1001)
	require.ErrorIs(t, err, ferr.ErrExists)
}

func TestCreateDirectorySeedsDotEntries(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	d, err := mgr.CreateDirectory(RootID, "sub")
	require.NoError(t, err)

	entries, err := mgr.ListDirectory(d.ID)
	require.NoError(t, err)
	found := map[string]uint32{}
	for _, e := range entries {
		found[e.Name] = e.InodeID
	}
	require.Equal(t, d.ID, found["."])
	require.Equal(t, uint32(RootID), found[".."])
}

func TestCreateFileLeavesNoPhantomEntryWhenDeviceIsFull(t *testing.T) {
	// 3 blocks total, 2 reserved for bitmap+inode table; Bootstrap consumes
	// the one remaining free block for the root directory's own page,
	// leaving zero free blocks for a new file's extent.
	mgr := newTestManager(t, 3, 16)

	_, err := mgr.CreateFile(RootID, "a.txt", nil, 1000)
	require.ErrorIs(t, err, ferr.ErrNoSpace)

	entries, err := mgr.ListDirectory(RootID)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, "a.txt", e.Name, "failed create must not leave a phantom directory entry")
	}
	require.Len(t, entries, 2, "only \".\" and \"..\" should remain")

	// A retry with the same name must fail with NoSpace again, not Exists,
	// confirming the dir page's in-memory cache has no phantom entry.
	_, err = mgr.CreateFile(RootID, "a.txt", nil, 1001)
	require.ErrorIs(t, err, ferr.ErrNoSpace)
}

func TestCreateFileAllocatesAtLeastOneBlockWhenEmpty(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	f, err := mgr.CreateFile(RootID, "empty.bin", nil, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 1, f.BlockCount)
	require.EqualValues(t, 0, f.Size)

	got, err := mgr.Read(f.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCreateFileSizesExtentToInitialContent(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	content := make([]byte, blockdev.BlockSize+10)
	for i := range content {
		content[i] = byte(i)
	}
	f, err := mgr.CreateFile(RootID, "seeded.bin", content, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 2, f.BlockCount)
	require.EqualValues(t, len(content), f.Size)

	got, err := mgr.Read(f.ID)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	f, err := mgr.CreateFile(RootID, "data.bin", nil, 1000)
	require.NoError(t, err)

	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, mgr.Write(f.ID, content, 2000))

	got, err := mgr.Read(f.ID)
	require.NoError(t, err)
	require.Equal(t, content, got)

	updated, err := mgr.Get(f.ID)
	require.NoError(t, err)
	require.EqualValues(t, len(content), updated.Size)
	require.EqualValues(t, 2000, updated.ModifyTime)
}

func TestResizeGrowsInPlaceWhenTailIsFree(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	f, err := mgr.CreateFile(RootID, "grow.bin", nil, 1000)
	require.NoError(t, err)

	small := make([]byte, blockdev.BlockSize)
	require.NoError(t, mgr.Write(f.ID, small, 1001))
	before, err := mgr.Get(f.ID)
	require.NoError(t, err)

	big := make([]byte, blockdev.BlockSize*2)
	require.NoError(t, mgr.Write(f.ID, big, 1002))
	after, err := mgr.Get(f.ID)
	require.NoError(t, err)

	require.Equal(t, before.StartBlock, after.StartBlock, "in-place extension keeps the same start block")
	require.EqualValues(t, 2, after.BlockCount)
}

func TestResizeRelocatesWhenTailIsOccupied(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	a, err := mgr.CreateFile(RootID, "a.bin", nil, 1000)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(a.ID, make([]byte, blockdev.BlockSize), 1001))

	// Occupy the block immediately after a's extent so a's growth cannot
	// extend in place and must relocate.
	b, err := mgr.CreateFile(RootID, "b.bin", nil, 1000)
	require.NoError(t, err)
	require.NoError(t, mgr.Write(b.ID, make([]byte, blockdev.BlockSize), 1001))

	content := []byte("relocated content spanning more than one block worth of bytes padded out")
	big := make([]byte, blockdev.BlockSize*2)
	copy(big, content)
	require.NoError(t, mgr.Write(a.ID, big, 1002))

	got, err := mgr.Read(a.ID)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestResolvePathWithDotDot(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.CreateDirectory(RootID, "sub")
	require.NoError(t, err)

	id, err := mgr.Resolve(RootID, "/sub/../sub")
	require.NoError(t, err)
	sub, err := mgr.Resolve(RootID, "/sub")
	require.NoError(t, err)
	require.Equal(t, sub, id)
}

func TestResolveDotDotCappedAtRoot(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	id, err := mgr.Resolve(RootID, "/../../..")
	require.NoError(t, err)
	require.Equal(t, uint32(RootID), id)
}

func TestResolveMissingSegmentFails(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.Resolve(RootID, "/nope")
	require.ErrorIs(t, err, ferr.ErrNotFound)
}

func TestDeleteDirectoryRefusesNonEmpty(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.CreateDirectory(RootID, "sub")
	require.NoError(t, err)
	_, err = mgr.CreateFile(mustResolve(t, mgr, "/sub"), "f.txt", nil, 1000)
	require.NoError(t, err)

	err = mgr.DeleteDirectory(RootID, "sub")
	require.ErrorIs(t, err, ferr.ErrNotEmpty)
}

func TestDeleteDirectoryRecursiveRemovesDescendants(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.CreateDirectory(RootID, "sub")
	require.NoError(t, err)
	subID := mustResolve(t, mgr, "/sub")
	_, err = mgr.CreateFile(subID, "f.txt", nil, 1000)
	require.NoError(t, err)
	_, err = mgr.CreateDirectory(subID, "nested")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteDirectoryRecursive(RootID, "sub"))
	_, err = mgr.Resolve(RootID, "/sub")
	require.ErrorIs(t, err, ferr.ErrNotFound)
}

func TestDeleteFileFreesInodeSlotForReuse(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	f, err := mgr.CreateFile(RootID, "a.txt", nil, 1000)
	require.NoError(t, err)
	require.NoError(t, mgr.DeleteFile(RootID, "a.txt"))

	f2, err := mgr.CreateFile(RootID, "b.txt", nil, 1001)
	require.NoError(t, err)
	require.Equal(t, f.ID, f2.ID, "freed slot should be the lowest-index candidate for reuse")
}

func TestDeleteMissingEntryReportsNotFound(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	err := mgr.delete(RootID, "nonexistent", TypeDirectory)
	require.ErrorIs(t, err, ferr.ErrNotFound)
}

func TestRenameMovesEntryBetweenDirectories(t *testing.T) {
	mgr := newTestManager(t, 64, 16)
	_, err := mgr.CreateDirectory(RootID, "src")
	require.NoError(t, err)
	_, err = mgr.CreateDirectory(RootID, "dst")
	require.NoError(t, err)
	srcID := mustResolve(t, mgr, "/src")
	dstID := mustResolve(t, mgr, "/dst")

	_, err = mgr.CreateFile(srcID, "f.txt", nil, 1000)
	require.NoError(t, err)

	require.NoError(t, mgr.Rename(srcID, "f.txt", dstID, "moved.txt"))

	_, err = mgr.Resolve(RootID, "/src/f.txt")
	require.ErrorIs(t, err, ferr.ErrNotFound)

	id, err := mgr.Resolve(RootID, "/dst/moved.txt")
	require.NoError(t, err)
	moved, err := mgr.Get(id)
	require.NoError(t, err)
	require.Equal(t, dstID, moved.ParentID)
}

func mustResolve(t *testing.T, mgr *Manager, path string) uint32 {
	t.Helper()
	id, err := mgr.Resolve(RootID, path)
	require.NoError(t, err)
	return id
}
