package inode

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/bitmap"
	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/dirpage"
	"github.com/eduos/blockfs/internal/ferr"
)

// Manager owns the inode table and every operation that allocates,
// resizes, reads, writes, or walks inodes and directories. A
// single-extent inode has none of the cache-of-partially-loaded-inodes
// complexity that would otherwise justify splitting this apart into
// separate caching layers, so one type owns the whole lifecycle.
type Manager struct {
	cache  *bcache.Cache
	bitmap *bitmap.Bitmap

	tableStart  uint32
	tableBlocks uint32
	capacity    uint32 // M: maximum number of inode slots, including the unused slot 0

	// allocMu is the InodeManager allocation lock: it guards `used`. No
	// per-inode, directory cache or bitmap lock is acquired while it is
	// held (Load holds it across cache reads of the inode table).
	// freeSlot takes it while per-inode locks are held, on create's
	// failure paths and in delete.
	allocMu sync.Mutex
	used    []bool

	// inodeLocks[i] is the per-inode logical lock for slot i, acquired
	// only while allocMu is free; dirCacheMu, the bitmap lock and the
	// cache lock may be taken while it is held.
	inodeLocks []sync.Mutex

	dirCacheMu sync.Mutex
	dirCache   map[uint32]*dirpage.Page
}

// New constructs a Manager over an already-initialized cache and bitmap.
// tableStart/tableBlocks locate the inode table's blocks on disk;
// capacity is M, the maximum number of inode slots.
func New(cache *bcache.Cache, bm *bitmap.Bitmap, tableStart, tableBlocks, capacity uint32) *Manager {
	return &Manager{
		cache:       cache,
		bitmap:      bm,
		tableStart:  tableStart,
		tableBlocks: tableBlocks,
		capacity:    capacity,
		used:        make([]bool, capacity),
		inodeLocks:  make([]sync.Mutex, capacity),
		dirCache:    make(map[uint32]*dirpage.Page),
	}
}

// Capacity returns M, the maximum number of inode slots.
func (m *Manager) Capacity() uint32 {
	return m.capacity
}

func (m *Manager) slotBlock(id uint32) (blockNo uint32, offset int) {
	blockNo = m.tableStart + id/uint32(PerBlock)
	offset = int(id%uint32(PerBlock)) * Size
	return
}

func (m *Manager) readSlot(id uint32) (*Inode, error) {
	blockNo, offset := m.slotBlock(id)
	buf := make([]byte, blockdev.BlockSize)
	if err := m.cache.ReadBlock(blockNo, buf); err != nil {
		return nil, err
	}
	return DecodeInode(buf[offset : offset+Size])
}

func (m *Manager) writeSlot(id uint32, n *Inode) error {
	blockNo, offset := m.slotBlock(id)
	buf := make([]byte, blockdev.BlockSize)
	if err := m.cache.ReadBlock(blockNo, buf); err != nil {
		return err
	}
	copy(buf[offset:offset+Size], n.Encode())
	return m.cache.WriteBlock(blockNo, buf)
}

// Initialize zero-fills every inode table block, for use by the
// formatter before Bootstrap.
func (m *Manager) Initialize() error {
	zero := make([]byte, blockdev.BlockSize)
	for i := uint32(0); i < m.tableBlocks; i++ {
		if err := m.cache.WriteBlock(m.tableStart+i, zero); err != nil {
			return err
		}
	}
	return nil
}

// Bootstrap creates the root directory at RootID during format.
func (m *Manager) Bootstrap(timestamp int64) error {
	m.allocMu.Lock()
	if m.used[RootID] {
		m.allocMu.Unlock()
		return fmt.Errorf("inode: root slot already in use: %w", ferr.ErrCorruption)
	}
	m.used[RootID] = true
	m.allocMu.Unlock()

	root := &Inode{
		ID:         RootID,
		Type:       TypeDirectory,
		ParentID:   RootID,
		CreateTime: timestamp,
		ModifyTime: timestamp,
		Name:       "/",
	}
	if err := m.writeSlot(RootID, root); err != nil {
		return err
	}

	page := dirpage.New()
	if err := page.Add(".", RootID, dirpage.TypeDirectory); err != nil {
		return err
	}
	if err := page.Add("..", RootID, dirpage.TypeDirectory); err != nil {
		return err
	}
	return m.saveDirPage(root, page)
}

// Load scans the inode table, reconstructing the `used` slot vector from
// whichever slots hold a recognized type and their own id (delete zeroes
// a freed slot's record): the inode table is self-describing, so no
// separate inode bitmap is persisted.
func (m *Manager) Load() error {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	for id := uint32(0); id < m.capacity; id++ {
		n, err := m.readSlot(id)
		if err != nil {
			return err
		}
		if id == 0 {
			continue
		}
		if n.Type == TypeFile || n.Type == TypeDirectory {
			if n.ID == id {
				m.used[id] = true
			}
		}
	}
	return nil
}

func (m *Manager) allocateSlot() (uint32, error) {
	m.allocMu.Lock()
	defer m.allocMu.Unlock()

	for id := uint32(RootID + 1); id < m.capacity; id++ {
		if !m.used[id] {
			m.used[id] = true
			return id, nil
		}
	}
	return 0, fmt.Errorf("inode: no free inode slots: %w", ferr.ErrNoInodes)
}

func (m *Manager) freeSlot(id uint32) {
	m.allocMu.Lock()
	m.used[id] = false
	m.allocMu.Unlock()
}

// Get returns a copy of the inode record for id.
func (m *Manager) Get(id uint32) (*Inode, error) {
	if id == 0 || id >= m.capacity {
		return nil, fmt.Errorf("inode: id %d out of range: %w", id, ferr.ErrNotFound)
	}
	m.inodeLocks[id].Lock()
	defer m.inodeLocks[id].Unlock()
	return m.readSlot(id)
}

func (m *Manager) loadDirPageLocked(n *Inode) (*dirpage.Page, error) {
	m.dirCacheMu.Lock()
	if p, ok := m.dirCache[n.ID]; ok {
		m.dirCacheMu.Unlock()
		return p, nil
	}
	m.dirCacheMu.Unlock()

	buf := make([]byte, blockdev.BlockSize)
	if n.BlockCount > 0 {
		if err := m.cache.ReadBlock(n.StartBlock, buf); err != nil {
			return nil, err
		}
	}
	p, err := dirpage.Deserialize(buf)
	if err != nil {
		return nil, err
	}

	m.dirCacheMu.Lock()
	m.dirCache[n.ID] = p
	m.dirCacheMu.Unlock()
	return p, nil
}

// saveDirPage writes a directory's single data block through the cache
// and refreshes the directory cache entry. Callers must hold the
// directory inode's per-inode lock.
func (m *Manager) saveDirPage(n *Inode, page *dirpage.Page) error {
	if n.BlockCount == 0 {
		blk, err := m.bitmap.AllocateOne()
		if err != nil {
			return err
		}
		n.StartBlock = blk
		n.BlockCount = 1
		if err := m.writeSlot(n.ID, n); err != nil {
			return err
		}
	}

	if err := m.cache.WriteBlock(n.StartBlock, page.Serialize()); err != nil {
		return err
	}

	m.dirCacheMu.Lock()
	m.dirCache[n.ID] = page
	m.dirCacheMu.Unlock()
	return nil
}

func (m *Manager) invalidateDirPage(id uint32) {
	m.dirCacheMu.Lock()
	delete(m.dirCache, id)
	m.dirCacheMu.Unlock()
}

// splitPath breaks an absolute or relative path into its non-empty,
// non-"." components.
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		if part == "" || part == "." {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Resolve walks path components starting from startID, honoring ".."
// (capped at RootID, since the root is its own parent),
// and returns the id of the final component.
func (m *Manager) Resolve(startID uint32, path string) (uint32, error) {
	cur := startID
	for _, part := range splitPath(path) {
		n, err := m.Get(cur)
		if err != nil {
			return 0, err
		}
		if !n.IsDirectory() {
			return 0, fmt.Errorf("inode: %q is not a directory: %w", n.Name, ferr.ErrWrongType)
		}

		m.inodeLocks[cur].Lock()
		page, err := m.loadDirPageLocked(n)
		m.inodeLocks[cur].Unlock()
		if err != nil {
			return 0, err
		}

		if part == ".." {
			if cur == RootID {
				continue
			}
			e := page.Find("..")
			if e == nil {
				return 0, fmt.Errorf("inode: directory %d missing '..': %w", cur, ferr.ErrCorruption)
			}
			cur = e.InodeID
			continue
		}

		e := page.Find(part)
		if e == nil {
			return 0, fmt.Errorf("inode: %q: %w", part, ferr.ErrNotFound)
		}
		cur = e.InodeID
	}
	return cur, nil
}

// ResolveParent resolves every path component but the last, returning
// the parent directory's id and the final component's name.
func (m *Manager) ResolveParent(startID uint32, path string) (parentID uint32, name string, err error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return 0, "", fmt.Errorf("inode: empty path: %w", ferr.ErrInvalidName)
	}
	name = parts[len(parts)-1]
	parentID = startID
	if len(parts) > 1 {
		parentID, err = m.Resolve(startID, strings.Join(parts[:len(parts)-1], "/"))
		if err != nil {
			return 0, "", err
		}
	}
	return parentID, name, nil
}

// ListDirectory returns the directory's entries in insertion order.
func (m *Manager) ListDirectory(id uint32) ([]dirpage.Entry, error) {
	n, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !n.IsDirectory() {
		return nil, fmt.Errorf("inode: %q is not a directory: %w", n.Name, ferr.ErrWrongType)
	}

	m.inodeLocks[id].Lock()
	defer m.inodeLocks[id].Unlock()
	page, err := m.loadDirPageLocked(n)
	if err != nil {
		return nil, err
	}
	return page.List(), nil
}

// CreateFile allocates a new file named name inside parentID, seeded
// with initialContent. The extent is sized
// ceil(max(len(initialContent), 1) / block_size) blocks even for empty
// content, so every file owns at least one data block from creation.
func (m *Manager) CreateFile(parentID uint32, name string, initialContent []byte, timestamp int64) (*Inode, error) {
	return m.create(parentID, name, TypeFile, initialContent, timestamp)
}

// CreateDirectory allocates a new, empty directory named name inside
// parentID, seeded with "." and ".." entries.
func (m *Manager) CreateDirectory(parentID uint32, name string) (*Inode, error) {
	return m.create(parentID, name, TypeDirectory, nil, 0)
}

func (m *Manager) create(parentID uint32, name string, typ Type, initialContent []byte, timestamp int64) (*Inode, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	parent, err := m.Get(parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsDirectory() {
		return nil, fmt.Errorf("inode: %q is not a directory: %w", parent.Name, ferr.ErrWrongType)
	}

	id, err := m.allocateSlot()
	if err != nil {
		return nil, err
	}

	m.inodeLocks[parentID].Lock()
	defer m.inodeLocks[parentID].Unlock()

	page, err := m.loadDirPageLocked(parent)
	if err != nil {
		m.freeSlot(id)
		return nil, err
	}
	if page.Find(name) != nil {
		m.freeSlot(id)
		return nil, fmt.Errorf("inode: %q: %w", name, ferr.ErrExists)
	}

	entryType := dirpage.TypeFile
	if typ == TypeDirectory {
		entryType = dirpage.TypeDirectory
	}
	if err := page.Add(name, id, entryType); err != nil {
		m.freeSlot(id)
		return nil, err
	}

	n := &Inode{
		ID:         id,
		Type:       typ,
		ParentID:   parentID,
		Name:       name,
		CreateTime: timestamp,
		ModifyTime: timestamp,
	}
	m.inodeLocks[id].Lock()
	if err := m.writeSlot(id, n); err != nil {
		m.inodeLocks[id].Unlock()
		page.Remove(name)
		m.freeSlot(id)
		return nil, err
	}

	if typ == TypeFile {
		minLen := len(initialContent)
		if minLen == 0 {
			minLen = 1
		}
		needed := uint32((minLen + blockdev.BlockSize - 1) / blockdev.BlockSize)
		if err := m.resizeLocked(n, needed); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
		if err := m.writeContentLocked(n, initialContent); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
		n.Size = uint32(len(initialContent))
		if err := m.writeSlot(id, n); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
	}

	if typ == TypeDirectory {
		sub := dirpage.New()
		if err := sub.Add(".", id, dirpage.TypeDirectory); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
		if err := sub.Add("..", parentID, dirpage.TypeDirectory); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
		if err := m.saveDirPage(n, sub); err != nil {
			m.inodeLocks[id].Unlock()
			page.Remove(name)
			m.freeSlot(id)
			return nil, err
		}
	}
	m.inodeLocks[id].Unlock()

	if err := m.saveDirPage(parent, page); err != nil {
		page.Remove(name)
		m.freeSlot(id)
		return nil, err
	}
	return n, nil
}

// Read returns the full contents of a file inode.
func (m *Manager) Read(id uint32) ([]byte, error) {
	n, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !n.IsFile() {
		return nil, fmt.Errorf("inode: %q is not a file: %w", n.Name, ferr.ErrWrongType)
	}

	m.inodeLocks[id].Lock()
	defer m.inodeLocks[id].Unlock()

	out := make([]byte, 0, n.Size)
	remaining := n.Size
	buf := make([]byte, blockdev.BlockSize)
	for b := uint32(0); remaining > 0; b++ {
		if err := m.cache.ReadBlock(n.StartBlock+b, buf); err != nil {
			return nil, err
		}
		chunk := blockdev.BlockSize
		if uint32(chunk) > remaining {
			chunk = int(remaining)
		}
		out = append(out, buf[:chunk]...)
		remaining -= uint32(chunk)
	}
	return out, nil
}

// Write replaces a file's full contents, growing or shrinking its
// extent as needed via resizeLocked.
func (m *Manager) Write(id uint32, content []byte, timestamp int64) error {
	n, err := m.Get(id)
	if err != nil {
		return err
	}
	if !n.IsFile() {
		return fmt.Errorf("inode: %q is not a file: %w", n.Name, ferr.ErrWrongType)
	}

	m.inodeLocks[id].Lock()
	defer m.inodeLocks[id].Unlock()

	neededBlocks := uint32((len(content) + blockdev.BlockSize - 1) / blockdev.BlockSize)
	if err := m.resizeLocked(n, neededBlocks); err != nil {
		return err
	}
	if err := m.writeContentLocked(n, content); err != nil {
		return err
	}

	n.Size = uint32(len(content))
	n.ModifyTime = timestamp
	return m.writeSlot(id, n)
}

// writeContentLocked rewrites every block of n's current extent from
// content, zero-padding the final partial block. Callers must hold
// n's per-inode lock and must have already sized the extent via
// resizeLocked.
func (m *Manager) writeContentLocked(n *Inode, content []byte) error {
	buf := make([]byte, blockdev.BlockSize)
	off := 0
	for b := uint32(0); b < n.BlockCount; b++ {
		for i := range buf {
			buf[i] = 0
		}
		end := off + blockdev.BlockSize
		if end > len(content) {
			end = len(content)
		}
		if off < len(content) {
			copy(buf, content[off:end])
		}
		if err := m.cache.WriteBlock(n.StartBlock+b, buf); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// resizeLocked grows or shrinks n's extent to hold newBlocks blocks. It
// first tries an in-place tail extension via bitmap.MarkAllocated
// (cheap, no copy); if that fails because the tail is occupied, it falls
// back to allocating a fresh contiguous run and copying the old data
// over.
func (m *Manager) resizeLocked(n *Inode, newBlocks uint32) error {
	switch {
	case newBlocks == n.BlockCount:
		return nil

	case newBlocks < n.BlockCount:
		freed := n.BlockCount - newBlocks
		m.bitmap.FreeContiguous(n.StartBlock+newBlocks, freed)
		n.BlockCount = newBlocks
		if newBlocks == 0 {
			n.StartBlock = 0
		}
		return nil

	case n.BlockCount == 0:
		if newBlocks == 0 {
			return nil
		}
		start, err := m.bitmap.AllocateContiguous(newBlocks)
		if err != nil {
			return err
		}
		n.StartBlock = start
		n.BlockCount = newBlocks
		return nil

	default:
		extra := newBlocks - n.BlockCount
		if m.bitmap.MarkAllocated(n.StartBlock+n.BlockCount, extra) {
			n.BlockCount = newBlocks
			return nil
		}

		newStart, err := m.bitmap.AllocateContiguous(newBlocks)
		if err != nil {
			return err
		}
		buf := make([]byte, blockdev.BlockSize)
		for b := uint32(0); b < n.BlockCount; b++ {
			if err := m.cache.ReadBlock(n.StartBlock+b, buf); err != nil {
				m.bitmap.FreeContiguous(newStart, newBlocks)
				return err
			}
			if err := m.cache.WriteBlock(newStart+b, buf); err != nil {
				m.bitmap.FreeContiguous(newStart, newBlocks)
				return err
			}
		}
		m.bitmap.FreeContiguous(n.StartBlock, n.BlockCount)
		n.StartBlock = newStart
		n.BlockCount = newBlocks
		return nil
	}
}

// DeleteFile removes a file entry from its parent directory, frees its
// extent, and releases its inode slot.
func (m *Manager) DeleteFile(parentID uint32, name string) error {
	return m.delete(parentID, name, TypeFile)
}

// DeleteDirectory removes an empty, non-root subdirectory.
func (m *Manager) DeleteDirectory(parentID uint32, name string) error {
	return m.delete(parentID, name, TypeDirectory)
}

func (m *Manager) delete(parentID uint32, name string, want Type) error {
	if name == "." || name == ".." {
		return fmt.Errorf("inode: cannot remove %q: %w", name, ferr.ErrInvalidName)
	}

	parent, err := m.Get(parentID)
	if err != nil {
		return err
	}

	m.inodeLocks[parentID].Lock()
	defer m.inodeLocks[parentID].Unlock()

	page, err := m.loadDirPageLocked(parent)
	if err != nil {
		return err
	}
	e := page.Find(name)
	if e == nil {
		return fmt.Errorf("inode: %q: %w", name, ferr.ErrNotFound)
	}
	if e.InodeID == RootID {
		return fmt.Errorf("inode: cannot remove root: %w", ferr.ErrWrongType)
	}

	m.inodeLocks[e.InodeID].Lock()
	n, err := m.readSlot(e.InodeID)
	if err != nil {
		m.inodeLocks[e.InodeID].Unlock()
		return err
	}
	if n.Type != want {
		m.inodeLocks[e.InodeID].Unlock()
		return fmt.Errorf("inode: %q: %w", name, ferr.ErrWrongType)
	}

	if want == TypeDirectory {
		sub, err := m.loadDirPageLocked(n)
		if err != nil {
			m.inodeLocks[e.InodeID].Unlock()
			return err
		}
		if !sub.IsEmpty() {
			m.inodeLocks[e.InodeID].Unlock()
			return fmt.Errorf("inode: %q: %w", name, ferr.ErrNotEmpty)
		}
	}

	// Clear the on-disk record so Load does not count the slot as used.
	if err := m.writeSlot(e.InodeID, &Inode{}); err != nil {
		m.inodeLocks[e.InodeID].Unlock()
		return err
	}
	if n.BlockCount > 0 {
		m.bitmap.FreeContiguous(n.StartBlock, n.BlockCount)
	}
	m.invalidateDirPage(e.InodeID)
	m.inodeLocks[e.InodeID].Unlock()

	m.freeSlot(e.InodeID)

	page.Remove(name)
	return m.saveDirPage(parent, page)
}

// DeleteDirectoryRecursive recursively removes every descendant
// (files and subdirectories alike) before removing the target itself.
// This differs from DeleteDirectory, which refuses on a non-empty
// directory; the facade's `rmdir` command uses the refusing form,
// while this recursive form is the lower-level contract InodeManager
// itself must provide.
func (m *Manager) DeleteDirectoryRecursive(parentID uint32, name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("inode: cannot remove %q: %w", name, ferr.ErrInvalidName)
	}

	parent, err := m.Get(parentID)
	if err != nil {
		return err
	}

	m.inodeLocks[parentID].Lock()
	page, err := m.loadDirPageLocked(parent)
	if err != nil {
		m.inodeLocks[parentID].Unlock()
		return err
	}
	e := page.Find(name)
	m.inodeLocks[parentID].Unlock()
	if e == nil {
		return fmt.Errorf("inode: %q: %w", name, ferr.ErrNotFound)
	}
	if e.InodeID == RootID {
		return fmt.Errorf("inode: cannot remove root: %w", ferr.ErrWrongType)
	}

	if err := m.removeChildrenRecursive(e.InodeID); err != nil {
		return err
	}
	return m.delete(parentID, name, TypeDirectory)
}

func (m *Manager) removeChildrenRecursive(dirID uint32) error {
	entries, err := m.ListDirectory(dirID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.Type == dirpage.TypeDirectory {
			if err := m.removeChildrenRecursive(e.InodeID); err != nil {
				return err
			}
			if err := m.delete(dirID, e.Name, TypeDirectory); err != nil {
				return err
			}
		} else {
			if err := m.delete(dirID, e.Name, TypeFile); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rename moves or renames an entry from (oldParentID, oldName) to
// (newParentID, newName), updating the moved inode's ParentID and, for
// a moved directory, its ".." entry.
func (m *Manager) Rename(oldParentID uint32, oldName string, newParentID uint32, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}

	oldParent, err := m.Get(oldParentID)
	if err != nil {
		return err
	}
	newParent, err := m.Get(newParentID)
	if err != nil {
		return err
	}
	if !newParent.IsDirectory() {
		return fmt.Errorf("inode: %q is not a directory: %w", newParent.Name, ferr.ErrWrongType)
	}

	lockFirst, lockSecond := oldParentID, newParentID
	if lockFirst > lockSecond {
		lockFirst, lockSecond = lockSecond, lockFirst
	}
	m.inodeLocks[lockFirst].Lock()
	if lockSecond != lockFirst {
		m.inodeLocks[lockSecond].Lock()
	}
	defer m.inodeLocks[lockFirst].Unlock()
	if lockSecond != lockFirst {
		defer m.inodeLocks[lockSecond].Unlock()
	}

	oldPage, err := m.loadDirPageLocked(oldParent)
	if err != nil {
		return err
	}
	found := oldPage.Find(oldName)
	if found == nil {
		return fmt.Errorf("inode: %q: %w", oldName, ferr.ErrNotFound)
	}
	// Copy the entry: Find points into the page's slice, which Remove
	// shifts below.
	e := *found

	var newPage *dirpage.Page
	if newParentID == oldParentID {
		newPage = oldPage
	} else {
		newPage, err = m.loadDirPageLocked(newParent)
		if err != nil {
			return err
		}
	}
	if newPage.Find(newName) != nil {
		return fmt.Errorf("inode: %q: %w", newName, ferr.ErrExists)
	}

	moved, err := m.Get(e.InodeID)
	if err != nil {
		return err
	}

	oldPage.Remove(oldName)
	if err := newPage.Add(newName, e.InodeID, e.Type); err != nil {
		return err
	}

	moved.ParentID = newParentID
	moved.Name = newName
	m.inodeLocks[e.InodeID].Lock()
	err = m.writeSlot(e.InodeID, moved)
	m.inodeLocks[e.InodeID].Unlock()
	if err != nil {
		return err
	}

	if moved.IsDirectory() {
		m.inodeLocks[e.InodeID].Lock()
		sub, err := m.loadDirPageLocked(moved)
		if err != nil {
			m.inodeLocks[e.InodeID].Unlock()
			return err
		}
		sub.Remove("..")
		if err := sub.Add("..", newParentID, dirpage.TypeDirectory); err != nil {
			m.inodeLocks[e.InodeID].Unlock()
			return err
		}
		err = m.saveDirPage(moved, sub)
		m.inodeLocks[e.InodeID].Unlock()
		if err != nil {
			return err
		}
	}

	if newParentID == oldParentID {
		return m.saveDirPage(oldParent, oldPage)
	}
	if err := m.saveDirPage(oldParent, oldPage); err != nil {
		return err
	}
	return m.saveDirPage(newParent, newPage)
}
