// Package fs implements the Filesystem facade: mount lifecycle,
// current-working-directory state, open-file reference counts, and the
// high-level operations the CLI adapters drive. It is the sole owner of
// the lower collaborators (blockdev.Device, bcache.Cache, bitmap.Bitmap,
// inode.Manager), presenting a full format/mount/unmount facade with its
// own cwd and open-file bookkeeping.
package fs

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/bitmap"
	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/dirpage"
	"github.com/eduos/blockfs/internal/ferr"
	"github.com/eduos/blockfs/internal/inode"
)

// Config holds the tunable sizing knobs a mount can override,
// defaulting to reasonable sizes for a freshly formatted image.
type Config struct {
	// CacheCapacity is P, the number of cache page frames. Zero means
	// bcache.DefaultCapacity.
	CacheCapacity int
}

// DefaultConfig returns the zero-value Config, which New* methods
// interpret as "use the built-in defaults."
func DefaultConfig() Config {
	return Config{}
}

// Info describes a resolved path's metadata, returned by Stat.
type Info struct {
	Name       string
	IsDir      bool
	Size       uint32
	BlockCount uint32
	CreateTime int64
	ModifyTime int64
}

// DiskUsage is the result of the `df` command.
type DiskUsage struct {
	TotalBlocks uint32
	FreeBlocks  uint32
	BlockSize   int
}

// FileSystem is the top-level facade bundling every mounted component.
// The state lock ("Filesystem state lock")
// guards mounted, cwd, and openFiles; it is always the outermost lock
// acquired by any facade method.
type FileSystem struct {
	mu  sync.Mutex
	cfg Config

	mounted bool
	path    string
	cwd     string

	openFiles map[string]int

	dev    *blockdev.Device
	cache  *bcache.Cache
	bmap   *bitmap.Bitmap
	inodes *inode.Manager
}

// New returns an unmounted FileSystem using cfg (zero-value for
// defaults).
func New(cfg Config) *FileSystem {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = bcache.DefaultCapacity
	}
	return &FileSystem{
		cfg:       cfg,
		cwd:       "/",
		openFiles: make(map[string]int),
	}
}

func layout(totalBlocks uint32) (bitmapBlocks, tableStart, tableBlocks, tableCapacity uint32) {
	bitmapBlocks = bitmap.NumBlocks(totalBlocks)
	tableStart = bitmapBlocks

	capacity := totalBlocks / 64
	if capacity < 16 {
		capacity = 16
	}
	tableBlocks = (capacity*uint32(inode.Size) + blockdev.BlockSize - 1) / blockdev.BlockSize
	// Round capacity up to fill every slot of the last inode-table block,
	// so `capacity * inode.Size` is exactly tableBlocks blocks.
	capacity = tableBlocks * uint32(inode.PerBlock)
	return bitmapBlocks, tableStart, tableBlocks, capacity
}

// Format lays a fresh filesystem image onto a newly created backing
// file of size sizeMB megabytes. Format does not leave the filesystem
// mounted.
func Format(path string, sizeMB uint32) error {
	totalBlocks := (sizeMB * 1024 * 1024) / blockdev.BlockSize
	if totalBlocks == 0 {
		return fmt.Errorf("fs: size too small for even one block: %w", ferr.ErrIO)
	}

	dev, err := blockdev.Create(path, totalBlocks)
	if err != nil {
		return err
	}
	defer dev.Close()

	cache := bcache.New(dev, bcache.DefaultCapacity)

	bitmapBlocks, tableStart, tableBlocks, capacity := layout(totalBlocks)
	reserved := tableStart + tableBlocks

	bm := bitmap.New(cache, totalBlocks, 0, reserved)
	bm.Initialize()
	_ = bitmapBlocks

	mgr := inode.New(cache, bm, tableStart, tableBlocks, capacity)
	if err := mgr.Initialize(); err != nil {
		return err
	}
	if err := mgr.Bootstrap(time.Now().Unix()); err != nil {
		return err
	}

	if err := bm.Save(); err != nil {
		return err
	}
	if err := cache.FlushAll(); err != nil {
		return err
	}

	log.Printf("fs: formatted %s: %d blocks, %d inode slots", path, totalBlocks, capacity)
	return nil
}

// Mount opens an existing backing file and brings every lower
// collaborator online. Mount requires the facade not already be
// mounted.
func (f *FileSystem) Mount(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mounted {
		return fmt.Errorf("fs: already mounted at %s: %w", f.path, ferr.ErrAlreadyMounted)
	}

	dev, err := blockdev.Open(path)
	if err != nil {
		return err
	}

	cache := bcache.New(dev, f.cfg.CacheCapacity)

	totalBlocks := dev.TotalBlocks()
	_, tableStart, tableBlocks, capacity := layout(totalBlocks)
	reserved := tableStart + tableBlocks

	bm := bitmap.New(cache, totalBlocks, 0, reserved)
	if err := bm.Load(); err != nil {
		dev.Close()
		return err
	}

	mgr := inode.New(cache, bm, tableStart, tableBlocks, capacity)
	if err := mgr.Load(); err != nil {
		dev.Close()
		return err
	}
	if _, err := mgr.Get(inode.RootID); err != nil {
		if err := mgr.Bootstrap(time.Now().Unix()); err != nil {
			dev.Close()
			return err
		}
	}

	f.dev = dev
	f.cache = cache
	f.bmap = bm
	f.inodes = mgr
	f.path = path
	f.cwd = "/"
	f.openFiles = make(map[string]int)
	f.mounted = true

	log.Printf("fs: mounted %s: %d blocks, %d free", path, totalBlocks, bm.FreeCount())
	return nil
}

// Unmount flushes the cache, saves the bitmap, and drops every open
// reference.
func (f *FileSystem) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmountLocked()
}

func (f *FileSystem) unmountLocked() error {
	if !f.mounted {
		return fmt.Errorf("fs: not mounted: %w", ferr.ErrNotMounted)
	}

	if err := f.cache.FlushAll(); err != nil {
		return err
	}
	if err := f.bmap.Save(); err != nil {
		return err
	}
	if err := f.cache.FlushAll(); err != nil {
		return err
	}
	if err := f.dev.Close(); err != nil {
		return err
	}

	f.openFiles = make(map[string]int)
	f.dev = nil
	f.cache = nil
	f.bmap = nil
	f.inodes = nil
	f.mounted = false
	log.Printf("fs: unmounted %s", f.path)
	return nil
}

func (f *FileSystem) requireMountedLocked() error {
	if !f.mounted {
		return fmt.Errorf("fs: not mounted: %w", ferr.ErrNotMounted)
	}
	return nil
}

// normalize resolves path against cwd (if relative) and collapses "."
// and ".." segments. Callers must hold f.mu.
func (f *FileSystem) normalize(path string) string {
	var base string
	if strings.HasPrefix(path, "/") {
		base = path
	} else {
		base = f.cwd + "/" + path
	}

	parts := strings.Split(base, "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	return "/" + strings.Join(stack, "/")
}

// Normalize exposes normalize for callers outside the package (e.g. the
// CLI adapter echoing the resolved path).
func (f *FileSystem) Normalize(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.normalize(path)
}

func (f *FileSystem) resolve(path string) (uint32, string, error) {
	norm := f.normalize(path)
	id, err := f.inodes.Resolve(inode.RootID, norm)
	return id, norm, err
}

// Pwd returns the current working directory.
func (f *FileSystem) Pwd() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

// Cd changes the current working directory, verifying the target
// exists and is a directory.
func (f *FileSystem) Cd(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	id, norm, err := f.resolve(path)
	if err != nil {
		return err
	}
	n, err := f.inodes.Get(id)
	if err != nil {
		return err
	}
	if !n.IsDirectory() {
		return fmt.Errorf("fs: %q is not a directory: %w", path, ferr.ErrWrongType)
	}
	f.cwd = norm
	return nil
}

// Ls lists a directory's entries. An empty path lists cwd.
func (f *FileSystem) Ls(path string) ([]dirpage.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return nil, err
	}
	if path == "" {
		path = "."
	}
	id, _, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	return f.inodes.ListDirectory(id)
}

// Stat returns metadata for a resolved path.
func (f *FileSystem) Stat(path string) (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return Info{}, err
	}
	id, _, err := f.resolve(path)
	if err != nil {
		return Info{}, err
	}
	n, err := f.inodes.Get(id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:       n.Name,
		IsDir:      n.IsDirectory(),
		Size:       n.Size,
		BlockCount: n.BlockCount,
		CreateTime: n.CreateTime,
		ModifyTime: n.ModifyTime,
	}, nil
}

// Touch creates a new, empty file at path.
func (f *FileSystem) Touch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	parentID, name, norm, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	if f.openFiles[norm] > 0 {
		return fmt.Errorf("fs: %q: %w", path, ferr.ErrBusy)
	}
	_, err = f.inodes.CreateFile(parentID, name, nil, time.Now().Unix())
	return err
}

func (f *FileSystem) resolveParent(path string) (parentID uint32, name string, norm string, err error) {
	norm = f.normalize(path)
	parentID, name, err = f.inodes.ResolveParent(inode.RootID, norm)
	return
}

// Mkdir creates a new, empty directory at path.
func (f *FileSystem) Mkdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	parentID, name, _, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	_, err = f.inodes.CreateDirectory(parentID, name)
	return err
}

// Cat reads and returns a file's entire contents, bracketing the read
// with an open/close refcount bump.
func (f *FileSystem) Cat(path string) ([]byte, error) {
	f.mu.Lock()
	if err := f.requireMountedLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	id, norm, err := f.resolve(path)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.openFiles[norm]++
	f.mu.Unlock()

	defer f.closeRef(norm)

	return f.inodes.Read(id)
}

func (f *FileSystem) closeRef(norm string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openFiles[norm]--
	if f.openFiles[norm] <= 0 {
		delete(f.openFiles, norm)
	}
}

// WriteFile replaces a file's contents wholesale, refusing if the
// target has any open references.
func (f *FileSystem) WriteFile(path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	id, norm, err := f.resolve(path)
	if err != nil {
		return err
	}
	if f.openFiles[norm] > 0 {
		return fmt.Errorf("fs: %q: %w", path, ferr.ErrBusy)
	}
	return f.inodes.Write(id, content, time.Now().Unix())
}

// Rm deletes a file.
func (f *FileSystem) Rm(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	parentID, name, norm, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	if f.openFiles[norm] > 0 {
		return fmt.Errorf("fs: %q: %w", path, ferr.ErrBusy)
	}
	return f.inodes.DeleteFile(parentID, name)
}

// Rmdir deletes an empty directory. Non-empty directories are refused
// with NotEmpty.
func (f *FileSystem) Rmdir(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return err
	}
	parentID, name, norm, err := f.resolveParent(path)
	if err != nil {
		return err
	}
	if f.hasOpenDescendant(norm) {
		return fmt.Errorf("fs: %q: %w", path, ferr.ErrBusy)
	}
	return f.inodes.DeleteDirectory(parentID, name)
}

func (f *FileSystem) hasOpenDescendant(norm string) bool {
	prefix := norm
	if prefix != "/" {
		prefix += "/"
	}
	for p, count := range f.openFiles {
		if count <= 0 {
			continue
		}
		if p == norm || strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// Df reports disk usage, for the `df` CLI command.
func (f *FileSystem) Df() (DiskUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{
		TotalBlocks: f.bmap.TotalBlocks(),
		FreeBlocks:  f.bmap.FreeCount(),
		BlockSize:   blockdev.BlockSize,
	}, nil
}

// CacheStats reports cache occupancy, for the `cache` CLI command.
func (f *FileSystem) CacheStats() (bcache.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.requireMountedLocked(); err != nil {
		return bcache.Stats{}, err
	}
	return f.cache.Stats(), nil
}

// Mounted reports whether the facade currently has a filesystem
// mounted.
func (f *FileSystem) Mounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted
}
