// Package bitmap implements the free-block allocation map: a
// bit-per-block array persisted through the block cache, first-fit
// allocation from a starting search index, and single/contiguous
// alloc+free operations. It manages a single block bitmap (there is no
// separate zone concept — extents are contiguous runs of blocks)
// guarded by a plain mutex.
package bitmap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/ferr"
)

// Bitmap is a persistent bit-per-block free map backed by a bcache.Cache.
type Bitmap struct {
	cache *bcache.Cache

	mu          sync.Mutex
	totalBlocks uint32
	reserved    uint32 // number of leading blocks (metadata region) treated as permanently allocated
	startBlock  uint32 // first block index the bitmap itself occupies on disk
	numBlocks   uint32 // how many blocks the bitmap spans
	bits        []byte // in-memory mirror, one bit per block, 1 = allocated
	freeCount   uint32
}

// NumBlocks returns how many blocks are needed to hold a bitmap covering
// totalBlocks blocks, one bit per block.
func NumBlocks(totalBlocks uint32) uint32 {
	bitsPerBlock := uint32(blockdev.BlockSize * 8)
	return (totalBlocks + bitsPerBlock - 1) / bitsPerBlock
}

// New constructs a Bitmap descriptor. It does not touch the cache; call
// Initialize (format) or Load (mount) afterwards.
func New(cache *bcache.Cache, totalBlocks uint32, startBlock uint32, reserved uint32) *Bitmap {
	numBlocks := NumBlocks(totalBlocks)
	return &Bitmap{
		cache:       cache,
		totalBlocks: totalBlocks,
		reserved:    reserved,
		startBlock:  startBlock,
		numBlocks:   numBlocks,
		bits:        make([]byte, numBlocks*blockdev.BlockSize),
	}
}

func (b *Bitmap) bitByteSize() uint32 {
	return (b.totalBlocks + 7) / 8
}

// Initialize zeroes the bitmap and marks the reserved leading blocks
// (the metadata region: the bitmap's own blocks plus the inode table)
// allocated.
func (b *Bitmap) Initialize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.bits {
		b.bits[i] = 0
	}
	b.freeCount = b.totalBlocks

	for i := uint32(0); i < b.reserved; i++ {
		b.setBitLocked(i, true)
	}
}

// Save writes the bitmap's in-memory bytes through the cache.
func (b *Bitmap) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saveLocked()
}

func (b *Bitmap) saveLocked() error {
	for i := uint32(0); i < b.numBlocks; i++ {
		chunk := b.bits[i*blockdev.BlockSize : (i+1)*blockdev.BlockSize]
		if err := b.cache.WriteBlock(b.startBlock+i, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the bitmap's blocks through the cache, recomputes the free
// count by scanning, and reasserts the reservation bits.
func (b *Bitmap) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := uint32(0); i < b.numBlocks; i++ {
		chunk := b.bits[i*blockdev.BlockSize : (i+1)*blockdev.BlockSize]
		if err := b.cache.ReadBlock(b.startBlock+i, chunk); err != nil {
			return err
		}
	}

	b.recomputeFreeCountLocked()
	for i := uint32(0); i < b.reserved; i++ {
		b.setBitLocked(i, true)
	}
	b.recomputeFreeCountLocked()
	return nil
}

func (b *Bitmap) recomputeFreeCountLocked() {
	size := b.bitByteSize()
	var set uint32
	for i := uint32(0); i < size; i++ {
		set += uint32(bits.OnesCount8(b.bits[i]))
	}
	b.freeCount = b.totalBlocks - set
}

// FreeCount returns the number of free blocks.
func (b *Bitmap) FreeCount() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.freeCount
}

// TotalBlocks returns the total block count the bitmap covers.
func (b *Bitmap) TotalBlocks() uint32 {
	return b.totalBlocks
}

// IsAllocated reports whether the block at idx is allocated. Out-of-range
// indices report allocated, the safer default.
func (b *Bitmap) IsAllocated(idx uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isAllocatedLocked(idx)
}

func (b *Bitmap) isAllocatedLocked(idx uint32) bool {
	if idx >= b.totalBlocks {
		return true
	}
	byteIdx := idx / 8
	bitIdx := idx % 8
	return b.bits[byteIdx]&(1<<bitIdx) != 0
}

func (b *Bitmap) setBitLocked(idx uint32, allocated bool) {
	byteIdx := idx / 8
	bitIdx := idx % 8
	was := b.bits[byteIdx]&(1<<bitIdx) != 0
	if allocated {
		b.bits[byteIdx] |= 1 << bitIdx
		if !was {
			b.freeCount--
		}
	} else {
		b.bits[byteIdx] &^= 1 << bitIdx
		if was {
			b.freeCount++
		}
	}
}

// AllocateOne returns the lowest-index free block at or above the
// reserved region, marking it allocated.
func (b *Bitmap) AllocateOne() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := b.reserved; i < b.totalBlocks; i++ {
		if !b.isAllocatedLocked(i) {
			b.setBitLocked(i, true)
			return i, nil
		}
	}
	return 0, fmt.Errorf("bitmap: no free blocks: %w", ferr.ErrNoSpace)
}

// AllocateContiguous returns the lowest start index s >= reserved such
// that blocks [s, s+n) are all free, first-fit from the reserved region,
// marking them all allocated.
func (b *Bitmap) AllocateContiguous(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("bitmap: cannot allocate zero blocks: %w", ferr.ErrNoSpace)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.totalBlocks-b.reserved {
		return 0, fmt.Errorf("bitmap: run of %d blocks exceeds device: %w", n, ferr.ErrNoSpace)
	}

	for s := b.reserved; s <= b.totalBlocks-n; s++ {
		allFree := true
		for i := uint32(0); i < n; i++ {
			if b.isAllocatedLocked(s + i) {
				allFree = false
				break
			}
		}
		if allFree {
			for i := uint32(0); i < n; i++ {
				b.setBitLocked(s+i, true)
			}
			return s, nil
		}
	}
	return 0, fmt.Errorf("bitmap: no contiguous run of %d free blocks: %w", n, ferr.ErrNoSpace)
}

// FreeOne clears the bit for idx. Freeing an already-free block, or a
// reserved block, is a silent no-op.
func (b *Bitmap) FreeOne(idx uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < b.reserved || idx >= b.totalBlocks {
		return
	}
	b.setBitLocked(idx, false)
}

// FreeContiguous clears the bits for blocks [start, start+n).
func (b *Bitmap) FreeContiguous(start, n uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := uint32(0); i < n; i++ {
		idx := start + i
		if idx < b.reserved || idx >= b.totalBlocks {
			continue
		}
		b.setBitLocked(idx, false)
	}
}

// MarkAllocated verifies that blocks [start, start+n) are all free and,
// if so, marks them allocated without going through AllocateContiguous.
// This is the in-place tail-extension path used by inode.Manager.resizeLocked
// to grow a file's extent without a copy, with the bits verified free
// under the bitmap lock first.
func (b *Bitmap) MarkAllocated(start, n uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if start+n > b.totalBlocks {
		return false
	}
	for i := uint32(0); i < n; i++ {
		if b.isAllocatedLocked(start + i) {
			return false
		}
	}
	for i := uint32(0); i < n; i++ {
		b.setBitLocked(start+i, true)
	}
	return true
}
