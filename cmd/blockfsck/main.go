// Command blockfsck walks a blockfs image read-only and reports
// structural inconsistencies: extents that escape the device, extents
// that overlap another inode's extent, broken parent linkage,
// duplicate or missing "." / ".." entries, and a free-block count that
// disagrees with what the bitmap claims. It opens the device directly,
// reconstructs an expected bitmap by walking the inode table and
// directory tree, diffs it against the on-disk bitmap, and prints a
// summary of file/directory counts at the end.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/eduos/blockfs/internal/bcache"
	"github.com/eduos/blockfs/internal/bitmap"
	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/dirpage"
	"github.com/eduos/blockfs/internal/inode"
)

var (
	filename = flag.String("file", "", "the disk image to check")
	help     = flag.Bool("help", false, "print usage information")
)

var (
	errors      int
	nfiles      int
	ndirs       int
	expectAlloc []bool // expected allocation, one bool per block, reconstructed by walking
)

func fail(format string, args ...interface{}) {
	errors++
	fmt.Printf("ERROR: "+format+"\n", args...)
}

func markExpected(start, count uint32, totalBlocks uint32, context string) {
	for b := start; b < start+count; b++ {
		if b >= totalBlocks {
			fail("%s: block %d out of range", context, b)
			continue
		}
		if expectAlloc[b] {
			fail("%s: block %d double-allocated (I2 violation)", context, b)
		}
		expectAlloc[b] = true
	}
}

func checkDirectory(cache *bcache.Cache, mgr *inode.Manager, id uint32, parentID uint32, totalBlocks uint32, path string) {
	n, err := mgr.Get(id)
	if err != nil {
		fail("%s: cannot read inode %d: %s", path, id, err)
		return
	}
	if n.ParentID != parentID && id != inode.RootID {
		fail("%s: parent_id %d does not match expected %d (I3 violation)", path, n.ParentID, parentID)
	}

	if n.BlockCount > 0 {
		markExpected(n.StartBlock, n.BlockCount, totalBlocks, path)
	}

	entries, err := mgr.ListDirectory(id)
	if err != nil {
		fail("%s: cannot list directory: %s", path, err)
		return
	}

	seen := make(map[string]int)
	dotCount, dotdotCount := 0, 0
	for _, e := range entries {
		seen[e.Name]++
		if e.Name == "." {
			dotCount++
			continue
		}
		if e.Name == ".." {
			dotdotCount++
			continue
		}
		if seen[e.Name] > 1 {
			fail("%s: duplicate entry name %q (I4 violation)", path, e.Name)
		}
	}
	if dotCount != 1 {
		fail("%s: expected exactly one '.' entry, found %d (I4 violation)", path, dotCount)
	}
	if dotdotCount != 1 {
		fail("%s: expected exactly one '..' entry, found %d (I4 violation)", path, dotdotCount)
	}

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childPath := path + "/" + e.Name
		if e.Type == dirpage.TypeDirectory {
			ndirs++
			checkDirectory(cache, mgr, e.InodeID, id, totalBlocks, childPath)
		} else {
			nfiles++
			child, err := mgr.Get(e.InodeID)
			if err != nil {
				fail("%s: cannot read inode %d: %s", childPath, e.InodeID, err)
				continue
			}
			if child.ParentID != id {
				fail("%s: parent_id %d does not match expected %d (I3 violation)", childPath, child.ParentID, id)
			}
			if child.BlockCount > 0 {
				markExpected(child.StartBlock, child.BlockCount, totalBlocks, childPath)
			}
		}
	}
}

func run(path string) int {
	dev, err := blockdev.Open(path)
	if err != nil {
		fmt.Printf("ERROR: cannot open %s: %s\n", path, err)
		return 1
	}
	defer dev.Close()

	totalBlocks := dev.TotalBlocks()
	cache := bcache.New(dev, bcache.DefaultCapacity)

	bitmapBlocks := bitmap.NumBlocks(totalBlocks)
	capacity := totalBlocks / 64
	if capacity < 16 {
		capacity = 16
	}
	tableBlocks := (capacity*uint32(inode.Size) + blockdev.BlockSize - 1) / blockdev.BlockSize
	capacity = tableBlocks * uint32(inode.PerBlock)
	tableStart := bitmapBlocks
	reserved := tableStart + tableBlocks

	bm := bitmap.New(cache, totalBlocks, 0, reserved)
	if err := bm.Load(); err != nil {
		fmt.Printf("ERROR: cannot load bitmap: %s\n", err)
		return 1
	}

	mgr := inode.New(cache, bm, tableStart, tableBlocks, capacity)
	if err := mgr.Load(); err != nil {
		fmt.Printf("ERROR: cannot load inode table: %s\n", err)
		return 1
	}

	expectAlloc = make([]bool, totalBlocks)
	for b := uint32(0); b < reserved; b++ {
		expectAlloc[b] = true
	}

	ndirs = 1 // root
	checkDirectory(cache, mgr, inode.RootID, inode.RootID, totalBlocks, "")

	var expectedFree uint32
	for _, alloc := range expectAlloc {
		if !alloc {
			expectedFree++
		}
	}
	actualFree := bm.FreeCount()
	if expectedFree != actualFree {
		fail("free-count mismatch (I5 violation): bitmap reports %d free, walk found %d free", actualFree, expectedFree)
	}

	// Cross-check every allocated bit against the walk-derived expectation.
	for b := uint32(0); b < totalBlocks; b++ {
		onDisk := bm.IsAllocated(b)
		if onDisk != expectAlloc[b] {
			fail("block %d: bitmap says allocated=%v, walk expected %v", b, onDisk, expectAlloc[b])
		}
	}

	fmt.Printf("blocksize = %d\n", blockdev.BlockSize)
	fmt.Printf("totalblocks = %d\n", totalBlocks)
	fmt.Printf("%8d files\n", nfiles)
	fmt.Printf("%8d directories\n", ndirs)
	fmt.Printf("%8d free blocks (popcount-verified: %d set bits)\n", actualFree, totalBlocks-actualFree)

	if errors > 0 {
		fmt.Printf("\n%d inconsistencies found\n", errors)
		return 1
	}
	fmt.Println("\nfilesystem is consistent")
	return 0
}

func main() {
	flag.Parse()
	if *help || *filename == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -file <path>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	os.Exit(run(*filename))
}
