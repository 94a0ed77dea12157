// Package blockdev implements the fixed-size block I/O layer over a
// backing host file: a single fixed little-endian 4096-byte block
// device built on the standard error interface.
package blockdev

import (
	"fmt"
	"os"

	"github.com/eduos/blockfs/internal/ferr"
)

// BlockSize is the fixed size, in bytes, of every block on the device.
const BlockSize = 4096

// Device is a fixed-size block device backed by a single host file.
type Device struct {
	file        *os.File
	path        string
	totalBlocks uint32
}

// Create makes (or truncates) the backing file at path, zero-fills it to
// totalBlocks*BlockSize bytes, and returns a Device opened read/write.
func Create(path string, totalBlocks uint32) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, ferr.ErrIO)
	}

	size := int64(totalBlocks) * int64(BlockSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: zero-fill %s: %w", path, ferr.ErrIO)
	}

	return &Device{file: f, path: path, totalBlocks: totalBlocks}, nil
}

// Open opens an existing backing file and derives its block count from
// the file's size.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, ferr.ErrIO)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, ferr.ErrIO)
	}

	total := uint32(info.Size() / BlockSize)
	return &Device{file: f, path: path, totalBlocks: total}, nil
}

// TotalBlocks returns the number of addressable blocks on the device.
func (d *Device) TotalBlocks() uint32 {
	return d.totalBlocks
}

// Path returns the backing file's path.
func (d *Device) Path() string {
	return d.path
}

func (d *Device) checkIndex(idx uint32) error {
	if idx >= d.totalBlocks {
		return fmt.Errorf("blockdev: block %d out of range (total %d): %w", idx, d.totalBlocks, ferr.ErrIO)
	}
	return nil
}

// ReadBlock reads exactly BlockSize bytes from block idx into buf.
func (d *Device) ReadBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d: %w", BlockSize, len(buf), ferr.ErrIO)
	}
	if err := d.checkIndex(idx); err != nil {
		return err
	}

	off := int64(idx) * int64(BlockSize)
	n, err := d.file.ReadAt(buf, off)
	if err != nil || n != BlockSize {
		return fmt.Errorf("blockdev: read block %d: %w", idx, ferr.ErrIO)
	}
	return nil
}

// WriteBlock writes exactly BlockSize bytes from buf to block idx, then
// flushes to the host file.
func (d *Device) WriteBlock(idx uint32, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d: %w", BlockSize, len(buf), ferr.ErrIO)
	}
	if err := d.checkIndex(idx); err != nil {
		return err
	}

	off := int64(idx) * int64(BlockSize)
	n, err := d.file.WriteAt(buf, off)
	if err != nil || n != BlockSize {
		return fmt.Errorf("blockdev: write block %d: %w", idx, ferr.ErrIO)
	}
	return d.file.Sync()
}

// CopyBlocks performs a byte-exact, contiguous, read-then-write copy of
// count blocks starting at src to dst.
func (d *Device) CopyBlocks(src, dst, count uint32) error {
	buf := make([]byte, BlockSize)
	for i := uint32(0); i < count; i++ {
		if err := d.ReadBlock(src+i, buf); err != nil {
			return err
		}
		if err := d.WriteBlock(dst+i, buf); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the backing file.
func (d *Device) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("blockdev: close %s: %w", d.path, ferr.ErrIO)
	}
	return nil
}
