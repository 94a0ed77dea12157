// Package dirpage implements the in-memory representation of a
// directory's data block: a list of (name, inode id, type) entries with
// fixed-width binary serialization. Unlike a bare 64-byte NUL-padded
// name field, entries here also carry an inode-type byte in their
// on-disk form.
package dirpage

import (
	"encoding/binary"
	"fmt"

	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/ferr"
)

// EntryType discriminates the kind of inode a directory entry names.
type EntryType uint8

const (
	// TypeFile marks a regular file entry.
	TypeFile EntryType = 0
	// TypeDirectory marks a subdirectory entry.
	TypeDirectory EntryType = 1
)

// NameMaxLen is the longest name (in bytes) a directory entry can hold.
const NameMaxLen = 63

// nameFieldSize is the fixed on-disk width of the name field, including
// the NUL terminator budget.
const nameFieldSize = 64

// entrySize is the packed on-disk size of one directory entry: a 4-byte
// inode id, a 1-byte type, a 1-byte name length, and a 64-byte name field.
const entrySize = 4 + 1 + 1 + nameFieldSize

// headerSize is the 4-byte entry-count header preceding the entry array.
const headerSize = 4

// MaxEntries bounds how many entries a single directory page may hold:
// as many packed entries as fit after the header in one block.
const MaxEntries = (blockdev.BlockSize - headerSize) / entrySize

// Entry is one (name, inode id, type) directory record.
type Entry struct {
	Name    string
	InodeID uint32
	Type    EntryType
}

// Page is the in-memory representation of a directory's single data
// block.
type Page struct {
	entries []Entry
}

// New returns an empty directory page.
func New() *Page {
	return &Page{}
}

// Add inserts a new entry, rejecting duplicate names, over-length names,
// or a page already at MaxEntries.
func (p *Page) Add(name string, inodeID uint32, typ EntryType) error {
	if len(name) == 0 || len(name) > NameMaxLen {
		return fmt.Errorf("dirpage: name %q invalid length: %w", name, ferr.ErrInvalidName)
	}
	if p.Find(name) != nil {
		return fmt.Errorf("dirpage: entry %q: %w", name, ferr.ErrExists)
	}
	if len(p.entries) >= MaxEntries {
		return fmt.Errorf("dirpage: directory full (max %d entries): %w", MaxEntries, ferr.ErrNoSpace)
	}
	p.entries = append(p.entries, Entry{Name: name, InodeID: inodeID, Type: typ})
	return nil
}

// Remove deletes the entry with the given name. It is a no-op if the name
// is absent.
func (p *Page) Remove(name string) {
	for i, e := range p.entries {
		if e.Name == name {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Find returns the entry with the given name, or nil if absent.
func (p *Page) Find(name string) *Entry {
	for i := range p.entries {
		if p.entries[i].Name == name {
			return &p.entries[i]
		}
	}
	return nil
}

// List returns a copy of every entry in the page, in insertion order.
func (p *Page) List() []Entry {
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Count returns the number of entries in the page.
func (p *Page) Count() int {
	return len(p.entries)
}

// IsEmpty reports whether the directory has no entries beyond "." and
// "..".
func (p *Page) IsEmpty() bool {
	for _, e := range p.entries {
		if e.Name != "." && e.Name != ".." {
			return false
		}
	}
	return true
}

// Serialize encodes the page into a single block-sized, little-endian
// buffer: a u32 entry count followed by packed entries.
func (p *Page) Serialize() []byte {
	buf := make([]byte, blockdev.BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(p.entries)))

	off := headerSize
	for _, e := range p.entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.InodeID)
		buf[off+4] = byte(e.Type)
		buf[off+5] = byte(len(e.Name))
		copy(buf[off+6:off+6+nameFieldSize], []byte(e.Name))
		off += entrySize
	}
	return buf
}

// Deserialize decodes a block-sized buffer produced by Serialize back
// into a Page.
func Deserialize(buf []byte) (*Page, error) {
	if len(buf) != blockdev.BlockSize {
		return nil, fmt.Errorf("dirpage: buffer must be %d bytes, got %d: %w", blockdev.BlockSize, len(buf), ferr.ErrCorruption)
	}

	count := binary.LittleEndian.Uint32(buf[0:4])
	if count > MaxEntries {
		return nil, fmt.Errorf("dirpage: entry count %d exceeds block capacity %d: %w", count, MaxEntries, ferr.ErrCorruption)
	}

	p := &Page{entries: make([]Entry, 0, count)}
	off := headerSize
	for i := uint32(0); i < count; i++ {
		inodeID := binary.LittleEndian.Uint32(buf[off : off+4])
		typ := EntryType(buf[off+4])
		nameLen := int(buf[off+5])
		if nameLen > NameMaxLen {
			return nil, fmt.Errorf("dirpage: entry name length %d invalid: %w", nameLen, ferr.ErrCorruption)
		}
		name := string(buf[off+6 : off+6+nameLen])
		p.entries = append(p.entries, Entry{Name: name, InodeID: inodeID, Type: typ})
		off += entrySize
	}
	return p, nil
}
