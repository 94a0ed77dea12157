// Package inode implements the inode table, inode allocation,
// contiguous-extent resize, path resolution, and file/directory
// operations, using a fixed-size, single-contiguous-extent inode shape
// (no zone/indirect-block machinery, since multi-extent files are out
// of scope).
package inode

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/eduos/blockfs/internal/blockdev"
	"github.com/eduos/blockfs/internal/ferr"
)

// Type discriminates a file inode from a directory inode.
type Type uint8

const (
	// TypeFile marks a regular file.
	TypeFile Type = 0
	// TypeDirectory marks a directory.
	TypeDirectory Type = 1
)

// RootID is the fixed inode id of the filesystem root.
const RootID = 1

// Size is the fixed on-disk size of one inode record.
const Size = 128

// PerBlock is the number of inode records that fit in one block.
const PerBlock = blockdev.BlockSize / Size

// nameFieldSize is the width of the inode's name field.
const nameFieldSize = 64

// illegal characters in a file/directory name.
const illegalChars = `/\:*?"<>|`

// Inode is the in-memory form of one inode record.
type Inode struct {
	ID         uint32
	Type       Type
	Size       uint32
	StartBlock uint32
	BlockCount uint32
	ParentID   uint32
	CreateTime int64
	ModifyTime int64
	Name       string
}

// Encode serializes the inode into its fixed 128-byte little-endian
// record.
func (n *Inode) Encode() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint32(buf[0:4], n.ID)
	buf[4] = byte(n.Type)
	// buf[5:8] padding, left zero
	binary.LittleEndian.PutUint32(buf[8:12], n.Size)
	binary.LittleEndian.PutUint32(buf[12:16], n.StartBlock)
	binary.LittleEndian.PutUint32(buf[16:20], n.BlockCount)
	binary.LittleEndian.PutUint32(buf[20:24], n.ParentID)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(n.CreateTime))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(n.ModifyTime))
	name := n.Name
	if len(name) > nameFieldSize-1 {
		name = name[:nameFieldSize-1]
	}
	copy(buf[40:40+nameFieldSize], []byte(name))
	// buf[104:128] reserved, left zero
	return buf
}

// DecodeInode parses a 128-byte record produced by Encode.
func DecodeInode(buf []byte) (*Inode, error) {
	if len(buf) != Size {
		return nil, fmt.Errorf("inode: record must be %d bytes, got %d: %w", Size, len(buf), ferr.ErrCorruption)
	}
	n := &Inode{
		ID:         binary.LittleEndian.Uint32(buf[0:4]),
		Type:       Type(buf[4]),
		Size:       binary.LittleEndian.Uint32(buf[8:12]),
		StartBlock: binary.LittleEndian.Uint32(buf[12:16]),
		BlockCount: binary.LittleEndian.Uint32(buf[16:20]),
		ParentID:   binary.LittleEndian.Uint32(buf[20:24]),
		CreateTime: int64(binary.LittleEndian.Uint64(buf[24:32])),
		ModifyTime: int64(binary.LittleEndian.Uint64(buf[32:40])),
	}
	nameBytes := buf[40 : 40+nameFieldSize]
	if nul := indexByte(nameBytes, 0); nul >= 0 {
		n.Name = string(nameBytes[:nul])
	} else {
		n.Name = string(nameBytes)
	}
	return n, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// IsDirectory reports whether the inode describes a directory.
func (n *Inode) IsDirectory() bool {
	return n.Type == TypeDirectory
}

// IsFile reports whether the inode describes a regular file.
func (n *Inode) IsFile() bool {
	return n.Type == TypeFile
}

// ValidateName rejects empty names, names over 63 bytes, and names
// containing any of / \ : * ? " < > | or NUL.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > nameFieldSize-1 {
		return fmt.Errorf("inode: name %q has invalid length: %w", name, ferr.ErrInvalidName)
	}
	if strings.ContainsAny(name, illegalChars) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("inode: name %q contains an illegal character: %w", name, ferr.ErrInvalidName)
	}
	return nil
}

func now() int64 {
	return time.Now().Unix()
}
