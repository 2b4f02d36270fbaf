// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"encoding/binary"
)

// Table of contents format constants (version 3 layout).
const (
	// Magic signature at offset 0 of every table of contents.
	tocMagic = "-==--==--==--==-"

	// The one table version this package targets.
	tocVersion = 3

	// Fixed header size. Everything after the header is located by
	// the counts and sizes the header declares.
	tocHeaderSize = 144

	// On-disk sizes of the fixed-width table records.
	chunkIdSize         = 12
	offsetLengthSize    = 10
	compressedBlockSize = 12

	// Compression method names are fixed-width, NUL padded.
	methodNameLength = 32

	// Sentinel for "no entry" in directory and file index records.
	indexNone = 0xFFFFFFFF
)

// Container flags.
const (
	containerFlagCompressed = 1 << 0
	containerFlagEncrypted  = 1 << 1
	containerFlagSigned     = 1 << 2
	containerFlagIndexed    = 1 << 3
)

// tocHeader is the fixed 144-byte table of contents header. Field
// order and widths match the on-disk layout exactly; the struct is
// decoded in one binary.Read.
type tocHeader struct {
	Magic                      [16]byte
	Version                    uint8
	Reserved0                  uint8
	Reserved1                  uint16
	HeaderSize                 uint32
	EntryCount                 uint32
	CompressedBlockEntryCount  uint32
	CompressedBlockEntrySize   uint32
	CompressionMethodNameCount uint32
	CompressionMethodNameLen   uint32
	CompressionBlockSize       uint32
	DirectoryIndexSize         uint32
	PartitionCount             uint32
	ContainerId                uint64
	EncryptionKeyGuid          [16]byte
	ContainerFlags             uint8
	Reserved3                  uint8
	Reserved4                  uint16
	PartitionSize              uint64
	Reserved5                  [52]byte
}

// OffsetLength locates a chunk in logical container space. Offsets are
// aligned to the compression block size; the block table is indexed by
// logical offset / block size.
type OffsetLength struct {
	Offset uint64
	Length uint64
}

// CompressionBlock describes one independently compressed sub-range of
// container data. Offset is the physical byte position across the
// partition files; Method indexes the table's method name list, with 0
// meaning stored uncompressed.
type CompressionBlock struct {
	Offset           uint64
	CompressedSize   uint32
	UncompressedSize uint32
	Method           uint8
}

// ChunkMeta is the per-chunk metadata record trailing the directory
// index: a BLAKE3-256 hash of the chunk's uncompressed content plus a
// flags byte.
type ChunkMeta struct {
	Hash  [32]byte
	Flags uint8
}

// The offset and length of an OffsetLength record are stored as 5-byte
// big-endian integers, packing two 40-bit values into 10 bytes.

func getUint40(b []byte) uint64 {
	return uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 |
		uint64(b[3])<<8 | uint64(b[4])
}

func putUint40(b []byte, v uint64) {
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// decodeOffsetLength decodes a 10-byte offset+length record.
func decodeOffsetLength(b []byte) OffsetLength {
	return OffsetLength{
		Offset: getUint40(b[0:5]),
		Length: getUint40(b[5:10]),
	}
}

// encodeOffsetLength encodes a 10-byte offset+length record.
func encodeOffsetLength(b []byte, ol OffsetLength) {
	putUint40(b[0:5], ol.Offset)
	putUint40(b[5:10], ol.Length)
}

// decodeCompressionBlock decodes a 12-byte compression block entry:
// 5-byte offset, 3-byte compressed size, 3-byte uncompressed size,
// 1-byte method index.
func decodeCompressionBlock(b []byte) CompressionBlock {
	return CompressionBlock{
		Offset:           getUint40(b[0:5]),
		CompressedSize:   getUint24(b[5:8]),
		UncompressedSize: getUint24(b[8:11]),
		Method:           b[11],
	}
}

// encodeCompressionBlock encodes a 12-byte compression block entry.
func encodeCompressionBlock(b []byte, cb CompressionBlock) {
	putUint40(b[0:5], cb.Offset)
	putUint24(b[5:8], cb.CompressedSize)
	putUint24(b[8:11], cb.UncompressedSize)
	b[11] = cb.Method
}

// readString reads a length-prefixed string from b at off: a uint32
// byte count including the NUL terminator, then the bytes. Returns the
// string and the offset past the terminator, or ok=false on
// truncation.
func readString(b []byte, off int) (s string, next int, ok bool) {
	if off+4 > len(b) {
		return "", 0, false
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if n == 0 || off+n > len(b) {
		return "", 0, false
	}
	return string(b[off : off+n-1]), off + n, true
}

// appendString appends the length-prefixed encoding of s to b.
func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)+1))
	b = append(b, s...)
	return append(b, 0)
}
