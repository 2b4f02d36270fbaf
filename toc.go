// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Toc is a parsed, immutable table of contents. It is the output of
// Parse and the input to the unified table rebuild; nothing mutates it
// after Parse returns.
type Toc struct {
	ContainerId          uint64
	ContainerFlags       uint8
	CompressionBlockSize uint32
	PartitionCount       uint32
	PartitionSize        uint64
	MountPoint           string

	ChunkIds []ChunkId
	Offsets  []OffsetLength
	Blocks   []CompressionBlock
	Methods  []string // Methods[0] is always "None"
	Meta     []ChunkMeta

	// paths maps each indexed chunk to its virtual path relative to
	// the mount point, in original case. Chunks absent from the
	// directory index (loader metadata, the container header) have no
	// path and are addressed by id only.
	paths []tocPath
}

// tocPath associates a directory index path with a chunk slot.
type tocPath struct {
	relPath    string // display case, '/' separated, relative to mount
	chunkIndex uint32
}

// Paths returns the virtual paths named by the directory index, in
// index order, relative to the mount point.
func (t *Toc) Paths() []string {
	out := make([]string, len(t.paths))
	for i, p := range t.paths {
		out[i] = p.relPath
	}
	return out
}

// Parse decodes a table of contents captured from disk or from the
// host process. Validation is strict and fail-fast: the magic is
// checked first, then the version, and any truncation or inconsistency
// aborts the parse. A corrupt table is never returned partially
// decoded; serving wrong offsets into a multi-gigabyte archive is
// worse than refusing to start.
func Parse(tocBytes []byte) (*Toc, error) {
	if len(tocBytes) < tocHeaderSize {
		return nil, fmt.Errorf("table is %d bytes: %w", len(tocBytes), ErrTruncated)
	}

	var h tocHeader
	if err := binary.Read(bytes.NewReader(tocBytes), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if string(h.Magic[:]) != tocMagic {
		return nil, fmt.Errorf("magic %q: %w", h.Magic, ErrBadMagic)
	}
	if h.Version != tocVersion {
		return nil, fmt.Errorf("version %d (want %d): %w", h.Version, tocVersion, ErrUnsupportedVersion)
	}
	if h.HeaderSize != tocHeaderSize {
		return nil, fmt.Errorf("header size %d (want %d): %w", h.HeaderSize, tocHeaderSize, ErrUnsupportedVersion)
	}
	if h.CompressedBlockEntrySize != compressedBlockSize {
		return nil, fmt.Errorf("block entry size %d (want %d): %w",
			h.CompressedBlockEntrySize, compressedBlockSize, ErrUnsupportedVersion)
	}
	if h.ContainerFlags&containerFlagEncrypted != 0 {
		return nil, ErrEncrypted
	}
	if h.ContainerFlags&containerFlagSigned != 0 {
		return nil, ErrSigned
	}
	if h.CompressionBlockSize == 0 {
		return nil, fmt.Errorf("compression block size is zero: %w", ErrUnsupportedVersion)
	}
	if h.PartitionCount == 0 || h.PartitionSize == 0 {
		return nil, fmt.Errorf("partition layout %d x %d: %w",
			h.PartitionCount, h.PartitionSize, ErrUnsupportedVersion)
	}

	toc := &Toc{
		ContainerId:          h.ContainerId,
		ContainerFlags:       h.ContainerFlags,
		CompressionBlockSize: h.CompressionBlockSize,
		PartitionCount:       h.PartitionCount,
		PartitionSize:        h.PartitionSize,
	}

	body := tocBytes[tocHeaderSize:]
	off := 0

	// Chunk ids.
	n := int(h.EntryCount) * chunkIdSize
	if off+n > len(body) {
		return nil, fmt.Errorf("chunk ids: %w", ErrTruncated)
	}
	toc.ChunkIds = make([]ChunkId, h.EntryCount)
	for i := range toc.ChunkIds {
		id, err := ParseChunkId(body[off+i*chunkIdSize : off+(i+1)*chunkIdSize])
		if err != nil {
			return nil, err
		}
		toc.ChunkIds[i] = id
	}
	off += n

	// Offset and length records.
	n = int(h.EntryCount) * offsetLengthSize
	if off+n > len(body) {
		return nil, fmt.Errorf("offset records: %w", ErrTruncated)
	}
	toc.Offsets = make([]OffsetLength, h.EntryCount)
	for i := range toc.Offsets {
		toc.Offsets[i] = decodeOffsetLength(body[off+i*offsetLengthSize:])
	}
	off += n

	// Compression blocks.
	n = int(h.CompressedBlockEntryCount) * compressedBlockSize
	if off+n > len(body) {
		return nil, fmt.Errorf("compression blocks: %w", ErrTruncated)
	}
	toc.Blocks = make([]CompressionBlock, h.CompressedBlockEntryCount)
	for i := range toc.Blocks {
		toc.Blocks[i] = decodeCompressionBlock(body[off+i*compressedBlockSize:])
	}
	off += n

	// Compression method names. Index 0 is the implicit "None"; the
	// stored names begin at method index 1.
	if h.CompressionMethodNameLen != methodNameLength {
		return nil, fmt.Errorf("method name length %d (want %d): %w",
			h.CompressionMethodNameLen, methodNameLength, ErrUnsupportedVersion)
	}
	n = int(h.CompressionMethodNameCount) * methodNameLength
	if off+n > len(body) {
		return nil, fmt.Errorf("method names: %w", ErrTruncated)
	}
	toc.Methods = make([]string, 1, h.CompressionMethodNameCount+1)
	toc.Methods[0] = methodNone
	for i := 0; i < int(h.CompressionMethodNameCount); i++ {
		raw := body[off+i*methodNameLength : off+(i+1)*methodNameLength]
		toc.Methods = append(toc.Methods, strings.TrimRight(string(raw), "\x00"))
	}
	off += n

	// Directory index.
	if h.ContainerFlags&containerFlagIndexed != 0 {
		n = int(h.DirectoryIndexSize)
		if off+n > len(body) {
			return nil, fmt.Errorf("directory index: %w", ErrTruncated)
		}
		mount, paths, err := parseDirectoryIndex(body[off : off+n])
		if err != nil {
			return nil, err
		}
		toc.MountPoint = mount
		toc.paths = paths
		off += n
	} else if h.DirectoryIndexSize != 0 {
		return nil, fmt.Errorf("directory index present without indexed flag: %w", ErrUnsupportedVersion)
	}

	// Per-chunk meta records.
	n = int(h.EntryCount) * (32 + 1)
	if off+n > len(body) {
		return nil, fmt.Errorf("chunk meta: %w", ErrTruncated)
	}
	toc.Meta = make([]ChunkMeta, h.EntryCount)
	for i := range toc.Meta {
		rec := body[off+i*33:]
		copy(toc.Meta[i].Hash[:], rec[:32])
		toc.Meta[i].Flags = rec[32]
	}

	if err := toc.validate(); err != nil {
		return nil, err
	}
	return toc, nil
}

// validate cross-checks the decoded tables against each other: every
// path must name a real chunk slot, every block range implied by an
// offset record must exist, blocks must use known method indexes and
// must not straddle a partition boundary.
func (t *Toc) validate() error {
	for _, p := range t.paths {
		if int(p.chunkIndex) >= len(t.ChunkIds) {
			return fmt.Errorf("path %q names chunk %d of %d: %w",
				p.relPath, p.chunkIndex, len(t.ChunkIds), ErrTruncated)
		}
	}

	blockSize := uint64(t.CompressionBlockSize)
	for i, ol := range t.Offsets {
		if ol.Offset%blockSize != 0 {
			return fmt.Errorf("chunk %d offset 0x%x not block aligned: %w",
				i, ol.Offset, ErrUnsupportedVersion)
		}
		first := ol.Offset / blockSize
		count := (ol.Length + blockSize - 1) / blockSize
		if first+count > uint64(len(t.Blocks)) {
			return fmt.Errorf("chunk %d needs blocks [%d,%d) of %d: %w",
				i, first, first+count, len(t.Blocks), ErrTruncated)
		}
	}

	for i, b := range t.Blocks {
		if int(b.Method) >= len(t.Methods) {
			return fmt.Errorf("block %d method %d of %d: %w",
				i, b.Method, len(t.Methods), ErrUnsupportedVersion)
		}
		if b.CompressedSize > 0 &&
			b.Offset/t.PartitionSize != (b.Offset+uint64(b.CompressedSize)-1)/t.PartitionSize {
			return fmt.Errorf("block %d straddles partition boundary: %w", i, ErrUnsupportedVersion)
		}
		if b.Offset/t.PartitionSize >= uint64(t.PartitionCount) {
			return fmt.Errorf("block %d in partition %d of %d: %w",
				i, b.Offset/t.PartitionSize, t.PartitionCount, ErrTruncated)
		}
	}
	return nil
}

// blockRange returns the compression block span [first, first+count)
// backing the chunk at slot i.
func (t *Toc) blockRange(i int) (first, count int) {
	blockSize := uint64(t.CompressionBlockSize)
	ol := t.Offsets[i]
	return int(ol.Offset / blockSize), int((ol.Length + blockSize - 1) / blockSize)
}
