// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"fmt"
	"io"
	"os"
)

// ChunkHandle is an open chunk. Handles are cheap, safe for concurrent
// reads, and pinned to the table generation that was current at open
// time; a rebuild landing mid-read does not affect them.
type ChunkHandle struct {
	entry *ChunkEntry
	toc   *Toc
	parts []*os.File
	loose *os.File
}

// OpenChunk opens the chunk with the given id, or returns ErrNotFound
// when the unified table has no entry for it. NotFound means "the
// original engine would have reported this resource as missing", not
// an emulator malfunction.
func (em *Emulator) OpenChunk(id ChunkId) (*ChunkHandle, error) {
	table := em.table.Load()
	if table == nil {
		return nil, ErrClosed
	}
	entry, ok := table.entries[id]
	if !ok {
		return nil, ErrNotFound
	}

	h := &ChunkHandle{entry: entry, toc: table.toc, parts: table.partitions}
	if entry.Source == SourceLoose {
		f, err := os.Open(entry.LoosePath)
		if err != nil {
			return nil, &ReadError{Path: entry.LoosePath, Err: err}
		}
		h.loose = f
	}
	return h, nil
}

// Entry returns the table entry backing this handle.
func (h *ChunkHandle) Entry() *ChunkEntry { return h.entry }

// Size returns the chunk's logical byte length.
func (h *ChunkHandle) Size() int64 { return h.entry.Size() }

// Close releases the handle. Closing a container-backed handle is a
// no-op; the partition files belong to the emulator.
func (h *ChunkHandle) Close() error {
	if h.loose != nil {
		err := h.loose.Close()
		h.loose = nil
		return err
	}
	return nil
}

// ReadAt reads logical chunk bytes at off. Container chunks are
// translated through their compression blocks and decompressed as
// needed; loose chunks read the substituted file directly, so the
// caller always receives bytes in decompressed representation. The
// io.ReaderAt contract applies: a read past the end returns io.EOF,
// and a short read at the end returns the count with io.EOF.
func (h *ChunkHandle) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("utoc: negative read offset %d", off)
	}
	size := h.entry.Size()
	if off >= size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}

	want := len(p)
	if off+int64(want) > size {
		want = int(size - off)
	}

	var n int
	var err error
	if h.entry.Source == SourceLoose {
		n, err = h.loose.ReadAt(p[:want], off)
		if err != nil && err != io.EOF {
			return n, &ReadError{Path: h.entry.LoosePath, Err: err}
		}
		if n < want {
			// The file shrank after the table was built. Truncated
			// content must not be passed off as a success.
			return n, &ReadError{Path: h.entry.LoosePath, Err: io.ErrUnexpectedEOF}
		}
	} else {
		n, err = h.readContainer(p[:want], uint64(off))
		if err != nil {
			return n, err
		}
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// readContainer serves a logical range of a container chunk by
// walking the compression blocks that cover it.
func (h *ChunkHandle) readContainer(p []byte, off uint64) (int, error) {
	blockSize := uint64(h.toc.CompressionBlockSize)
	entry := h.entry

	n := 0
	for n < len(p) {
		logical := off + uint64(n)
		rel := int(logical / blockSize)
		if rel >= entry.blockCount {
			break
		}
		block := h.toc.Blocks[entry.firstBlock+rel]

		data, err := h.readBlock(block)
		if err != nil {
			return n, err
		}

		within := int(logical % blockSize)
		if within >= len(data) {
			return n, &ReadError{
				Path: h.partitionName(block.Offset),
				Err:  fmt.Errorf("block %d shorter than read offset", entry.firstBlock+rel),
			}
		}
		n += copy(p[n:], data[within:])
	}
	return n, nil
}

// readBlock fetches and decompresses one compression block from the
// partition that holds it.
func (h *ChunkHandle) readBlock(block CompressionBlock) ([]byte, error) {
	part := int(block.Offset / h.toc.PartitionSize)
	within := int64(block.Offset % h.toc.PartitionSize)
	if part >= len(h.parts) {
		return nil, &ReadError{
			Path: h.partitionName(block.Offset),
			Err:  fmt.Errorf("partition %d not open", part),
		}
	}

	raw := make([]byte, block.CompressedSize)
	if _, err := h.parts[part].ReadAt(raw, within); err != nil {
		return nil, &ReadError{Path: h.parts[part].Name(), Err: err}
	}

	data, err := decompressBlock(h.toc.Methods[block.Method], raw, block.UncompressedSize)
	if err != nil {
		return nil, &ReadError{Path: h.parts[part].Name(), Err: err}
	}
	return data, nil
}

func (h *ChunkHandle) partitionName(offset uint64) string {
	part := int(offset / h.toc.PartitionSize)
	if part < len(h.parts) {
		return h.parts[part].Name()
	}
	return fmt.Sprintf("partition %d", part)
}
