// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// containerBuilder constructs .utoc/.ucas fixtures for the tests.
// Writing archives is out of scope for the package itself, so the
// writer lives here. The layout must match what Parse expects
// byte for byte; the format tests below lean on that.
type containerBuilder struct {
	mount         string
	blockSize     uint32
	partitionSize uint64
	containerId   uint64
	files         []builderFile
}

type builderFile struct {
	path   string // display case, relative to mount
	data   []byte
	method string
}

func newContainerBuilder() *containerBuilder {
	return &containerBuilder{
		mount:         "../../../Game/",
		blockSize:     64,
		partitionSize: 1 << 30,
		containerId:   0x1122334455667788,
	}
}

func (b *containerBuilder) add(path string, data []byte, method string) {
	b.files = append(b.files, builderFile{path: path, data: data, method: method})
}

// write lays the container down in dir and returns the table path.
func (b *containerBuilder) write(t testing.TB, dir string) string {
	t.Helper()

	methodIndex := map[string]uint8{methodNone: 0}
	var methodNames []string
	indexOf := func(name string) uint8 {
		if idx, ok := methodIndex[name]; ok {
			return idx
		}
		idx := uint8(len(methodNames) + 1)
		methodIndex[name] = idx
		methodNames = append(methodNames, name)
		return idx
	}

	var (
		ids     []ChunkId
		offsets []OffsetLength
		blocks  []CompressionBlock
		meta    []ChunkMeta
		paths   []tocPath
	)

	blockSize := uint64(b.blockSize)
	var logical, physical uint64

	for i, f := range b.files {
		canonical := strings.ToLower(f.path)
		id := ComputeChunkId(chunkTypeForPath(canonical), canonical)
		ids = append(ids, id)
		paths = append(paths, tocPath{relPath: f.path, chunkIndex: uint32(i)})

		// Chunk data starts block aligned in logical space.
		if logical%blockSize != 0 {
			logical += blockSize - logical%blockSize
		}
		offsets = append(offsets, OffsetLength{Offset: logical, Length: uint64(len(f.data))})
		logical += uint64(len(f.data))

		for start := 0; start < len(f.data); start += int(blockSize) {
			end := start + int(blockSize)
			if end > len(f.data) {
				end = len(f.data)
			}
			piece := f.data[start:end]
			stored := compressPiece(t, f.method, piece)

			// Blocks never straddle a partition boundary.
			if physical%b.partitionSize+uint64(len(stored)) > b.partitionSize {
				physical += b.partitionSize - physical%b.partitionSize
			}
			blocks = append(blocks, CompressionBlock{
				Offset:           physical,
				CompressedSize:   uint32(len(stored)),
				UncompressedSize: uint32(len(piece)),
				Method:           indexOf(f.method),
			})
			physical += uint64(len(stored))
		}

		m := ChunkMeta{Hash: blake3.Sum256(f.data)}
		meta = append(meta, m)
	}

	dirIndex := encodeDirectoryIndex(b.mount, paths)

	partitionCount := int(physical/b.partitionSize) + 1

	flags := uint8(containerFlagIndexed)
	if len(methodNames) > 0 {
		flags |= containerFlagCompressed
	}

	header := tocHeader{
		Version:                    tocVersion,
		HeaderSize:                 tocHeaderSize,
		EntryCount:                 uint32(len(ids)),
		CompressedBlockEntryCount:  uint32(len(blocks)),
		CompressedBlockEntrySize:   compressedBlockSize,
		CompressionMethodNameCount: uint32(len(methodNames)),
		CompressionMethodNameLen:   methodNameLength,
		CompressionBlockSize:       b.blockSize,
		DirectoryIndexSize:         uint32(len(dirIndex)),
		PartitionCount:             uint32(partitionCount),
		ContainerId:                b.containerId,
		ContainerFlags:             flags,
		PartitionSize:              b.partitionSize,
	}
	copy(header.Magic[:], tocMagic)

	var toc bytes.Buffer
	if err := binary.Write(&toc, binary.LittleEndian, &header); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, id := range ids {
		toc.Write(id[:])
	}
	var rec [offsetLengthSize]byte
	for _, ol := range offsets {
		encodeOffsetLength(rec[:], ol)
		toc.Write(rec[:])
	}
	var brec [compressedBlockSize]byte
	for _, cb := range blocks {
		encodeCompressionBlock(brec[:], cb)
		toc.Write(brec[:])
	}
	for _, name := range methodNames {
		var padded [methodNameLength]byte
		copy(padded[:], name)
		toc.Write(padded[:])
	}
	toc.Write(dirIndex)
	for _, m := range meta {
		toc.Write(m.Hash[:])
		toc.WriteByte(m.Flags)
	}

	tocPathName := filepath.Join(dir, "test.utoc")
	if err := os.WriteFile(tocPathName, toc.Bytes(), 0644); err != nil {
		t.Fatalf("write toc: %v", err)
	}

	// Partition files: replay the blocks into per-partition buffers.
	partitions := make([][]byte, partitionCount)
	blockIdx := 0
	for _, f := range b.files {
		for start := 0; start < len(f.data); start += int(blockSize) {
			end := start + int(blockSize)
			if end > len(f.data) {
				end = len(f.data)
			}
			stored := compressPiece(t, f.method, f.data[start:end])
			cb := blocks[blockIdx]
			blockIdx++

			part := int(cb.Offset / b.partitionSize)
			within := int(cb.Offset % b.partitionSize)
			if need := within + len(stored); need > len(partitions[part]) {
				partitions[part] = append(partitions[part], make([]byte, need-len(partitions[part]))...)
			}
			copy(partitions[part][within:], stored)
		}
	}
	for i, data := range partitions {
		name := filepath.Join(dir, "test.ucas")
		if i > 0 {
			name = filepath.Join(dir, fmt.Sprintf("test_s%d.ucas", i))
		}
		if err := os.WriteFile(name, data, 0644); err != nil {
			t.Fatalf("write partition %d: %v", i, err)
		}
	}

	return tocPathName
}

// compressPiece compresses one block's worth of data with the named
// method, using the same codecs the package reads with.
func compressPiece(t testing.TB, method string, piece []byte) []byte {
	t.Helper()
	switch method {
	case methodNone:
		return piece

	case methodZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(piece); err != nil {
			t.Fatalf("zlib compress: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("zlib close: %v", err)
		}
		return buf.Bytes()

	case methodZstd:
		w, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		defer w.Close()
		return w.EncodeAll(piece, nil)

	case methodLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(piece)))
		n, err := lz4.CompressBlock(piece, dst, nil)
		if err != nil {
			t.Fatalf("lz4 compress: %v", err)
		}
		if n == 0 {
			t.Fatalf("lz4: test data incompressible; use repetitive fixture data")
		}
		return dst[:n]

	default:
		t.Fatalf("unknown method %q", method)
		return nil
	}
}

// encodeDirectoryIndex serializes the mount point, directory entries,
// file entries and string table for the given paths.
func encodeDirectoryIndex(mount string, paths []tocPath) []byte {
	type buildDir struct {
		name     string
		children map[string]*buildDir
		order    []string
		files    []tocPath // leaf name in relPath
	}
	newDir := func(name string) *buildDir {
		return &buildDir{name: name, children: make(map[string]*buildDir)}
	}
	root := newDir("")

	for _, p := range paths {
		parts := strings.Split(p.relPath, "/")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node.children[part]
			if !ok {
				child = newDir(part)
				node.children[part] = child
				node.order = append(node.order, part)
			}
			node = child
		}
		node.files = append(node.files, tocPath{relPath: parts[len(parts)-1], chunkIndex: p.chunkIndex})
	}

	var (
		strTable []string
		strIndex = make(map[string]uint32)
		dirs     []dirEntry
		files    []fileEntry
	)
	internString := func(s string) uint32 {
		if idx, ok := strIndex[s]; ok {
			return idx
		}
		idx := uint32(len(strTable))
		strIndex[s] = idx
		strTable = append(strTable, s)
		return idx
	}

	var flatten func(d *buildDir, nameIdx uint32) uint32
	flatten = func(d *buildDir, nameIdx uint32) uint32 {
		self := uint32(len(dirs))
		dirs = append(dirs, dirEntry{
			Name:        nameIdx,
			FirstChild:  indexNone,
			NextSibling: indexNone,
			FirstFile:   indexNone,
		})

		sort.Slice(d.files, func(i, j int) bool { return d.files[i].relPath < d.files[j].relPath })
		prevFile := uint32(indexNone)
		for i := len(d.files) - 1; i >= 0; i-- {
			f := d.files[i]
			files = append(files, fileEntry{
				Name:       internString(f.relPath),
				NextFile:   prevFile,
				ChunkIndex: f.chunkIndex,
			})
			prevFile = uint32(len(files) - 1)
		}
		dirs[self].FirstFile = prevFile

		prevChild := uint32(indexNone)
		for i := len(d.order) - 1; i >= 0; i-- {
			child := d.children[d.order[i]]
			idx := flatten(child, internString(child.name))
			dirs[idx].NextSibling = prevChild
			prevChild = idx
		}
		dirs[self].FirstChild = prevChild
		return self
	}
	flatten(root, indexNone)

	out := appendString(nil, mount)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(dirs)))
	for _, d := range dirs {
		out = binary.LittleEndian.AppendUint32(out, d.Name)
		out = binary.LittleEndian.AppendUint32(out, d.FirstChild)
		out = binary.LittleEndian.AppendUint32(out, d.NextSibling)
		out = binary.LittleEndian.AppendUint32(out, d.FirstFile)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(files)))
	for _, f := range files {
		out = binary.LittleEndian.AppendUint32(out, f.Name)
		out = binary.LittleEndian.AppendUint32(out, f.NextFile)
		out = binary.LittleEndian.AppendUint32(out, f.ChunkIndex)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(strTable)))
	for _, s := range strTable {
		out = appendString(out, s)
	}
	return out
}
