// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/zeebo/blake3"
)

// ChunkType tags the kind of content a chunk holds. The tag is part of
// the chunk id, so the same path hashed under two types yields two
// distinct ids.
type ChunkType uint8

const (
	ChunkTypeInvalid              ChunkType = 0
	ChunkTypeInstallManifest      ChunkType = 1
	ChunkTypeExportBundleData     ChunkType = 2
	ChunkTypeBulkData             ChunkType = 3
	ChunkTypeOptionalBulkData     ChunkType = 4
	ChunkTypeMemoryMappedBulkData ChunkType = 5
	ChunkTypeLoaderGlobalMeta     ChunkType = 6
	ChunkTypeLoaderInitialLoad    ChunkType = 7
	ChunkTypeLoaderGlobalNames    ChunkType = 8
	ChunkTypeLoaderNameHashes     ChunkType = 9
	ChunkTypeContainerHeader      ChunkType = 10
)

// ChunkId is the 12-byte content-address key the container format uses
// to name a chunk: a 64-bit path hash (little-endian, high two bits
// reserved), a 16-bit chunk index, a reserved byte and the chunk type.
// The host process recomputes the same key when requesting a read, so
// equality and ordering are defined over the raw key bytes.
type ChunkId [chunkIdSize]byte

// hashMask62 clears the two high bits of the path hash; that tag space
// is reserved by the format.
const hashMask62 = ^(uint64(3) << 62)

// ComputeChunkId computes the chunk id for a canonical virtual path.
// The path must already be canonical (see Canonicalize); the hash is
// taken over its UTF-16LE encoding, matching the engine's wide-string
// hashing.
func ComputeChunkId(kind ChunkType, canonicalPath string) ChunkId {
	code := utf16.Encode([]rune(canonicalPath))
	wide := make([]byte, len(code)*2)
	for i, u := range code {
		binary.LittleEndian.PutUint16(wide[i*2:], u)
	}

	sum := blake3.Sum256(wide)
	hash := binary.LittleEndian.Uint64(sum[:8]) & hashMask62

	var id ChunkId
	binary.LittleEndian.PutUint64(id[0:8], hash)
	// Bytes 8..10 hold the chunk index, zero for whole-file chunks.
	// Byte 10 is reserved.
	id[11] = byte(kind)
	return id
}

// ParseChunkId decodes a chunk id from its raw key bytes. A slice of
// the wrong width is a hard error: the caller must treat the
// surrounding table as corrupt.
func ParseChunkId(raw []byte) (ChunkId, error) {
	var id ChunkId
	if len(raw) != chunkIdSize {
		return id, fmt.Errorf("utoc: chunk id is %d bytes, want %d: %w",
			len(raw), chunkIdSize, ErrTruncated)
	}
	copy(id[:], raw)
	return id, nil
}

// Type returns the chunk type tag.
func (id ChunkId) Type() ChunkType { return ChunkType(id[11]) }

// Index returns the chunk index (non-zero for split chunks).
func (id ChunkId) Index() uint16 { return binary.LittleEndian.Uint16(id[8:10]) }

// Hash returns the 62-bit path hash portion of the id.
func (id ChunkId) Hash() uint64 { return binary.LittleEndian.Uint64(id[0:8]) }

// WithIndex returns a copy of the id with the chunk index set.
func (id ChunkId) WithIndex(index uint16) ChunkId {
	binary.LittleEndian.PutUint16(id[8:10], index)
	return id
}

// IsValid reports whether the id carries a known, non-invalid type.
func (id ChunkId) IsValid() bool {
	return id.Type() != ChunkTypeInvalid && id.Type() <= ChunkTypeContainerHeader
}

// Less orders two ids by their raw key bytes, the same order the
// on-disk table uses.
func (id ChunkId) Less(other ChunkId) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// String renders the id as hex, for logs and errors.
func (id ChunkId) String() string {
	return hex.EncodeToString(id[:])
}

// Canonicalize normalizes a virtual path for hashing and lookup:
// backslashes become forward slashes, duplicate separators collapse,
// the mount point prefix is stripped when present, and the result is
// case-folded. Two paths naming the same logical file always
// canonicalize identically; a computed and a parsed id for the same
// file would otherwise diverge and the override would silently fail to
// match.
func Canonicalize(path, mountPoint string) string {
	p := normalizeSeparators(path)
	mount := normalizeSeparators(mountPoint)
	mount = strings.TrimSuffix(mount, "/")
	if mount != "" && strings.HasPrefix(p, mount+"/") {
		p = p[len(mount)+1:]
	}
	return strings.TrimPrefix(p, "/")
}

// normalizeSeparators lowercases a path and normalizes its separators.
func normalizeSeparators(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.ToLower(p)
}

// chunkTypeForPath picks the chunk type for a loose file added to the
// container, based on the asset extension conventions of the engine.
func chunkTypeForPath(canonicalPath string) ChunkType {
	switch {
	case strings.HasSuffix(canonicalPath, ".m.ubulk"):
		return ChunkTypeMemoryMappedBulkData
	case strings.HasSuffix(canonicalPath, ".ubulk"):
		return ChunkTypeBulkData
	case strings.HasSuffix(canonicalPath, ".uptnl"):
		return ChunkTypeOptionalBulkData
	default:
		return ChunkTypeExportBundleData
	}
}
