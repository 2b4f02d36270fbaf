// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"os"
	"strings"
)

// ChunkSource says where a chunk's bytes live.
type ChunkSource int

const (
	// SourceContainer serves bytes from the original partition files.
	SourceContainer ChunkSource = iota

	// SourceLoose serves bytes from a substituted file on disk.
	SourceLoose
)

// ChunkEntry locates one chunk in the unified table. Entries are
// created during a rebuild and never mutated after their table is
// published.
type ChunkEntry struct {
	Id     ChunkId
	Source ChunkSource

	// Container entries: logical placement plus the backing
	// compression block span.
	Offset     uint64
	Length     uint64
	firstBlock int
	blockCount int

	// Loose entries: the file on disk serving this chunk.
	LoosePath string
	LooseSize int64
}

// Size returns the chunk's logical byte length.
func (e *ChunkEntry) Size() int64 {
	if e.Source == SourceLoose {
		return e.LooseSize
	}
	return int64(e.Length)
}

// Compressed reports whether reads of this chunk pass through
// compression blocks. Loose entries are always served raw: the
// compression layout belongs to the archive's storage, not to the
// logical content.
func (e *ChunkEntry) Compressed() bool {
	return e.Source == SourceContainer && e.blockCount > 0
}

// unifiedTable is one immutable generation of the merged view: every
// chunk of the original container plus every override and added file,
// exactly one entry per reachable path. Readers hold a generation for
// the duration of a call; rebuilds produce a replacement and swap it
// in whole. The open partition files ride along so a reader never
// touches emulator state outside the generation it loaded.
type unifiedTable struct {
	toc        *Toc
	partitions []*os.File
	entries    map[ChunkId]*ChunkEntry
	byPath     map[string]ChunkId // canonical relative path -> id
	tree       *DirectoryNode
}

// buildUnifiedTable folds the parsed table and the scanned override
// roots into a fresh generation. The original table contributes every
// chunk verbatim; the resolver's winners then replace overridden
// entries with loose ones and append entries for added paths. Every
// path-addressed entry's id is recomputed from its canonical path and
// must match, so host lookups by id succeed identically whether the
// path was overridden or not.
func buildUnifiedTable(toc *Toc, roots []*scannedRoot) (*unifiedTable, error) {
	t := &unifiedTable{
		toc:     toc,
		entries: make(map[ChunkId]*ChunkEntry, len(toc.ChunkIds)),
		byPath:  make(map[string]ChunkId, len(toc.paths)),
		tree:    newDirectoryNode(""),
	}

	// Original container entries, including chunks the directory
	// index does not name (loader metadata, the container header).
	for i, id := range toc.ChunkIds {
		first, count := toc.blockRange(i)
		t.entries[id] = &ChunkEntry{
			Id:         id,
			Source:     SourceContainer,
			Offset:     toc.Offsets[i].Offset,
			Length:     toc.Offsets[i].Length,
			firstBlock: first,
			blockCount: count,
		}
	}

	// Replay the parsed directory index into the tree and the path
	// map, verifying the identity law as we go: the id stored for a
	// path must equal the id recomputed from that path.
	for _, p := range toc.paths {
		canonical := strings.ToLower(p.relPath)
		stored := toc.ChunkIds[p.chunkIndex]
		computed := ComputeChunkId(stored.Type(), canonical).WithIndex(stored.Index())
		if computed != stored {
			return nil, &IdentityError{Path: canonical, Computed: computed, Stored: stored}
		}
		t.tree.insert(p.relPath, stored)
		t.byPath[canonical] = stored
	}

	// Fold in the override winners. An overridden path keeps its id
	// (and therefore its type); an added path gets a fresh id typed by
	// its extension. Loose entries carry no compression block table.
	winners := resolveWinners(roots)
	for canonical, f := range winners {
		var id ChunkId
		if existing, ok := t.byPath[canonical]; ok {
			id = existing
		} else {
			id = ComputeChunkId(chunkTypeForPath(canonical), canonical)
		}

		recomputed := ComputeChunkId(id.Type(), canonical).WithIndex(id.Index())
		if recomputed != id {
			return nil, &IdentityError{Path: canonical, Computed: recomputed, Stored: id}
		}

		t.entries[id] = &ChunkEntry{
			Id:        id,
			Source:    SourceLoose,
			LoosePath: f.absPath,
			LooseSize: f.size,
		}
		t.tree.insert(f.relPath, id)
		t.byPath[canonical] = id
	}

	return t, nil
}

// lookup resolves a virtual path (absolute with mount point, or
// relative to it) to the id owning it in this generation.
func (t *unifiedTable) lookup(path string) (ChunkId, bool) {
	canonical := Canonicalize(path, t.toc.MountPoint)
	if canonical == "" {
		return ChunkId{}, false
	}
	id, ok := t.byPath[canonical]
	return id, ok
}
