// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Options configures an Emulator. The zero value (or nil) is usable.
type Options struct {
	// Logger receives initialization and registration events. Nothing
	// is logged on the read path. Nil discards all logs.
	Logger *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o != nil && o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Emulator owns the emulated container: the parsed table, the open
// partition files, the registered override roots and the published
// unified table generation. One emulator instance corresponds to one
// container; its lifecycle is New (or OpenContainer), RegisterRoot
// zero or more times, Close.
type Emulator struct {
	log  *slog.Logger
	toc  *Toc
	base string

	// partitions is written in New before the first publish and in
	// closePartitions under mu. Readers reach the open files through
	// the generation they load, never through this field.
	partitions []*os.File

	// mu serializes root registration: append root, rebuild, swap.
	// Concurrent registrations queue here, so priority order is the
	// order the lock admits them regardless of which caller races in
	// first. Readers never take mu; they load table atomically.
	mu    sync.Mutex
	roots []OverrideRoot

	table atomic.Pointer[unifiedTable]
}

// New builds an emulator from an already parsed table of contents.
// containerPath names the table file or the partition base path; the
// partition files (base.ucas, base_s1.ucas, ...) are opened relative
// to it. The first unified table generation is built synchronously
// before New returns.
func New(toc *Toc, containerPath string, opts *Options) (*Emulator, error) {
	em := &Emulator{
		log:  opts.logger(),
		toc:  toc,
		base: strings.TrimSuffix(containerPath, filepath.Ext(containerPath)),
	}

	for i := 0; i < int(toc.PartitionCount); i++ {
		f, err := os.Open(em.partitionPath(i))
		if err != nil {
			em.closePartitions()
			return nil, fmt.Errorf("open partition %d: %w", i, err)
		}
		em.partitions = append(em.partitions, f)
	}

	table, err := buildUnifiedTable(toc, nil)
	if err != nil {
		em.closePartitions()
		return nil, fmt.Errorf("build initial table: %w", err)
	}
	table.partitions = em.partitions
	em.table.Store(table)

	em.log.Info("container opened",
		"container_id", fmt.Sprintf("0x%016x", toc.ContainerId),
		"mount_point", toc.MountPoint,
		"chunks", len(toc.ChunkIds),
		"paths", len(toc.paths),
		"partitions", len(em.partitions))
	return em, nil
}

// OpenContainer reads a table of contents file, parses it and builds
// an emulator over the partition files next to it.
func OpenContainer(tocPath string, opts *Options) (*Emulator, error) {
	tocBytes, err := os.ReadFile(tocPath)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	toc, err := Parse(tocBytes)
	if err != nil {
		return nil, err
	}
	return New(toc, tocPath, opts)
}

// RegisterRoot registers a loose-file override root. The directory is
// scanned, the unified table is rebuilt with the new root at highest
// priority, and the new generation is published atomically. On any
// failure the root is not registered and the previous generation
// stays live. Safe to call from multiple goroutines; calls serialize.
func (em *Emulator) RegisterRoot(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve override root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat override root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("override root %s is not a directory", abs)
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	if em.table.Load() == nil {
		return ErrClosed
	}

	manifest, err := readPackManifest(abs)
	if err != nil {
		// Metadata only; a broken manifest does not invalidate the
		// root's content.
		em.log.Warn("ignoring pack manifest", "root", abs, "error", err)
		manifest = nil
	}

	root := OverrideRoot{Path: abs, Rank: len(em.roots), Manifest: manifest}
	em.roots = append(em.roots, root)

	table, err := em.rebuildLocked()
	if err != nil {
		em.roots = em.roots[:len(em.roots)-1]
		return fmt.Errorf("register root %s: %w", abs, err)
	}
	em.table.Store(table)

	attrs := []any{
		"root", abs,
		"rank", root.Rank,
		"paths", len(table.byPath),
	}
	if manifest != nil {
		attrs = append(attrs, "pack", manifest.Name, "version", manifest.Version)
	}
	em.log.Info("override root registered", attrs...)
	return nil
}

// rebuildLocked rescans every registered root and builds a fresh
// unified table. Caller holds mu.
func (em *Emulator) rebuildLocked() (*unifiedTable, error) {
	scanned := make([]*scannedRoot, len(em.roots))
	for i, root := range em.roots {
		files, err := scanRoot(root.Path)
		if err != nil {
			return nil, err
		}
		scanned[i] = &scannedRoot{root: root, files: files}
	}
	table, err := buildUnifiedTable(em.toc, scanned)
	if err != nil {
		return nil, err
	}
	table.partitions = em.partitions
	return table, nil
}

// Lookup resolves a virtual path (with or without the mount point
// prefix) to the chunk id that currently owns it.
func (em *Emulator) Lookup(path string) (ChunkId, bool) {
	table := em.table.Load()
	if table == nil {
		return ChunkId{}, false
	}
	return table.lookup(path)
}

// MountPoint returns the container's mount point string.
func (em *Emulator) MountPoint() string { return em.toc.MountPoint }

// Toc returns the parsed table of contents the emulator was built on.
func (em *Emulator) Toc() *Toc { return em.toc }

// Roots returns the registered override roots, oldest first.
func (em *Emulator) Roots() []OverrideRoot {
	em.mu.Lock()
	defer em.mu.Unlock()
	out := make([]OverrideRoot, len(em.roots))
	copy(out, em.roots)
	return out
}

// Root returns the current generation's merged directory tree.
func (em *Emulator) Root() *DirectoryNode {
	table := em.table.Load()
	if table == nil {
		return nil
	}
	return table.tree
}

// Walk visits every virtual path of the current generation with the
// chunk id that owns it. Paths are relative to the mount point in
// display case; visit order is unspecified. Returning an error from fn
// stops the walk.
func (em *Emulator) Walk(fn func(relPath string, id ChunkId) error) error {
	table := em.table.Load()
	if table == nil {
		return ErrClosed
	}
	return table.tree.walkLeaves("", fn)
}

// Close releases the partition files and unpublishes the table. Open
// chunk handles pinned to earlier generations keep their loose files
// but lose access to partition data.
func (em *Emulator) Close() error {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.table.Store(nil)
	return em.closePartitions()
}

func (em *Emulator) closePartitions() error {
	var firstErr error
	for _, f := range em.partitions {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	em.partitions = nil
	return firstErr
}

// partitionPath names partition i: base.ucas for the first partition,
// base_s<i>.ucas for the rest.
func (em *Emulator) partitionPath(i int) string {
	if i == 0 {
		return em.base + ".ucas"
	}
	return fmt.Sprintf("%s_s%d.ucas", em.base, i)
}
