// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Serialized directory index layout: a mount point string, a directory
// entry table, a file entry table and a string table. Directory and
// file entries reference each other and the string table by index;
// indexNone marks the end of a sibling or file list.

type dirEntry struct {
	Name        uint32
	FirstChild  uint32
	NextSibling uint32
	FirstFile   uint32
}

type fileEntry struct {
	Name       uint32
	NextFile   uint32
	ChunkIndex uint32
}

// parseDirectoryIndex decodes the serialized index into the mount
// point and the flat list of (relative path, chunk slot) pairs.
func parseDirectoryIndex(b []byte) (mount string, paths []tocPath, err error) {
	mount, off, ok := readString(b, 0)
	if !ok {
		return "", nil, fmt.Errorf("directory index mount point: %w", ErrTruncated)
	}

	dirs, off, err := readDirEntries(b, off)
	if err != nil {
		return "", nil, err
	}
	files, off, err := readFileEntries(b, off)
	if err != nil {
		return "", nil, err
	}
	names, _, err := readStringTable(b, off)
	if err != nil {
		return "", nil, err
	}

	if len(dirs) == 0 {
		return mount, nil, nil
	}

	// Replay the entry graph depth-first from the root directory
	// (entry 0, which carries no name of its own).
	var walk func(dir uint32, prefix string) error
	walk = func(dir uint32, prefix string) error {
		d := dirs[dir]

		for f := d.FirstFile; f != indexNone; {
			if int(f) >= len(files) {
				return fmt.Errorf("file entry %d of %d: %w", f, len(files), ErrTruncated)
			}
			fe := files[f]
			name, err := tableString(names, fe.Name)
			if err != nil {
				return err
			}
			paths = append(paths, tocPath{relPath: prefix + name, chunkIndex: fe.ChunkIndex})
			f = fe.NextFile
		}

		for c := d.FirstChild; c != indexNone; {
			if int(c) >= len(dirs) {
				return fmt.Errorf("directory entry %d of %d: %w", c, len(dirs), ErrTruncated)
			}
			name, err := tableString(names, dirs[c].Name)
			if err != nil {
				return err
			}
			if err := walk(c, prefix+name+"/"); err != nil {
				return err
			}
			c = dirs[c].NextSibling
		}
		return nil
	}
	if err := walk(0, ""); err != nil {
		return "", nil, err
	}
	return mount, paths, nil
}

func readDirEntries(b []byte, off int) ([]dirEntry, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("directory entries: %w", ErrTruncated)
	}
	count := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+count*16 > len(b) {
		return nil, 0, fmt.Errorf("directory entries: %w", ErrTruncated)
	}
	out := make([]dirEntry, count)
	for i := range out {
		rec := b[off+i*16:]
		out[i] = dirEntry{
			Name:        binary.LittleEndian.Uint32(rec[0:]),
			FirstChild:  binary.LittleEndian.Uint32(rec[4:]),
			NextSibling: binary.LittleEndian.Uint32(rec[8:]),
			FirstFile:   binary.LittleEndian.Uint32(rec[12:]),
		}
	}
	return out, off + count*16, nil
}

func readFileEntries(b []byte, off int) ([]fileEntry, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("file entries: %w", ErrTruncated)
	}
	count := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+count*12 > len(b) {
		return nil, 0, fmt.Errorf("file entries: %w", ErrTruncated)
	}
	out := make([]fileEntry, count)
	for i := range out {
		rec := b[off+i*12:]
		out[i] = fileEntry{
			Name:       binary.LittleEndian.Uint32(rec[0:]),
			NextFile:   binary.LittleEndian.Uint32(rec[4:]),
			ChunkIndex: binary.LittleEndian.Uint32(rec[8:]),
		}
	}
	return out, off + count*12, nil
}

func readStringTable(b []byte, off int) ([]string, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("string table: %w", ErrTruncated)
	}
	count := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	out := make([]string, count)
	for i := range out {
		s, next, ok := readString(b, off)
		if !ok {
			return nil, 0, fmt.Errorf("string table entry %d: %w", i, ErrTruncated)
		}
		out[i] = s
		off = next
	}
	return out, off, nil
}

func tableString(names []string, idx uint32) (string, error) {
	if int(idx) >= len(names) {
		return "", fmt.Errorf("string %d of %d: %w", idx, len(names), ErrTruncated)
	}
	return names[idx], nil
}

// DirectoryNode is one directory in the merged virtual tree. Children
// and files are keyed by canonical (case-folded) name; display names
// are preserved for listing. The tree is pure plumbing: it carries no
// priority logic, and a rebuild replaces it wholesale.
type DirectoryNode struct {
	Name     string
	children map[string]*DirectoryNode
	files    map[string]*fileLeaf
}

type fileLeaf struct {
	name string // display case
	id   ChunkId
}

func newDirectoryNode(name string) *DirectoryNode {
	return &DirectoryNode{
		Name:     name,
		children: make(map[string]*DirectoryNode),
		files:    make(map[string]*fileLeaf),
	}
}

// insert places a leaf at the given relative path (display case,
// '/' separated), creating intermediate directories as needed. A leaf
// already present at the path is overwritten; ownership across
// override roots is decided by the resolver before insertion.
func (n *DirectoryNode) insert(relPath string, id ChunkId) {
	parts := strings.Split(relPath, "/")
	node := n
	for _, part := range parts[:len(parts)-1] {
		key := strings.ToLower(part)
		child, ok := node.children[key]
		if !ok {
			child = newDirectoryNode(part)
			node.children[key] = child
		}
		node = child
	}
	leaf := parts[len(parts)-1]
	node.files[strings.ToLower(leaf)] = &fileLeaf{name: leaf, id: id}
}

// lookup resolves a canonical relative path to a chunk id.
func (n *DirectoryNode) lookup(canonicalPath string) (ChunkId, bool) {
	parts := strings.Split(canonicalPath, "/")
	node := n
	for _, part := range parts[:len(parts)-1] {
		child, ok := node.children[part]
		if !ok {
			return ChunkId{}, false
		}
		node = child
	}
	leaf, ok := node.files[parts[len(parts)-1]]
	if !ok {
		return ChunkId{}, false
	}
	return leaf.id, true
}

// Children returns the child directories sorted by display name.
func (n *DirectoryNode) Children() []*DirectoryNode {
	out := make([]*DirectoryNode, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Files returns the display names of the files in this directory,
// sorted.
func (n *DirectoryNode) Files() []string {
	out := make([]string, 0, len(n.files))
	for _, f := range n.files {
		out = append(out, f.name)
	}
	sort.Strings(out)
	return out
}

// walkLeaves visits every (display relative path, id) pair in the
// tree, depth-first.
func (n *DirectoryNode) walkLeaves(prefix string, fn func(relPath string, id ChunkId) error) error {
	for _, f := range n.files {
		if err := fn(prefix+f.name, f.id); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := c.walkLeaves(prefix+c.Name+"/", fn); err != nil {
			return err
		}
	}
	return nil
}

// looseFile is one file discovered under an override root.
type looseFile struct {
	absPath string
	relPath string // display case, '/' separated
	size    int64
}

// scanRoot walks an override root's file tree and records every
// regular file with its virtual path relative to the root. Walk errors
// (unreadable directories, vanished files) fail the scan; a root that
// cannot be enumerated completely must not be half-applied.
func scanRoot(dir string) (map[string]looseFile, error) {
	files := make(map[string]looseFile)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == packManifestName {
			// Root metadata, not content.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files[strings.ToLower(rel)] = looseFile{
			absPath: path,
			relPath: rel,
			size:    info.Size(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan override root %s: %w", dir, err)
	}
	return files, nil
}
