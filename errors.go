// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"errors"
	"fmt"
)

// Sentinel errors returned while parsing a table of contents or
// dispatching chunk reads. Parse failures are fatal to initialization:
// a table that fails validation is never partially applied.
var (
	// ErrBadMagic means the table bytes do not start with the
	// container magic signature.
	ErrBadMagic = errors.New("utoc: bad table magic")

	// ErrUnsupportedVersion means the table carries a version this
	// package does not target. Byte offsets throughout the format
	// depend on the version, so drift is rejected rather than guessed
	// at.
	ErrUnsupportedVersion = errors.New("utoc: unsupported table version")

	// ErrTruncated means the table bytes ended before a structure the
	// header promised.
	ErrTruncated = errors.New("utoc: truncated table")

	// ErrEncrypted is returned for containers with the encrypted flag
	// set. Encrypted containers are not supported.
	ErrEncrypted = errors.New("utoc: encrypted container not supported")

	// ErrSigned is returned for containers with the signed flag set.
	ErrSigned = errors.New("utoc: signed container not supported")

	// ErrNotFound is returned by OpenChunk for a chunk id absent from
	// the unified table. It mirrors the original container's own miss
	// behavior and is not an emulator malfunction.
	ErrNotFound = errors.New("utoc: chunk not found")

	// ErrClosed is returned when using an emulator or handle after
	// Close.
	ErrClosed = errors.New("utoc: closed")
)

// IdentityError reports a chunk id that does not round-trip: the id
// recomputed from a path disagrees with the id stored for that path.
// It signals a canonicalization bug and fails the table build.
type IdentityError struct {
	Path     string
	Computed ChunkId
	Stored   ChunkId
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("utoc: identity mismatch for %q: computed %s, stored %s",
		e.Path, e.Computed, e.Stored)
}

// ReadError reports a failed read of a partition file or a loose
// override file. It is recoverable per call; the published table stays
// live.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("utoc: read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
