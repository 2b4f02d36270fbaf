// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package utoc emulates the IoStore packaged-asset container format (.utoc
table of contents plus .ucas partition files) so that loose files from
content packs can replace or extend packaged content without repacking
the original archives.

The emulator parses an existing table of contents, merges any number of
priority-ordered override directories into a single unified chunk table,
and answers chunk reads either from the original partition files or from
the substituted files on disk. The host process keeps addressing chunks
by the same content-address keys it always used; overridden paths simply
resolve to different bytes.

# Features

  - Pure Go, no CGO
  - Targets the version 3 table layout (UE 4.27 era)
  - Zlib, Zstd and LZ4 compression block support
  - Multi-partition containers (base.ucas, base_s1.ucas, ...)
  - Priority-ordered override roots, last registered wins
  - Lock-free chunk reads against an atomically swapped table generation

# Basic Usage

Opening a container and registering an override root:

	em, err := utoc.OpenContainer("Paks/pakchunk0.utoc", nil)
	if err != nil {
		log.Fatal(err)
	}
	defer em.Close()

	if err := em.RegisterRoot("mods/MyMod"); err != nil {
		log.Fatal(err)
	}

	id, ok := em.Lookup("Content/A.uasset")
	if ok {
		h, err := em.OpenChunk(id)
		if err != nil {
			log.Fatal(err)
		}
		defer h.Close()
		buf := make([]byte, h.Size())
		h.ReadAt(buf, 0)
	}

When the host captured the table bytes itself, feed them to [Parse] and
construct the emulator with [New].

# Override Semantics

Each override root is an arbitrary directory tree; relative paths below
it map 1:1 to virtual paths under the container's mount point. When
several roots provide the same path, the most recently registered root
wins. Registration is serialized; every registration rebuilds the
unified table and publishes it atomically, so concurrent readers always
observe a complete generation.

Loose overrides are served raw. An overridden chunk reports itself as
uncompressed even when the original entry carried compression blocks:
the compression layout is a property of the archive's storage, not of
the logical content. Callers that branch on the compression state of a
chunk before reading must accept this seam.

# Limitations

  - Read side only; this package never writes archives
  - Encrypted and signed containers are rejected at parse time
  - Oodle compression blocks are recognized but not supported
  - Table versions other than 3 are rejected rather than guessed at
*/
package utoc
