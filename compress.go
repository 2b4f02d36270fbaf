// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression method names as stored in the table's method name list.
// Method index 0 is always None; the stored names begin at index 1.
const (
	methodNone  = "None"
	methodZlib  = "Zlib"
	methodZstd  = "Zstd"
	methodLZ4   = "LZ4"
	methodOodle = "Oodle"
)

// zstdDecoder is shared across all reads. The decoder is safe for
// concurrent use and holds no per-call state when used via DecodeAll.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("utoc: zstd decoder initialization failed: " + err.Error())
	}
}

// decompressBlock decompresses one compression block. The uncompressed
// size comes from the block table and must match exactly; a short or
// long result means the table and the partition data disagree, which
// is reported rather than padded over.
func decompressBlock(method string, data []byte, uncompressedSize uint32) ([]byte, error) {
	switch method {
	case methodNone:
		if uint32(len(data)) != uncompressedSize {
			return nil, fmt.Errorf("stored block is %d bytes, want %d", len(data), uncompressedSize)
		}
		return data, nil

	case methodZlib:
		return decompressZlib(data, uncompressedSize)

	case methodZstd:
		return decompressZstd(data, uncompressedSize)

	case methodLZ4:
		return decompressLZ4(data, uncompressedSize)

	case methodOodle:
		return nil, fmt.Errorf("Oodle compression not supported")

	default:
		return nil, fmt.Errorf("unknown compression method %q", method)
	}
}

func decompressZlib(data []byte, uncompressedSize uint32) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zlib reader: %w", err)
	}
	defer r.Close()

	result := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, result); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	// The stream must end exactly at the declared size.
	var trailer [1]byte
	if n, _ := r.Read(trailer[:]); n != 0 {
		return nil, fmt.Errorf("zlib block longer than declared %d bytes", uncompressedSize)
	}
	return result, nil
}

func decompressZstd(data []byte, uncompressedSize uint32) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if uint32(len(result)) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, want %d", len(result), uncompressedSize)
	}
	return result, nil
}

func decompressLZ4(data []byte, uncompressedSize uint32) ([]byte, error) {
	result := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data, result)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if uint32(n) != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, uncompressedSize)
	}
	return result, nil
}
