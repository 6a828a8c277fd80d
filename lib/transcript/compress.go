// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the compression algorithm used for a
// record payload. Tags are stored in the frame's flags byte; the
// values are format constants, changing them breaks existing archives.
type CompressionTag uint8

const (
	// CompressionNone indicates an uncompressed payload. Chosen when
	// the record is too small or too random for compression to help.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 indicates LZ4 block compression. Chosen when the
	// probe finds a modest ratio: fast with acceptable savings.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd indicates zstd at the default level. The usual
	// winner for transcript records, which are mostly text.
	CompressionZstd CompressionTag = 2
)

// String returns the human-readable name of a compression tag.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("transcript: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transcript: zstd decoder initialization failed: " + err.Error())
	}
}

// errIncompressible is returned by compression functions when the
// compressed output is not smaller than the input. The caller falls
// back to CompressionNone.
var errIncompressible = errors.New("data is incompressible")

// compress compresses data with the given algorithm. For
// CompressionNone, returns the input unchanged (no copy).
func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(data))
		destination := make([]byte, bound)
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock returns 0 when it determines the data is
		// incompressible.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// decompress decompresses a record payload. The plaintextSize comes
// from the frame header and must match the output length exactly.
func decompress(payload []byte, tag CompressionTag, plaintextSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(payload) != plaintextSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match header %d",
				len(payload), plaintextSize)
		}
		return payload, nil

	case CompressionLZ4:
		destination := make([]byte, plaintextSize)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != plaintextSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, plaintextSize)
		}
		return destination, nil

	case CompressionZstd:
		destination := make([]byte, 0, plaintextSize)
		result, err := zstdDecoder.DecodeAll(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != plaintextSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), plaintextSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}

// selectCompression probes the record bytes to pick an algorithm:
// zstd when the ratio exceeds 1.5x, LZ4 between 1.1x and 1.5x, none
// below that.
func selectCompression(data []byte) CompressionTag {
	if len(data) == 0 {
		return CompressionNone
	}

	compressed := zstdEncoder.EncodeAll(data, nil)
	ratio := float64(len(data)) / float64(len(compressed))

	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
