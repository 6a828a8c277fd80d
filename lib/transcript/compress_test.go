// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCompressionTagString(t *testing.T) {
	tests := []struct {
		tag  CompressionTag
		want string
	}{
		{CompressionNone, "none"},
		{CompressionLZ4, "lz4"},
		{CompressionZstd, "zstd"},
		{CompressionTag(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.tag.String()
			if got != tt.want {
				t.Errorf("CompressionTag(%d).String() = %q, want %q", tt.tag, got, tt.want)
			}
		})
	}
}

func TestCompressRoundTrip(t *testing.T) {
	// Compressible data: repeated pattern.
	data := make([]byte, 64*1024)
	for i := range data {
		data[i] = byte(i % 17)
	}

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := compress(data, tag)
			if err != nil {
				t.Fatalf("compress(%s) failed: %v", tag, err)
			}
			if len(compressed) >= len(data) {
				t.Errorf("compress(%s) did not shrink repeated data: %d -> %d", tag, len(data), len(compressed))
			}

			decompressed, err := decompress(compressed, tag, len(data))
			if err != nil {
				t.Fatalf("decompress(%s) failed: %v", tag, err)
			}
			if !bytes.Equal(decompressed, data) {
				t.Errorf("%s roundtrip corrupted data", tag)
			}
		})
	}
}

func TestCompressNonePassesThrough(t *testing.T) {
	data := []byte("uncompressed data should pass through unchanged")

	compressed, err := compress(data, CompressionNone)
	if err != nil {
		t.Fatalf("compress(none) failed: %v", err)
	}
	if &compressed[0] != &data[0] {
		t.Error("CompressionNone should return the same slice, not a copy")
	}

	if _, err := decompress(data, CompressionNone, len(data)+5); err == nil {
		t.Error("decompress(none) should fail when size does not match the header")
	}
}

func TestCompressIncompressible(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generating random data: %v", err)
	}

	_, err := compress(data, CompressionZstd)
	if err != errIncompressible {
		t.Errorf("compress(zstd) on random data: err = %v, want errIncompressible", err)
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	data := bytes.Repeat([]byte("transcript "), 512)

	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := compress(data, tag)
			if err != nil {
				t.Fatalf("compress(%s) failed: %v", tag, err)
			}
			if _, err := decompress(compressed, tag, len(data)-1); err == nil {
				t.Errorf("decompress(%s) should fail when the header size is wrong", tag)
			}
		})
	}
}

func TestSelectCompression(t *testing.T) {
	t.Run("repeated text picks zstd", func(t *testing.T) {
		data := bytes.Repeat([]byte("drop table users; -- just kidding\n"), 300)
		if tag := selectCompression(data); tag != CompressionZstd {
			t.Errorf("selectCompression = %s, want zstd", tag)
		}
	})

	t.Run("random bytes pick none", func(t *testing.T) {
		data := make([]byte, 4096)
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generating random data: %v", err)
		}
		if tag := selectCompression(data); tag != CompressionNone {
			t.Errorf("selectCompression = %s, want none", tag)
		}
	})

	t.Run("empty picks none", func(t *testing.T) {
		if tag := selectCompression(nil); tag != CompressionNone {
			t.Errorf("selectCompression(nil) = %s, want none", tag)
		}
	})
}
