// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/waldo-labs/waldo/lib/codec"
	"github.com/waldo-labs/waldo/lib/secret"
)

// Frame layout constants. The header is fixed-size:
//
//	[Magic: 4 bytes "WTR1"] [Flags: 1 byte] [Plaintext length: u32 BE] [Digest: 32 bytes] [Payload]
//
// Flags: bits 0-1 hold the compression tag, bit 7 marks a sealed
// payload. Unknown bits are an error, reserving them for format
// evolution.
const (
	headerSize = 4 + 1 + 4 + 32

	flagsCompressionMask = 0b0000_0011
	flagSealed           = 0b1000_0000
	flagsKnownMask       = flagsCompressionMask | flagSealed

	// maxRecordSize caps the plaintext length accepted at decode.
	// Record output is truncated to the posting limit long before
	// this, so anything larger is corruption.
	maxRecordSize = 16 << 20

	fileExtension = ".wtr"
)

var frameMagic = [4]byte{'W', 'T', 'R', '1'}

// recordDomainKey is the BLAKE3 keyed-hash domain for record digests.
// A fixed constant; changing it invalidates all existing archives.
// The bytes are the ASCII domain name, zero-padded to 32.
var recordDomainKey = [32]byte{
	'w', 'a', 'l', 'd', 'o', '.', 't', 'r', 'a', 'n', 's', 'c', 'r', 'i', 'p', 't',
	'.', 'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashRecord computes the record-domain BLAKE3 keyed hash of the
// plaintext CBOR. This is the digest stored in the frame header and
// the identity that sealing binds to.
func hashRecord(plaintext []byte) [32]byte {
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("transcript: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(plaintext)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Options configures an Archive.
type Options struct {
	// Compression selects the payload compression: "auto" (probe per
	// record), "zstd", "lz4", or "none". Empty means "auto".
	Compression string

	// Key is the 32-byte archive sealing key. Nil leaves records
	// unsealed. The Archive owns the buffer and closes it on Close.
	Key *secret.Buffer

	// Logger receives scan warnings. Nil discards them.
	Logger *slog.Logger
}

// Archive is an append-only directory of transcript records, one file
// per record. Safe for concurrent use: Append never rewrites an
// existing file and List/Read only see fully-renamed files.
type Archive struct {
	directory   string
	compression string
	key         *secret.Buffer
	logger      *slog.Logger
}

// NewArchive opens (creating if needed) the archive directory.
func NewArchive(directory string, options Options) (*Archive, error) {
	compression := options.Compression
	if compression == "" {
		compression = "auto"
	}
	switch compression {
	case "auto", "zstd", "lz4", "none":
	default:
		return nil, fmt.Errorf("transcript: unknown compression %q (want auto, zstd, lz4, or none)", compression)
	}

	if options.Key != nil && options.Key.Len() != KeySize {
		return nil, fmt.Errorf("transcript: archive key must be %d bytes, got %d", KeySize, options.Key.Len())
	}

	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("transcript: creating archive directory: %w", err)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Archive{
		directory:   directory,
		compression: compression,
		key:         options.Key,
		logger:      logger,
	}, nil
}

// Close releases the sealing key. Idempotent; a nil-key archive's
// Close is a no-op.
func (archive *Archive) Close() error {
	if archive.key == nil {
		return nil
	}
	return archive.key.Close()
}

// Sealed reports whether records are sealed with an archive key.
func (archive *Archive) Sealed() bool {
	return archive.key != nil
}

// Append archives one record, assigning a fresh ID when the record
// carries none, and returns the path of the written file. The file is
// written to a temp name and renamed into place so a crash never
// leaves a partial record visible.
func (archive *Archive) Append(record Record, now time.Time) (string, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	plaintext, err := codec.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("transcript: encoding record: %w", err)
	}
	if len(plaintext) > maxRecordSize {
		return "", fmt.Errorf("transcript: record is %d bytes, maximum is %d", len(plaintext), maxRecordSize)
	}
	digest := hashRecord(plaintext)

	tag := CompressionZstd
	switch archive.compression {
	case "auto":
		tag = selectCompression(plaintext)
	case "lz4":
		tag = CompressionLZ4
	case "none":
		tag = CompressionNone
	}
	payload, err := compress(plaintext, tag)
	if err != nil {
		if err != errIncompressible {
			return "", fmt.Errorf("transcript: compressing record: %w", err)
		}
		payload, tag = plaintext, CompressionNone
	}

	flags := byte(tag)
	if archive.key != nil {
		sealed, err := seal(payload, archive.key, digest)
		if err != nil {
			return "", err
		}
		payload = sealed
		flags |= flagSealed
	}

	frame := make([]byte, 0, headerSize+len(payload))
	frame = append(frame, frameMagic[:]...)
	frame = append(frame, flags)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(plaintext)))
	frame = append(frame, digest[:]...)
	frame = append(frame, payload...)

	path := filepath.Join(archive.directory, fmt.Sprintf("%d-%s%s", now.UnixNano(), record.ID, fileExtension))
	if err := writeFileAtomic(archive.directory, path, frame); err != nil {
		return "", err
	}
	return path, nil
}

// writeFileAtomic writes data to a temp file in directory, syncs it,
// and renames it to path.
func writeFileAtomic(directory, path string, data []byte) error {
	temp, err := os.CreateTemp(directory, "record-*.tmp")
	if err != nil {
		return fmt.Errorf("transcript: creating temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			temp.Close()
			os.Remove(temp.Name())
		}
	}()

	if _, err := temp.Write(data); err != nil {
		return fmt.Errorf("transcript: writing record: %w", err)
	}
	if err := temp.Sync(); err != nil {
		return fmt.Errorf("transcript: syncing record: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("transcript: closing record: %w", err)
	}
	if err := os.Rename(temp.Name(), path); err != nil {
		return fmt.Errorf("transcript: renaming record into place: %w", err)
	}
	success = true
	return nil
}

// Entry describes one archive file, parsed from its name.
type Entry struct {
	// Path is the file's full path, as accepted by Read.
	Path string

	// ID is the record id embedded in the filename.
	ID string

	// WrittenAt is when the record was archived, from the filename's
	// nanosecond prefix.
	WrittenAt time.Time

	// Size is the file size in bytes (frame, not plaintext).
	Size int64
}

// List scans the archive directory and returns entries in
// chronological order. Files that don't parse as record names are
// logged and skipped, not fatal: the archive directory is also where
// operators poke around.
func (archive *Archive) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(archive.directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: scanning archive: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}
		name := dirEntry.Name()
		if !strings.HasSuffix(name, fileExtension) {
			continue
		}
		nanosText, id, found := strings.Cut(strings.TrimSuffix(name, fileExtension), "-")
		if !found || id == "" {
			archive.logger.Warn("skipping unparseable archive file", "name", name)
			continue
		}
		nanos, err := strconv.ParseInt(nanosText, 10, 64)
		if err != nil {
			archive.logger.Warn("skipping unparseable archive file", "name", name, "error", err)
			continue
		}
		info, err := dirEntry.Info()
		if err != nil {
			// File removed between ReadDir and Info.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("transcript: reading archive entry: %w", err)
		}
		entries = append(entries, Entry{
			Path:      filepath.Join(archive.directory, name),
			ID:        id,
			WrittenAt: time.Unix(0, nanos).UTC(),
			Size:      info.Size(),
		})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.WrittenAt.Compare(b.WrittenAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return entries, nil
}

// ReadRaw reads one archive file and returns the verified plaintext
// CBOR: magic and flags checked, payload unsealed and decompressed,
// digest recomputed and compared. Reading a sealed record from an
// archive opened without a key fails.
func (archive *Archive) ReadRaw(path string) ([]byte, error) {
	frame, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: reading archive file: %w", err)
	}
	if len(frame) < headerSize {
		return nil, fmt.Errorf("transcript: %s is %d bytes, header alone is %d", path, len(frame), headerSize)
	}
	if !bytes.Equal(frame[:4], frameMagic[:]) {
		return nil, fmt.Errorf("transcript: %s is not a transcript record (bad magic)", path)
	}

	flags := frame[4]
	if flags&^byte(flagsKnownMask) != 0 {
		return nil, fmt.Errorf("transcript: %s has unsupported flags 0x%02x", path, flags)
	}
	tag := CompressionTag(flags & flagsCompressionMask)
	plaintextSize := int(binary.BigEndian.Uint32(frame[5:9]))
	if plaintextSize > maxRecordSize {
		return nil, fmt.Errorf("transcript: %s declares %d plaintext bytes, maximum is %d", path, plaintextSize, maxRecordSize)
	}
	var digest [32]byte
	copy(digest[:], frame[9:headerSize])
	payload := frame[headerSize:]

	if flags&flagSealed != 0 {
		if archive.key == nil {
			return nil, fmt.Errorf("transcript: %s is sealed and no archive key is configured", path)
		}
		payload, err = open(payload, archive.key, digest)
		if err != nil {
			return nil, err
		}
	}

	plaintext, err := decompress(payload, tag, plaintextSize)
	if err != nil {
		return nil, fmt.Errorf("transcript: %s: %w", path, err)
	}

	if hashRecord(plaintext) != digest {
		return nil, fmt.Errorf("transcript: %s failed digest verification", path)
	}
	return plaintext, nil
}

// Read reads and decodes one archive file.
func (archive *Archive) Read(path string) (*Record, error) {
	plaintext, err := archive.ReadRaw(path)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := codec.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("transcript: decoding %s: %w", path, err)
	}
	return &record, nil
}
