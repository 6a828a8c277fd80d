// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/waldo-labs/waldo/lib/codec"
	"github.com/waldo-labs/waldo/lib/secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var testTime = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func testRecord() Record {
	return Record{
		ThreadID:         "1700000000.000100",
		Kind:             "shell",
		Input:            "make test",
		Output:           strings.Repeat("ok   package/under/test   0.01s\n", 40),
		Status:           StatusCompleted,
		WorkingDirectory: "/home/dev/api",
		StartedAt:        testTime,
		Duration:         1400 * time.Millisecond,
	}
}

func testArchive(t *testing.T, options Options) *Archive {
	t.Helper()
	if options.Logger == nil {
		options.Logger = testLogger()
	}
	archive, err := NewArchive(filepath.Join(t.TempDir(), "archive"), options)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { archive.Close() })
	return archive
}

func testKey(t *testing.T) *secret.Buffer {
	t.Helper()
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("generating key: %v", err)
	}
	key, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("secret.NewFromBytes: %v", err)
	}
	return key
}

func TestArchiveRoundTrip(t *testing.T) {
	archive := testArchive(t, Options{})

	want := testRecord()
	path, err := archive.Append(want, testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := archive.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ID == "" {
		t.Error("Append should assign an ID")
	}
	if got.ThreadID != want.ThreadID || got.Input != want.Input || got.Output != want.Output {
		t.Errorf("record fields corrupted: got %+v", got)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("started at = %v, want %v", got.StartedAt, want.StartedAt)
	}
	if got.Duration != want.Duration {
		t.Errorf("duration = %v, want %v", got.Duration, want.Duration)
	}
}

func TestArchiveFilename(t *testing.T) {
	archive := testArchive(t, Options{})

	record := testRecord()
	record.ID = "exec-0001"
	path, err := archive.Append(record, testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	wantName := "1773568800000000000-exec-0001.wtr"
	if filepath.Base(path) != wantName {
		t.Errorf("filename = %q, want %q", filepath.Base(path), wantName)
	}
}

func TestArchiveCompressionForced(t *testing.T) {
	for name, wantTag := range map[string]CompressionTag{
		"zstd": CompressionZstd,
		"lz4":  CompressionLZ4,
		"none": CompressionNone,
	} {
		t.Run(name, func(t *testing.T) {
			archive := testArchive(t, Options{Compression: name})

			path, err := archive.Append(testRecord(), testTime)
			if err != nil {
				t.Fatalf("Append: %v", err)
			}

			frame, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("reading frame: %v", err)
			}
			if string(frame[:4]) != "WTR1" {
				t.Fatalf("magic = %q", frame[:4])
			}
			if tag := CompressionTag(frame[4] & flagsCompressionMask); tag != wantTag {
				t.Errorf("flags tag = %s, want %s", tag, wantTag)
			}
			if frame[4]&flagSealed != 0 {
				t.Error("sealed flag set on a plaintext archive")
			}

			if _, err := archive.Read(path); err != nil {
				t.Fatalf("Read: %v", err)
			}
		})
	}
}

func TestArchiveRejectsUnknownCompression(t *testing.T) {
	_, err := NewArchive(t.TempDir(), Options{Compression: "brotli"})
	if err == nil || !strings.Contains(err.Error(), "unknown compression") {
		t.Errorf("NewArchive(brotli) err = %v", err)
	}
}

func TestArchiveSealedRoundTrip(t *testing.T) {
	archive := testArchive(t, Options{Key: testKey(t)})
	if !archive.Sealed() {
		t.Fatal("archive with key should report Sealed")
	}

	path, err := archive.Append(testRecord(), testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	frame, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	if frame[4]&flagSealed == 0 {
		t.Error("sealed flag not set")
	}
	if strings.Contains(string(frame), "make test") {
		t.Error("sealed frame leaks plaintext")
	}

	got, err := archive.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Input != "make test" {
		t.Errorf("input = %q", got.Input)
	}
}

func TestArchiveSealedWrongKey(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "archive")

	writer, err := NewArchive(directory, Options{Key: testKey(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer writer.Close()
	path, err := writer.Append(testRecord(), testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	reader, err := NewArchive(directory, Options{Key: testKey(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer reader.Close()
	if _, err := reader.Read(path); err == nil || !strings.Contains(err.Error(), "AEAD") {
		t.Errorf("Read with wrong key: err = %v, want AEAD failure", err)
	}
}

func TestArchiveSealedNeedsKey(t *testing.T) {
	directory := filepath.Join(t.TempDir(), "archive")

	writer, err := NewArchive(directory, Options{Key: testKey(t), Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer writer.Close()
	path, err := writer.Append(testRecord(), testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	reader, err := NewArchive(directory, Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	if _, err := reader.Read(path); err == nil || !strings.Contains(err.Error(), "no archive key") {
		t.Errorf("Read without key: err = %v", err)
	}
}

func TestArchiveTamperDetected(t *testing.T) {
	archive := testArchive(t, Options{Compression: "none"})

	path, err := archive.Append(testRecord(), testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	frame, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	frame[len(frame)-1] ^= 0xFF
	if err := os.WriteFile(path, frame, 0o600); err != nil {
		t.Fatalf("writing tampered frame: %v", err)
	}

	if _, err := archive.Read(path); err == nil || !strings.Contains(err.Error(), "digest") {
		t.Errorf("Read of tampered frame: err = %v, want digest failure", err)
	}
}

func TestArchiveRejectsForeignFile(t *testing.T) {
	archive := testArchive(t, Options{})

	path := filepath.Join(t.TempDir(), "notes.wtr")
	content := []byte("just some notes an operator left in the archive directory\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if _, err := archive.Read(path); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Errorf("Read of non-record file: err = %v, want bad magic", err)
	}

	if _, err := archive.Read(filepath.Join(t.TempDir(), "truncated.wtr")); err == nil {
		t.Error("Read of a missing file should fail")
	}
}

func TestArchiveList(t *testing.T) {
	archive := testArchive(t, Options{})

	for i, id := range []string{"exec-b", "exec-a", "exec-c"} {
		record := testRecord()
		record.ID = id
		if _, err := archive.Append(record, testTime.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Stray files operators might leave behind are skipped.
	for _, name := range []string{"README", "garbage.wtr"} {
		if err := os.WriteFile(filepath.Join(archive.directory, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("writing stray file: %v", err)
		}
	}

	entries, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(entries))
	}
	for i, wantID := range []string{"exec-b", "exec-a", "exec-c"} {
		if entries[i].ID != wantID {
			t.Errorf("entries[%d].ID = %q, want %q (chronological order)", i, entries[i].ID, wantID)
		}
	}
	if !entries[1].WrittenAt.Equal(testTime.Add(time.Second)) {
		t.Errorf("entries[1].WrittenAt = %v", entries[1].WrittenAt)
	}
	if entries[0].Size == 0 {
		t.Error("entry size not populated")
	}
}

func TestArchiveListEmpty(t *testing.T) {
	archive := testArchive(t, Options{})
	entries, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("List of empty archive returned %d entries", len(entries))
	}
}

func TestArchiveNoTempLeftovers(t *testing.T) {
	archive := testArchive(t, Options{})
	if _, err := archive.Append(testRecord(), testTime); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dirEntries, err := os.ReadDir(archive.directory)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range dirEntries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestArchiveReadRawDiagnosable(t *testing.T) {
	archive := testArchive(t, Options{})
	path, err := archive.Append(testRecord(), testTime)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := archive.ReadRaw(path)
	if err != nil {
		t.Fatalf("ReadRaw: %v", err)
	}
	diag, err := codec.Diagnose(raw)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diag, "thread_id") {
		t.Errorf("diagnostic output missing field names: %s", diag)
	}
}

func TestLoadKey(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "archive.key")
		hexKey := strings.Repeat("ab", KeySize)
		if err := os.WriteFile(path, []byte(hexKey+"\n"), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}
		key, err := LoadKey(path)
		if err != nil {
			t.Fatalf("LoadKey: %v", err)
		}
		defer key.Close()
		if key.Len() != KeySize {
			t.Errorf("key length = %d, want %d", key.Len(), KeySize)
		}
	})

	t.Run("not hex", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "archive.key")
		if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}
		if _, err := LoadKey(path); err == nil {
			t.Error("LoadKey should reject non-hex content")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "archive.key")
		if err := os.WriteFile(path, []byte("abcd"), 0o600); err != nil {
			t.Fatalf("writing key file: %v", err)
		}
		if _, err := LoadKey(path); err == nil || !strings.Contains(err.Error(), "want 32") {
			t.Errorf("LoadKey of short key: err = %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := LoadKey(filepath.Join(t.TempDir(), "absent.key")); err == nil {
			t.Error("LoadKey should fail on a missing file")
		}
	})
}
