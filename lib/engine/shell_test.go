// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/testutil"
	"github.com/waldo-labs/waldo/lib/transcript"
)

func TestShellCommandOutput(t *testing.T) {
	eng, ch, store := newTestEngine(t, nil)
	ctx := context.Background()

	if !eng.Enqueue(ctx, "T1", shellDirective("echo hello")) {
		t.Fatal("enqueue rejected")
	}

	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if reply.text != "```\nhello\n```" {
		t.Fatalf("reply = %q", reply.text)
	}

	sess, ok := store.Get("T1")
	if !ok {
		t.Fatal("session was not created")
	}
	if sess.Active {
		t.Fatal("session still marked active after the command finished")
	}
}

func TestShellNoOutput(t *testing.T) {
	eng, ch, _ := newTestEngine(t, nil)

	if !eng.Enqueue(context.Background(), "T1", shellDirective("true")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if reply.text != "(no output)" {
		t.Fatalf("reply = %q", reply.text)
	}
}

func TestShellCombinesStderr(t *testing.T) {
	eng, ch, _ := newTestEngine(t, nil)

	if !eng.Enqueue(context.Background(), "T1", shellDirective("echo out; echo err >&2; exit 3")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if !strings.Contains(reply.text, "out") || !strings.Contains(reply.text, "err") {
		t.Fatalf("reply = %q, want both streams", reply.text)
	}
}

func TestShellRunsInWorkingDirectory(t *testing.T) {
	eng, ch, store := newTestEngine(t, nil)
	ctx := context.Background()

	workDir := store.DefaultDirectory()
	if !eng.Enqueue(ctx, "T1", shellDirective("pwd")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if !strings.Contains(reply.text, workDir) {
		t.Fatalf("reply = %q, want the working directory %q", reply.text, workDir)
	}
}

func TestShellTimeoutKillsProcessGroup(t *testing.T) {
	eng, ch, _ := newTestEngine(t, func(c *Config) {
		c.ShellTimeout = 200 * time.Millisecond
	})

	begin := time.Now()
	if !eng.Enqueue(context.Background(), "T1", shellDirective("sleep 30")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for timeout reply")
	elapsed := time.Since(begin)

	if !strings.HasPrefix(reply.text, "Timeout (200ms)") {
		t.Fatalf("reply = %q", reply.text)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout reply took %v, the process was not killed at the deadline", elapsed)
	}
}

func TestShellTimeoutKeepsPartialOutput(t *testing.T) {
	eng, ch, _ := newTestEngine(t, func(c *Config) {
		c.ShellTimeout = 300 * time.Millisecond
	})

	if !eng.Enqueue(context.Background(), "T1", shellDirective("echo partial; sleep 30")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for timeout reply")
	if !strings.HasPrefix(reply.text, "Timeout (300ms)") {
		t.Fatalf("reply = %q", reply.text)
	}
	if !strings.Contains(reply.text, "partial") {
		t.Fatalf("reply = %q, want the output captured before the kill", reply.text)
	}
}

func TestShellBlockedPattern(t *testing.T) {
	archiveDir := t.TempDir()
	archive, err := transcript.NewArchive(archiveDir, transcript.Options{Compression: "none"})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	eng, ch, _ := newTestEngine(t, func(c *Config) {
		c.Archive = archive
	})

	blocked := "rm -rf / --no-preserve-root"
	if !eng.Enqueue(context.Background(), "T1", shellDirective(blocked)) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for blocked reply")
	if !strings.HasPrefix(reply.text, "Blocked: ") {
		t.Fatalf("reply = %q", reply.text)
	}

	entries, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("archive has %d entries, want 1", len(entries))
	}
	record, err := archive.Read(entries[0].Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Status != transcript.StatusRefused {
		t.Fatalf("record status = %q, want %q", record.Status, transcript.StatusRefused)
	}
	if record.Input != blocked {
		t.Fatalf("record input = %q", record.Input)
	}
}

func TestShellArchivesCompletedRecord(t *testing.T) {
	archiveDir := t.TempDir()
	archive, err := transcript.NewArchive(archiveDir, transcript.Options{Compression: "none"})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.Archive = archive
	})

	if !eng.Enqueue(context.Background(), "T1", shellDirective("echo archived")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

	entries, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("archive has %d entries, want 1", len(entries))
	}
	record, err := archive.Read(entries[0].Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Status != transcript.StatusCompleted {
		t.Fatalf("record status = %q", record.Status)
	}
	if record.Kind != "shell" {
		t.Fatalf("record kind = %q", record.Kind)
	}
	if record.Output != "archived" {
		t.Fatalf("record output = %q", record.Output)
	}
	if record.WorkingDirectory != store.DefaultDirectory() {
		t.Fatalf("record directory = %q, want %q", record.WorkingDirectory, store.DefaultDirectory())
	}
}

func TestShellOutputSanitized(t *testing.T) {
	eng, ch, _ := newTestEngine(t, nil)

	// ANSI color plus a carriage-return overwrite, the way progress
	// bars print.
	command := `printf '\033[31mred\033[0m\nworking...\rdone\n'`
	if !eng.Enqueue(context.Background(), "T1", shellDirective(command)) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if strings.Contains(reply.text, "\033") {
		t.Fatalf("reply %q still carries escape sequences", reply.text)
	}
	if !strings.Contains(reply.text, "red") || !strings.Contains(reply.text, "done") {
		t.Fatalf("reply = %q", reply.text)
	}
	if strings.Contains(reply.text, "working") {
		t.Fatalf("reply %q kept the overwritten progress text", reply.text)
	}
}

func TestShellOutputTruncated(t *testing.T) {
	eng, ch, _ := newTestEngine(t, nil)

	command := "head -c 8000 /dev/zero | tr '\\0' 'a'"
	if !eng.Enqueue(context.Background(), "T1", shellDirective(command)) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if !strings.Contains(reply.text, "output truncated") {
		t.Fatalf("reply is missing the truncation marker")
	}
	if len(reply.text) > outputLimit+100 {
		t.Fatalf("reply is %d bytes, want roughly the output limit", len(reply.text))
	}
}

func TestShellSpawnFailure(t *testing.T) {
	eng, ch, store := newTestEngine(t, nil)
	ctx := context.Background()

	// Point the session at a directory that no longer exists; the
	// spawn fails before the command runs.
	gone := filepath.Join(t.TempDir(), "gone")
	if _, err := store.GetOrCreate("T1", time.Now()); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := store.Update("T1", time.Now(), func(s *session.Session) {
		s.WorkingDirectory = gone
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if !eng.Enqueue(ctx, "T1", shellDirective("echo never")) {
		t.Fatal("enqueue rejected")
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if !strings.HasPrefix(reply.text, ":x: Could not run the command") {
		t.Fatalf("reply = %q", reply.text)
	}
}
