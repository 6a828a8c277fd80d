// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/waldo-labs/waldo/lib/clock"
	"github.com/waldo-labs/waldo/lib/directive"
	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/testutil"
	"github.com/waldo-labs/waldo/lib/transcript"
)

// writeAgentStub writes a fake agent CLI that records its argv (one
// per line) and WALDO_SOCKET, prints output on stdout, and exits with
// exitCode. Returns the binary path and the two recording files.
func writeAgentStub(t *testing.T, output string, exitCode int) (binary, argsFile, socketFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "argv")
	socketFile = filepath.Join(dir, "socket")
	outputFile := filepath.Join(dir, "output")
	if err := os.WriteFile(outputFile, []byte(output), 0o644); err != nil {
		t.Fatalf("writing stub output: %v", err)
	}
	body := fmt.Sprintf(`printf '%%s\n' "$@" > %s
printf '%%s' "$WALDO_SOCKET" > %s
cat %s
exit %d
`, argsFile, socketFile, outputFile, exitCode)
	binary = writeScript(t, dir, "agent", body)
	return binary, argsFile, socketFile
}

// recordedArgs reads the argv file a stub wrote, one argument per
// line.
func recordedArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading recorded args: %v", err)
	}
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func promptDirective(prompt string) directive.Directive {
	return directive.Directive{Kind: directive.KindPrompt, Prompt: prompt}
}

func TestPromptInvokesAgent(t *testing.T) {
	binary, argsFile, socketFile := writeAgentStub(t,
		`{"result":"All done.","session_id":"sess-1"}`, 0)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.SocketPath = "/run/waldo.sock"
	})
	ctx := context.Background()

	if !eng.Enqueue(ctx, "T1", promptDirective("summarize the build")) {
		t.Fatal("enqueue rejected")
	}

	hourglass := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	wantHourglass := fmt.Sprintf(":hourglass_flowing_sand: `%s`", store.DefaultDirectory())
	if hourglass.text != wantHourglass {
		t.Fatalf("progress post = %q, want %q", hourglass.text, wantHourglass)
	}

	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for agent reply")
	if reply.text != "All done." {
		t.Fatalf("reply = %q", reply.text)
	}

	final := testutil.RequireReceive(t, ch.updated, testTimeout, "waiting for final progress update")
	if !strings.HasPrefix(final, ":white_check_mark: `") {
		t.Fatalf("final progress update = %q", final)
	}

	want := []string{"--print", "--output-format", "json", "summarize the build"}
	if got := recordedArgs(t, argsFile); !slices.Equal(got, want) {
		t.Fatalf("agent args = %v, want %v", got, want)
	}

	socket, err := os.ReadFile(socketFile)
	if err != nil {
		t.Fatalf("reading recorded socket: %v", err)
	}
	if string(socket) != "/run/waldo.sock" {
		t.Fatalf("WALDO_SOCKET = %q", socket)
	}

	sess, _ := store.Get("T1")
	if sess.AgentSessionID != "sess-1" {
		t.Fatalf("binding = %q, want sess-1", sess.AgentSessionID)
	}
	if sess.Active {
		t.Fatal("session still marked active")
	}
}

func TestPromptResumeFlags(t *testing.T) {
	cases := []struct {
		name    string
		binding string
		want    []string
	}{
		{"specific conversation", "abc-123", []string{"--resume", "abc-123"}},
		{"latest sentinel", session.ResumeLatest, []string{"--continue"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			binary, argsFile, _ := writeAgentStub(t,
				`{"result":"ok","session_id":"sess-2"}`, 0)
			eng, ch, store := newTestEngine(t, func(c *Config) {
				c.AgentBinary = binary
			})
			ctx := context.Background()

			if _, err := store.GetOrCreate("T1", time.Now()); err != nil {
				t.Fatalf("GetOrCreate: %v", err)
			}
			if _, err := store.Update("T1", time.Now(), func(s *session.Session) {
				s.AgentSessionID = tc.binding
			}); err != nil {
				t.Fatalf("Update: %v", err)
			}

			if !eng.Enqueue(ctx, "T1", promptDirective("hi")) {
				t.Fatal("enqueue rejected")
			}
			testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
			testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

			got := recordedArgs(t, argsFile)
			want := append([]string{"--print", "--output-format", "json"}, tc.want...)
			want = append(want, "hi")
			if !slices.Equal(got, want) {
				t.Fatalf("agent args = %v, want %v", got, want)
			}
		})
	}
}

func TestPromptOneShotOverrides(t *testing.T) {
	binary, argsFile, _ := writeAgentStub(t,
		`{"result":"ok","session_id":"sess-3"}`, 0)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
	})
	ctx := context.Background()

	d := promptDirective("plan the refactor")
	d.Mode = session.ModePlan
	d.Model = session.ModelOpus
	if !eng.Enqueue(ctx, "T1", d) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

	want := []string{
		"--print", "--output-format", "json",
		"--permission-mode", "plan",
		"--model", "opus",
		"plan the refactor",
	}
	if got := recordedArgs(t, argsFile); !slices.Equal(got, want) {
		t.Fatalf("agent args = %v, want %v", got, want)
	}

	// One-shot overrides never persist.
	sess, _ := store.Get("T1")
	if sess.Mode != "" || sess.Model != "" {
		t.Fatalf("session mode/model = %q/%q, want both empty", sess.Mode, sess.Model)
	}
}

func TestPromptUsesDefaultModel(t *testing.T) {
	binary, argsFile, _ := writeAgentStub(t,
		`{"result":"ok","session_id":"sess-4"}`, 0)
	eng, ch, _ := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.DefaultModel = "sonnet"
	})

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

	want := []string{"--print", "--output-format", "json", "--model", "sonnet", "hi"}
	if got := recordedArgs(t, argsFile); !slices.Equal(got, want) {
		t.Fatalf("agent args = %v, want %v", got, want)
	}
}

func TestBuildAgentArgs(t *testing.T) {
	readOnly := []string{"Read", "Glob", "Grep"}

	cases := []struct {
		name    string
		binding string
		mode    session.Mode
		model   session.Model
		want    []string
	}{
		{
			name: "bare",
			want: []string{"--print", "--output-format", "json", "do it"},
		},
		{
			name: "plan mode",
			mode: session.ModePlan,
			want: []string{"--print", "--output-format", "json", "--permission-mode", "plan", "do it"},
		},
		{
			name: "readonly mode lists tools",
			mode: session.ModeReadOnly,
			want: []string{"--print", "--output-format", "json", "--allowedTools", "Read,Glob,Grep", "do it"},
		},
		{
			name: "auto mode",
			mode: session.ModeAuto,
			want: []string{"--print", "--output-format", "json", "--permission-mode", "acceptEdits", "do it"},
		},
		{
			name: "yolo mode",
			mode: session.ModeYolo,
			want: []string{"--print", "--output-format", "json", "--dangerously-skip-permissions", "do it"},
		},
		{
			name:  "model",
			model: session.ModelHaiku,
			want:  []string{"--print", "--output-format", "json", "--model", "haiku", "do it"},
		},
		{
			name:    "resume binding",
			binding: "abc",
			want:    []string{"--print", "--output-format", "json", "--resume", "abc", "do it"},
		},
		{
			name:    "latest binding",
			binding: session.ResumeLatest,
			want:    []string{"--print", "--output-format", "json", "--continue", "do it"},
		},
		{
			name:    "everything",
			binding: "abc",
			mode:    session.ModeAuto,
			model:   session.ModelOpus,
			want: []string{
				"--print", "--output-format", "json",
				"--permission-mode", "acceptEdits",
				"--model", "opus",
				"--resume", "abc",
				"do it",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildAgentArgs(tc.binding, tc.mode, tc.model, readOnly, "do it")
			if !slices.Equal(got, tc.want) {
				t.Fatalf("buildAgentArgs = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseAgentResult(t *testing.T) {
	timeout := 10 * time.Minute

	cases := []struct {
		name          string
		result        commandResult
		wantResponse  string
		wantSessionID string
		wantStatus    string
		wantRaw       bool
	}{
		{
			name:          "json contract",
			result:        commandResult{stdout: `{"result":"Fixed it.","session_id":"s-1"}`},
			wantResponse:  "Fixed it.",
			wantSessionID: "s-1",
			wantStatus:    transcript.StatusCompleted,
		},
		{
			name:         "unparseable stdout passes through",
			result:       commandResult{stdout: "plain words\n"},
			wantResponse: "plain words",
			wantStatus:   transcript.StatusCompleted,
		},
		{
			name:         "json without result falls back to stdout",
			result:       commandResult{stdout: `{"session_id":"s-2"}`},
			wantResponse: `{"session_id":"s-2"}`,
			// The id still binds even when the result text is missing.
			wantSessionID: "s-2",
			wantStatus:    transcript.StatusCompleted,
		},
		{
			name:         "empty output",
			result:       commandResult{},
			wantResponse: "(no output)",
			wantStatus:   transcript.StatusCompleted,
		},
		{
			name:         "stderr on failure",
			result:       commandResult{stderr: "trace\n", exitCode: 1},
			wantResponse: "trace",
			wantStatus:   transcript.StatusFailed,
			wantRaw:      true,
		},
		{
			name:         "nonzero exit with stdout keeps stdout",
			result:       commandResult{stdout: "partial answer", exitCode: 2},
			wantResponse: "partial answer",
			wantStatus:   transcript.StatusFailed,
		},
		{
			name:         "timeout",
			result:       commandResult{timedOut: true},
			wantResponse: "Timeout (10m0s)",
			wantStatus:   transcript.StatusTimedOut,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseAgentResult(tc.result, timeout)
			if got.response != tc.wantResponse {
				t.Fatalf("response = %q, want %q", got.response, tc.wantResponse)
			}
			if got.sessionID != tc.wantSessionID {
				t.Fatalf("sessionID = %q, want %q", got.sessionID, tc.wantSessionID)
			}
			if got.status != tc.wantStatus {
				t.Fatalf("status = %q, want %q", got.status, tc.wantStatus)
			}
			if got.rawOutput != tc.wantRaw {
				t.Fatalf("rawOutput = %v, want %v", got.rawOutput, tc.wantRaw)
			}
		})
	}
}

func TestPromptStderrFailure(t *testing.T) {
	dir := t.TempDir()
	binary := writeScript(t, dir, "agent", "echo boom >&2\nexit 1\n")
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
	})

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if reply.text != "```\nboom\n```" {
		t.Fatalf("reply = %q", reply.text)
	}

	final := testutil.RequireReceive(t, ch.updated, testTimeout, "waiting for final progress update")
	if !strings.HasPrefix(final, ":x: `") {
		t.Fatalf("final progress update = %q", final)
	}

	sess, _ := store.Get("T1")
	if sess.AgentSessionID != "" {
		t.Fatalf("binding = %q, want it untouched on failure", sess.AgentSessionID)
	}
}

func TestPromptKeepsBindingOnFailure(t *testing.T) {
	// Valid JSON with a fresh id, but a non-zero exit: the old binding
	// must survive.
	binary, _, _ := writeAgentStub(t,
		`{"result":"half done","session_id":"sess-new"}`, 1)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
	})
	ctx := context.Background()

	if _, err := store.GetOrCreate("T1", time.Now()); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := store.Update("T1", time.Now(), func(s *session.Session) {
		s.AgentSessionID = "sess-old"
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if !eng.Enqueue(ctx, "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if reply.text != "half done" {
		t.Fatalf("reply = %q", reply.text)
	}

	sess, _ := store.Get("T1")
	if sess.AgentSessionID != "sess-old" {
		t.Fatalf("binding = %q, want sess-old", sess.AgentSessionID)
	}
}

func TestPromptTimeout(t *testing.T) {
	dir := t.TempDir()
	binary := writeScript(t, dir, "agent", "sleep 30\n")
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.AgentTimeout = 300 * time.Millisecond
	})

	begin := time.Now()
	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for timeout reply")
	elapsed := time.Since(begin)

	if reply.text != "Timeout (300ms)" {
		t.Fatalf("reply = %q", reply.text)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout reply took %v", elapsed)
	}

	sess, _ := store.Get("T1")
	if sess.AgentSessionID != "" {
		t.Fatalf("binding = %q, want it untouched on timeout", sess.AgentSessionID)
	}
}

func TestPromptChunksLongReply(t *testing.T) {
	long := strings.TrimSpace(strings.Repeat("word ", 1400))
	payload, err := json.Marshal(map[string]string{
		"result":     long,
		"session_id": "sess-5",
	})
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	binary, _, _ := writeAgentStub(t, string(payload), 0)
	eng, ch, _ := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
	})

	if !eng.Enqueue(context.Background(), "T1", promptDirective("write a lot")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")

	// 6999 bytes of prose split at the 3000-byte reply limit: three
	// messages that rejoin to the original.
	var chunks []string
	for i := 0; i < 3; i++ {
		chunk := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for chunk %d", i+1)
		if len(chunk.text) > replyChunkSize {
			t.Fatalf("chunk %d is %d bytes, limit is %d", i, len(chunk.text), replyChunkSize)
		}
		chunks = append(chunks, chunk.text)
	}
	if rejoined := strings.Join(chunks, ""); rejoined != long {
		t.Fatalf("rejoined chunks differ from the original: %d bytes vs %d", len(rejoined), len(long))
	}
}

func TestPromptSurvivesChannelFailure(t *testing.T) {
	archiveDir := t.TempDir()
	archive, err := transcript.NewArchive(archiveDir, transcript.Options{Compression: "none"})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	defer archive.Close()

	binary, _, _ := writeAgentStub(t,
		`{"result":"quiet success","session_id":"sess-6"}`, 0)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.Archive = archive
	})
	ch.postErr = errors.New("channel is down")

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}

	// No replies can land; the run still binds the conversation and
	// archives the record.
	waitFor(t, "session binding", func() bool {
		sess, ok := store.Get("T1")
		return ok && sess.AgentSessionID == "sess-6"
	})
	waitFor(t, "archive record", func() bool {
		entries, err := archive.List()
		return err == nil && len(entries) == 1
	})

	entries, err := archive.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	record, err := archive.Read(entries[0].Path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if record.Status != transcript.StatusCompleted {
		t.Fatalf("record status = %q", record.Status)
	}
	if record.Kind != "prompt" {
		t.Fatalf("record kind = %q", record.Kind)
	}
	if record.AgentSessionID != "sess-6" {
		t.Fatalf("record binding = %q", record.AgentSessionID)
	}
}

func TestPromptWritesHookSettings(t *testing.T) {
	const hookCommand = "/usr/local/bin/waldo-daemon hook pre-tool-use"

	binary, _, _ := writeAgentStub(t,
		`{"result":"ok","session_id":"sess-7"}`, 0)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.HookCommand = hookCommand
	})

	// Pre-existing settings must survive the merge.
	settingsDir := filepath.Join(store.DefaultDirectory(), ".claude")
	if err := os.MkdirAll(settingsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	existing := `{"permissions":{"defaultMode":"plan"},"hooks":{"PostToolUse":[{"matcher":"Bash"}]}}`
	settingsPath := filepath.Join(settingsDir, "settings.local.json")
	if err := os.WriteFile(settingsPath, []byte(existing), 0o644); err != nil {
		t.Fatalf("writing settings: %v", err)
	}

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("reading settings: %v", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("settings are not valid JSON: %v", err)
	}

	if _, ok := settings["permissions"]; !ok {
		t.Fatal("merge dropped the permissions key")
	}
	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		t.Fatalf("hooks = %T", settings["hooks"])
	}
	if _, ok := hooks["PostToolUse"]; !ok {
		t.Fatal("merge dropped the PostToolUse hook")
	}

	pre, ok := hooks["PreToolUse"].([]any)
	if !ok || len(pre) != 1 {
		t.Fatalf("PreToolUse = %v", hooks["PreToolUse"])
	}
	matcher, ok := pre[0].(map[string]any)
	if !ok || matcher["matcher"] != "*" {
		t.Fatalf("PreToolUse matcher = %v", pre[0])
	}
	inner, ok := matcher["hooks"].([]any)
	if !ok || len(inner) != 1 {
		t.Fatalf("PreToolUse hooks = %v", matcher["hooks"])
	}
	hook, ok := inner[0].(map[string]any)
	if !ok || hook["type"] != "command" || hook["command"] != hookCommand {
		t.Fatalf("hook entry = %v", inner[0])
	}
	if timeout, ok := hook["timeout"].(float64); !ok || timeout < 300 {
		t.Fatalf("hook timeout = %v, want at least the approval window", hook["timeout"])
	}
}

func TestPromptSkipsHookWiringWithoutCommand(t *testing.T) {
	binary, _, _ := writeAgentStub(t,
		`{"result":"ok","session_id":"sess-8"}`, 0)
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
	})

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")

	if _, err := os.Stat(filepath.Join(store.DefaultDirectory(), ".claude")); !os.IsNotExist(err) {
		t.Fatalf("a .claude directory appeared without a hook command (stat err = %v)", err)
	}
}

func TestProgressUpdatesDuringRun(t *testing.T) {
	dir := t.TempDir()
	release := filepath.Join(dir, "release")
	body := fmt.Sprintf(`while [ ! -f %s ]; do sleep 0.05; done
printf '%%s' '{"result":"finished","session_id":"s1"}'
`, release)
	binary := writeScript(t, dir, "agent", body)

	clk := clock.Fake(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	eng, ch, store := newTestEngine(t, func(c *Config) {
		c.AgentBinary = binary
		c.Clock = clk
	})

	if !eng.Enqueue(context.Background(), "T1", promptDirective("hi")) {
		t.Fatal("enqueue rejected")
	}

	hourglass := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for progress post")
	want := fmt.Sprintf(":hourglass_flowing_sand: `%s`", store.DefaultDirectory())
	if hourglass.text != want {
		t.Fatalf("progress post = %q, want %q", hourglass.text, want)
	}

	// One interval passes; the message gains an elapsed marker.
	clk.WaitForTimers(1)
	clk.Advance(15 * time.Second)
	update := testutil.RequireReceive(t, ch.updated, testTimeout, "waiting for progress update")
	if !strings.HasPrefix(update, ":hourglass_flowing_sand: `") || !strings.Contains(update, "(15s)") {
		t.Fatalf("progress update = %q", update)
	}

	if err := os.WriteFile(release, nil, 0o644); err != nil {
		t.Fatalf("releasing stub: %v", err)
	}

	final := testutil.RequireReceive(t, ch.updated, testTimeout, "waiting for final progress update")
	if !strings.HasPrefix(final, ":white_check_mark: `") {
		t.Fatalf("final progress update = %q", final)
	}
	reply := testutil.RequireReceive(t, ch.replies, testTimeout, "waiting for reply")
	if reply.text != "finished" {
		t.Fatalf("reply = %q", reply.text)
	}
}
