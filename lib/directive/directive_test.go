// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"strings"
	"testing"

	"github.com/waldo-labs/waldo/lib/session"
)

func TestParseControlKeywords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Directive
	}{
		{"new", "new", Directive{Kind: KindNew}},
		{"new uppercase", "NEW", Directive{Kind: KindNew}},
		{"new padded", "  new  ", Directive{Kind: KindNew}},
		{"status", "status", Directive{Kind: KindStatus}},
		{"stop", "stop", Directive{Kind: KindStop}},
		{"help", "Help", Directive{Kind: KindHelp}},
		{"resume bare", "resume", Directive{Kind: KindResume, SessionID: session.ResumeLatest}},
		{"resume id", "resume abc-123", Directive{Kind: KindResume, SessionID: "abc-123"}},
		{"resume mixed case keyword", "Resume ABC", Directive{Kind: KindResume, SessionID: "ABC"}},
		{"mode", "mode auto", Directive{Kind: KindSetMode, Mode: session.ModeAuto}},
		{"mode case", "MODE Plan", Directive{Kind: KindSetMode, Mode: session.ModePlan}},
		{"model", "model opus", Directive{Kind: KindSetModel, Model: session.ModelOpus}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Parse(test.input)
			if got != test.want {
				t.Errorf("Parse(%q) = %+v, want %+v", test.input, got, test.want)
			}
		})
	}
}

func TestParseControlDegradesToPrompt(t *testing.T) {
	// Control keywords are whole-message: trailing prose means the
	// message is a prompt, not control.
	tests := []struct {
		input  string
		prompt string
	}{
		{"new task for today", "new task for today"},
		{"status of the build?", "status of the build?"},
		{"stop doing that", "stop doing that"},
		{"resume working on the parser", "resume working on the parser"},
		{"mode plan now", "mode plan now"},
		{"newish", "newish"},
		{"statuses", "statuses"},
	}
	for _, test := range tests {
		got := Parse(test.input)
		if got.Kind != KindPrompt || got.Prompt != test.prompt {
			t.Errorf("Parse(%q) = %+v, want prompt %q", test.input, got, test.prompt)
		}
	}
}

func TestParseModeModelWarnings(t *testing.T) {
	tests := []struct {
		input        string
		wantContains string
	}{
		{"mode", "mode takes one of"},
		{"model", "model takes one of"},
		{"mode turbo", `unknown mode "turbo"`},
		{"model gpt", `unknown model "gpt"`},
	}
	for _, test := range tests {
		got := Parse(test.input)
		if got.Kind != KindWarning {
			t.Errorf("Parse(%q).Kind = %v, want warning", test.input, got.Kind)
			continue
		}
		if !strings.Contains(got.Warning, test.wantContains) {
			t.Errorf("Parse(%q).Warning = %q, want substring %q",
				test.input, got.Warning, test.wantContains)
		}
		if got.Mode != "" || got.Model != "" {
			t.Errorf("Parse(%q) must not carry a mode/model: %+v", test.input, got)
		}
	}
}

func TestParseShell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Directive
	}{
		{"simple", "!ls", Directive{Kind: KindShell, Command: "ls"}},
		{"args", "!git status --short", Directive{Kind: KindShell, Command: "git status --short"}},
		{"space after bang", "! make test", Directive{Kind: KindShell, Command: "make test"}},
		{"pipeline", "!ps aux | grep waldo", Directive{Kind: KindShell, Command: "ps aux | grep waldo"}},
		{"cd", "!cd /tmp/project", Directive{Kind: KindChangeDir, Path: "/tmp/project"}},
		{"cd spaces in path", "!cd /tmp/my dir", Directive{Kind: KindChangeDir, Path: "/tmp/my dir"}},
		{"cd bare resets", "!cd", Directive{Kind: KindChangeDir}},
		{"cd tilde", "!cd ~/src", Directive{Kind: KindChangeDir, Path: "~/src"}},
		{"cd prefix of command", "!cdparanoia", Directive{Kind: KindShell, Command: "cdparanoia"}},
		{"bare bang", "!", Directive{Kind: KindWarning, Warning: "usage: !<command>"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Parse(test.input)
			if got != test.want {
				t.Errorf("Parse(%q) = %+v, want %+v", test.input, got, test.want)
			}
		})
	}
}

func TestParseShellMultiline(t *testing.T) {
	got := Parse("!for f in *.go; do\n  echo $f\ndone")
	if got.Kind != KindShell {
		t.Fatalf("Kind = %v", got.Kind)
	}
	if !strings.Contains(got.Command, "\n") {
		t.Errorf("multi-line command collapsed: %q", got.Command)
	}
}

func TestParseOneShotPrefixes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Directive
	}{
		{
			"mode prefix",
			"plan: refactor the parser",
			Directive{Kind: KindPrompt, Prompt: "refactor the parser", Mode: session.ModePlan},
		},
		{
			"model prefix",
			"opus: think hard about this",
			Directive{Kind: KindPrompt, Prompt: "think hard about this", Model: session.ModelOpus},
		},
		{
			"both stacked",
			"plan: opus: design the schema",
			Directive{Kind: KindPrompt, Prompt: "design the schema", Mode: session.ModePlan, Model: session.ModelOpus},
		},
		{
			"stacked reversed",
			"haiku: yolo: quick cleanup",
			Directive{Kind: KindPrompt, Prompt: "quick cleanup", Mode: session.ModeYolo, Model: session.ModelHaiku},
		},
		{
			"case insensitive",
			"Opus: hello",
			Directive{Kind: KindPrompt, Prompt: "hello", Model: session.ModelOpus},
		},
		{
			"no space after colon",
			"yolo:rm the build dir",
			Directive{Kind: KindPrompt, Prompt: "rm the build dir", Mode: session.ModeYolo},
		},
		{
			"later prefix of same class wins",
			"opus: haiku: hello",
			Directive{Kind: KindPrompt, Prompt: "hello", Model: session.ModelHaiku},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Parse(test.input)
			if got != test.want {
				t.Errorf("Parse(%q) = %+v, want %+v", test.input, got, test.want)
			}
		})
	}
}

func TestParsePrefixNotConsumedForProse(t *testing.T) {
	// A leading token is a prefix only when it names a known mode or
	// model.
	tests := []string{
		"note: check this later",
		"warning: the build is red",
		"see https://example.com for details",
		"a: b",
	}
	for _, input := range tests {
		got := Parse(input)
		if got.Kind != KindPrompt || got.Prompt != input || got.Mode != "" || got.Model != "" {
			t.Errorf("Parse(%q) = %+v, want untouched prompt", input, got)
		}
	}
}

func TestParsePrefixWithoutPrompt(t *testing.T) {
	got := Parse("opus:")
	if got.Kind != KindWarning {
		t.Errorf("Parse(%q) = %+v, want warning", "opus:", got)
	}
}

func TestParsePrefixedControlWordIsPrompt(t *testing.T) {
	// After a prefix the rest is always a prompt: control keywords
	// match whole messages only.
	got := Parse("plan: status")
	want := Directive{Kind: KindPrompt, Prompt: "status", Mode: session.ModePlan}
	if got != want {
		t.Errorf("Parse(%q) = %+v, want %+v", "plan: status", got, want)
	}
}

func TestParseFreeFormPrompt(t *testing.T) {
	input := "add a retry loop to the fetcher\nand cover it with a test"
	got := Parse(input)
	if got.Kind != KindPrompt {
		t.Fatalf("Kind = %v", got.Kind)
	}
	if got.Prompt != input {
		t.Errorf("Prompt = %q, internal newlines must survive", got.Prompt)
	}
}

func TestParseEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		got := Parse(input)
		if got.Kind != KindPrompt || got.Prompt != "" {
			t.Errorf("Parse(%q) = %+v, want empty prompt", input, got)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindShell.String() != "shell" {
		t.Errorf("KindShell.String() = %q", KindShell.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unknown kind String() = %q", Kind(99).String())
	}
}
