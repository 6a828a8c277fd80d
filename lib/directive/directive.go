// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"fmt"
	"strings"

	"github.com/waldo-labs/waldo/lib/session"
)

// Kind discriminates what a message asks the daemon to do.
type Kind int

const (
	// KindPrompt is a free-form message for the agent.
	KindPrompt Kind = iota
	// KindShell runs a shell command.
	KindShell
	// KindChangeDir changes the thread's working directory. An empty
	// Path resets it to the configured default.
	KindChangeDir
	// KindNew discards the thread's agent conversation binding.
	KindNew
	// KindResume binds the thread to an agent conversation.
	KindResume
	// KindStatus asks for the daemon status summary.
	KindStatus
	// KindStop asks the daemon to shut down.
	KindStop
	// KindHelp asks for the usage text.
	KindHelp
	// KindSetMode persists a permission mode on the session.
	KindSetMode
	// KindSetModel persists a model alias on the session.
	KindSetModel
	// KindWarning carries advisory text for the reply and mutates
	// nothing. Produced for malformed control input; parsing itself
	// never fails.
	KindWarning
)

var kindNames = map[Kind]string{
	KindPrompt:    "prompt",
	KindShell:     "shell",
	KindChangeDir: "cd",
	KindNew:       "new",
	KindResume:    "resume",
	KindStatus:    "status",
	KindStop:      "stop",
	KindHelp:      "help",
	KindSetMode:   "mode",
	KindSetModel:  "model",
	KindWarning:   "warning",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Directive is a parsed message. Which fields are meaningful depends
// on Kind.
type Directive struct {
	Kind Kind

	// Prompt is the agent prompt text (KindPrompt).
	Prompt string

	// Command is the shell command line (KindShell).
	Command string

	// Path is the change-directory target (KindChangeDir); empty
	// means the configured default.
	Path string

	// SessionID is the agent conversation to resume (KindResume);
	// session.ResumeLatest when the message named none.
	SessionID string

	// Mode is the persisted mode (KindSetMode) or a one-shot
	// override on a prompt. Empty means no override.
	Mode session.Mode

	// Model is the persisted model (KindSetModel) or a one-shot
	// override on a prompt. Empty means no override.
	Model session.Model

	// Warning is advisory text surfaced in the reply (KindWarning).
	Warning string
}

// Parse maps message text to a directive. Precedence: a leading `!`
// makes a shell directive (with `cd` special-cased); stacked one-shot
// `<mode>:` / `<model>:` prefixes make the rest a prompt with
// overrides; a whole-message control keyword makes a control
// directive; anything else is a prompt. Parse never fails: malformed
// control input degrades to a KindWarning directive.
func Parse(text string) Directive {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Directive{Kind: KindPrompt}
	}

	if rest, ok := strings.CutPrefix(trimmed, "!"); ok {
		return parseShell(strings.TrimSpace(rest))
	}

	remaining, oneShotMode, oneShotModel, consumed := cutPrefixes(trimmed)
	if consumed {
		if remaining == "" {
			return Directive{
				Kind:    KindWarning,
				Warning: "a mode/model prefix needs a prompt after it",
			}
		}
		return Directive{
			Kind:   KindPrompt,
			Prompt: remaining,
			Mode:   oneShotMode,
			Model:  oneShotModel,
		}
	}

	if control, ok := parseControl(trimmed); ok {
		return control
	}

	return Directive{Kind: KindPrompt, Prompt: trimmed}
}

// parseShell handles the text after a leading `!`. The `cd` builtin
// mutates the session instead of spawning a shell.
func parseShell(command string) Directive {
	if command == "" {
		return Directive{Kind: KindWarning, Warning: "usage: !<command>"}
	}
	fields := strings.Fields(command)
	if fields[0] == "cd" {
		path := strings.TrimSpace(strings.TrimPrefix(command, "cd"))
		return Directive{Kind: KindChangeDir, Path: path}
	}
	return Directive{Kind: KindShell, Command: command}
}

// cutPrefixes consumes leading `<mode>:` / `<model>:` tokens. A token
// counts as a prefix only when the text before the colon is a single
// word naming a known mode or model, so ordinary prose with a colon
// ("note: check this") stays untouched. Later prefixes of the same
// class win.
func cutPrefixes(text string) (remaining string, mode session.Mode, model session.Model, consumed bool) {
	remaining = text
	for {
		head, tail, found := strings.Cut(remaining, ":")
		if !found || head == "" || strings.ContainsAny(head, " \t\n") {
			return
		}
		if parsedMode, ok := session.ParseMode(head); ok {
			mode = parsedMode
		} else if parsedModel, ok := session.ParseModel(head); ok {
			model = parsedModel
		} else {
			return
		}
		consumed = true
		remaining = strings.TrimSpace(tail)
	}
}

// parseControl matches whole-message control keywords. The keyword is
// the entire message apart from its argument: extra trailing words
// mean the message is prose, not control.
func parseControl(text string) (Directive, bool) {
	fields := strings.Fields(text)
	keyword := strings.ToLower(fields[0])

	switch len(fields) {
	case 1:
		switch keyword {
		case "new":
			return Directive{Kind: KindNew}, true
		case "resume":
			return Directive{Kind: KindResume, SessionID: session.ResumeLatest}, true
		case "status":
			return Directive{Kind: KindStatus}, true
		case "stop":
			return Directive{Kind: KindStop}, true
		case "help":
			return Directive{Kind: KindHelp}, true
		case "mode":
			return Directive{
				Kind:    KindWarning,
				Warning: "mode takes one of: " + strings.Join(session.ModeNames(), ", "),
			}, true
		case "model":
			return Directive{
				Kind:    KindWarning,
				Warning: "model takes one of: " + strings.Join(session.ModelNames(), ", "),
			}, true
		}
	case 2:
		switch keyword {
		case "resume":
			return Directive{Kind: KindResume, SessionID: fields[1]}, true
		case "mode":
			parsed, ok := session.ParseMode(fields[1])
			if !ok {
				return Directive{
					Kind: KindWarning,
					Warning: fmt.Sprintf("unknown mode %q, expected one of: %s",
						fields[1], strings.Join(session.ModeNames(), ", ")),
				}, true
			}
			return Directive{Kind: KindSetMode, Mode: parsed}, true
		case "model":
			parsed, ok := session.ParseModel(fields[1])
			if !ok {
				return Directive{
					Kind: KindWarning,
					Warning: fmt.Sprintf("unknown model %q, expected one of: %s",
						fields[1], strings.Join(session.ModelNames(), ", ")),
				}, true
			}
			return Directive{Kind: KindSetModel, Model: parsed}, true
		}
	}
	return Directive{}, false
}
