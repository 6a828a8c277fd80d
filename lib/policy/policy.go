// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides what tool calls and shell commands may run.
// A policy classifies agent tools (always-allowed, read-only) and
// lists shell command substrings that are refused outright. The mode
// table combines a session's permission mode with those
// classifications into a gate decision.
//
// Policies are authored on disk as JSONC (JSON extended with comments
// and trailing commas); a built-in default applies when no file is
// configured.
package policy

import (
	"fmt"
	"slices"
	"strings"

	"github.com/waldo-labs/waldo/lib/session"
)

// Policy holds the tool and shell rules for one daemon.
type Policy struct {
	// AllowedTools never require approval, in any mode.
	AllowedTools []string

	// ReadOnlyTools are additionally permitted under plan and
	// readonly modes. Everything outside this set and AllowedTools
	// counts as mutating.
	ReadOnlyTools []string

	// BlockedShellPatterns are substrings that make a shell command
	// unrunnable regardless of mode.
	BlockedShellPatterns []string
}

// Default returns the built-in policy.
func Default() *Policy {
	return &Policy{
		AllowedTools: []string{
			"Read", "Glob", "Grep", "TodoWrite",
		},
		ReadOnlyTools: []string{
			"Read", "Glob", "Grep", "TodoWrite", "WebFetch", "WebSearch",
		},
		BlockedShellPatterns: []string{
			"rm -rf /",
			"rm -rf ~",
			"rm -rf $HOME",
			"mkfs",
			"dd if=",
			":(){",
			"> /dev/sd",
			"chmod -R 777 /",
		},
	}
}

// Decision is what the approval gate should do with a tool request.
type Decision int

const (
	// DecisionAllow permits the tool without asking anyone.
	DecisionAllow Decision = iota
	// DecisionDeny refuses the tool.
	DecisionDeny
	// DecisionGate defers to the interactive approval flow.
	DecisionGate
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	case DecisionGate:
		return "gate"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// ToolAllowed reports whether tool is on the always-allowed list.
func (p *Policy) ToolAllowed(tool string) bool {
	return slices.Contains(p.AllowedTools, tool)
}

// ToolReadOnly reports whether tool is in the read-only set.
func (p *Policy) ToolReadOnly(tool string) bool {
	return slices.Contains(p.ReadOnlyTools, tool)
}

// ForTool applies the mode table to one tool request:
//
//	allowed-list tool   → allow, in every mode
//	auto, yolo          → allow
//	plan, readonly      → allow read-only tools, deny the rest
//	unset               → gate interactively
func (p *Policy) ForTool(mode session.Mode, tool string) Decision {
	if p.ToolAllowed(tool) {
		return DecisionAllow
	}
	switch mode {
	case session.ModeAuto, session.ModeYolo:
		return DecisionAllow
	case session.ModePlan, session.ModeReadOnly:
		if p.ToolReadOnly(tool) {
			return DecisionAllow
		}
		return DecisionDeny
	}
	return DecisionGate
}

// CheckShell returns the first blocked pattern command contains, or
// the empty string when the command is clean. Matching is plain
// substring.
func (p *Policy) CheckShell(command string) string {
	for _, pattern := range p.BlockedShellPatterns {
		if pattern != "" && strings.Contains(command, pattern) {
			return pattern
		}
	}
	return ""
}
