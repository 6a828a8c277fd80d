// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"
	"time"
)

// Mode selects the agent's permission posture for an execution. The
// zero value means "unset": the agent runs with its own defaults and
// prompts route through the approval gate.
type Mode string

const (
	// ModePlan asks the agent to produce a plan without executing
	// tools.
	ModePlan Mode = "plan"
	// ModeReadOnly permits read-only tools and denies everything
	// that mutates.
	ModeReadOnly Mode = "readonly"
	// ModeAuto auto-approves edits within the working directory;
	// everything else still gates.
	ModeAuto Mode = "auto"
	// ModeYolo bypasses permission prompts entirely.
	ModeYolo Mode = "yolo"
)

// ParseMode maps a user-typed mode name to a Mode. Matching is
// case-insensitive. Returns false for unknown names.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(s)) {
	case ModePlan:
		return ModePlan, true
	case ModeReadOnly:
		return ModeReadOnly, true
	case ModeAuto:
		return ModeAuto, true
	case ModeYolo:
		return ModeYolo, true
	}
	return "", false
}

// ModeNames lists the accepted mode names for help and error text.
func ModeNames() []string {
	return []string{string(ModePlan), string(ModeReadOnly), string(ModeAuto), string(ModeYolo)}
}

// Model names a claude model alias. The zero value defers to the
// claude CLI's own default.
type Model string

const (
	// ModelSonnet is the balanced default.
	ModelSonnet Model = "sonnet"
	// ModelOpus is the high-capability model.
	ModelOpus Model = "opus"
	// ModelHaiku is the fast model.
	ModelHaiku Model = "haiku"
)

// ParseModel maps a user-typed model name to a Model. Matching is
// case-insensitive. Returns false for unknown names.
func ParseModel(s string) (Model, bool) {
	switch Model(strings.ToLower(s)) {
	case ModelSonnet:
		return ModelSonnet, true
	case ModelOpus:
		return ModelOpus, true
	case ModelHaiku:
		return ModelHaiku, true
	}
	return "", false
}

// ModelNames lists the accepted model names for help and error text.
func ModelNames() []string {
	return []string{string(ModelSonnet), string(ModelOpus), string(ModelHaiku)}
}

// ResumeLatest is the AgentSessionID sentinel meaning "resume the
// machine's most recent agent conversation" rather than a specific
// one. The agent driver translates it to `claude --continue`.
const ResumeLatest = "latest"

// Session is the durable per-thread state. One session exists per
// conversation thread, created on first sight and never deleted
// automatically.
type Session struct {
	// ThreadID is the channel timestamp of the thread's root message.
	// Immutable key.
	ThreadID string `json:"thread_id"`

	// WorkingDirectory is the absolute directory shell commands and
	// agent invocations run in.
	WorkingDirectory string `json:"working_directory"`

	// Mode is the persisted permission posture. Empty means unset.
	Mode Mode `json:"mode,omitempty"`

	// Model is the persisted model alias. Empty defers to the agent
	// default.
	Model Model `json:"model,omitempty"`

	// AgentSessionID is the last agent conversation bound to this
	// thread, the ResumeLatest sentinel, or empty.
	AgentSessionID string `json:"agent_session_id,omitempty"`

	// Active reports an execution in flight for this thread. At most
	// one per thread; cleared on every exit path and forced false
	// when the store loads.
	Active bool `json:"active"`

	// LastActivity is when this session last dispatched work.
	// Observability only; never used for eviction.
	LastActivity time.Time `json:"last_activity"`
}
