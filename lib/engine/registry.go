// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/waldo-labs/waldo/lib/session"
)

// Execution describes one in-flight agent invocation. The engine
// registers it for the duration of the subprocess so gate requests
// arriving on the control socket can be traced back to the thread
// whose agent made them.
type Execution struct {
	// ThreadTS is the owning thread.
	ThreadTS string

	// WorkingDirectory is where the agent runs.
	WorkingDirectory string

	// Mode is the effective permission mode for this invocation,
	// one-shot override included.
	Mode session.Mode

	// AgentSessionID is the conversation id the invocation resumes,
	// empty for a fresh conversation. The agent reports its own id in
	// hook events, so a resumed conversation matches exactly.
	AgentSessionID string

	// StartedAt is when the subprocess was spawned.
	StartedAt time.Time
}

func (e *Engine) registerExecution(execution Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[execution.ThreadTS] = &execution
}

func (e *Engine) unregisterExecution(threadTS string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, threadTS)
}

// Inflight returns the currently running agent invocations ordered by
// thread.
func (e *Engine) Inflight() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]Execution, 0, len(e.inflight))
	for _, execution := range e.inflight {
		result = append(result, *execution)
	}
	slices.SortFunc(result, func(a, b Execution) int {
		return strings.Compare(a.ThreadTS, b.ThreadTS)
	})
	return result
}

// ResolveExecution maps a gate request to its owning invocation. The
// agent session id is authoritative when it matches; the working
// directory breaks ties when it is unique; a single in-flight
// invocation matches unconditionally, covering fresh conversations
// that have no session id to report yet. Ambiguity returns false and
// the caller falls back to its default decision.
func (e *Engine) ResolveExecution(agentSessionID, workingDirectory string) (Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if agentSessionID != "" {
		for _, execution := range e.inflight {
			if execution.AgentSessionID == agentSessionID {
				return *execution, true
			}
		}
	}

	if workingDirectory != "" {
		var match *Execution
		for _, execution := range e.inflight {
			if execution.WorkingDirectory == workingDirectory {
				if match != nil {
					match = nil
					break
				}
				match = execution
			}
		}
		if match != nil {
			return *match, true
		}
	}

	if len(e.inflight) == 1 {
		for _, execution := range e.inflight {
			return *execution, true
		}
	}
	return Execution{}, false
}
