// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import "time"

// Execution outcomes recorded in Record.Status. These values are
// stored in archive files; changing them breaks `waldo archive`
// filtering on existing archives.
const (
	// StatusCompleted: the execution finished and its reply was
	// posted.
	StatusCompleted = "completed"

	// StatusFailed: the subprocess exited non-zero, produced
	// unparseable output, or could not be spawned.
	StatusFailed = "failed"

	// StatusTimedOut: the execution exceeded its wall-clock budget and
	// its process group was killed.
	StatusTimedOut = "timed-out"

	// StatusRefused: the command matched a blocked shell pattern and
	// was never spawned.
	StatusRefused = "refused"
)

// Record is one archived execution. The engine appends a record for
// every terminal state when archiving is enabled.
type Record struct {
	// ID is the execution's unique id (UUID). Also embedded in the
	// archive filename.
	ID string `cbor:"id"`

	// ThreadID is the Slack thread the execution belonged to.
	ThreadID string `cbor:"thread_id"`

	// Kind is the directive kind that ran: "prompt" or "shell".
	Kind string `cbor:"kind"`

	// Input is the prompt text or shell command as the operator wrote
	// it.
	Input string `cbor:"input"`

	// Output is the captured result: the agent's reply text or the
	// sanitized subprocess output. Already truncated to the posting
	// limit, so archive records stay bounded.
	Output string `cbor:"output,omitempty"`

	// Status is the terminal state: "completed", "failed",
	// "timed-out", or "refused".
	Status string `cbor:"status"`

	// Error holds the failure detail for failed executions.
	Error string `cbor:"error,omitempty"`

	// WorkingDirectory is where the execution ran.
	WorkingDirectory string `cbor:"working_directory"`

	// Mode is the permission mode in effect, empty if unset.
	Mode string `cbor:"mode,omitempty"`

	// Model is the model override in effect, empty if unset.
	Model string `cbor:"model,omitempty"`

	// AgentSessionID is the agent conversation id after the
	// execution, empty for shell commands.
	AgentSessionID string `cbor:"agent_session_id,omitempty"`

	// StartedAt is when the execution began.
	StartedAt time.Time `cbor:"started_at"`

	// Duration is the execution's wall-clock time.
	Duration time.Duration `cbor:"duration"`
}
