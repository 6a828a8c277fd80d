// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "time"

// Actions understood by the daemon's control socket. One request and
// one response per connection; the daemon closes the connection after
// replying.
const (
	// ActionGateTool asks the daemon to decide whether an agent tool
	// call may proceed. Sent by the PreToolUse hook process while the
	// agent is blocked waiting for a verdict. The daemon applies the
	// session's permission mode and, when the mode doesn't settle it,
	// asks the operator in the Slack thread.
	ActionGateTool = "gate-tool"

	// ActionStatus requests a snapshot of daemon state: identity,
	// uptime, and the session table.
	ActionStatus = "status"

	// ActionStop asks the daemon to shut down gracefully. The daemon
	// acknowledges before beginning the drain, so the response arrives
	// even though the socket is about to close.
	ActionStop = "stop"
)

// Verdicts returned by the gate-tool action.
const (
	// DecisionAllow lets the tool call proceed.
	DecisionAllow = "allow"

	// DecisionDeny blocks the tool call. Reason carries the text
	// relayed to the agent.
	DecisionDeny = "deny"

	// DecisionAsk defers to the agent's own interactive permission
	// flow. Returned when the daemon cannot reach the operator (for
	// example the approval message failed to post) rather than
	// silently allowing or denying.
	DecisionAsk = "ask"
)

// Request is a CBOR-encoded request sent to the daemon's control
// socket.
type Request struct {
	// Action is the request type: "gate-tool", "status", or "stop".
	Action string `cbor:"action"`

	// ToolName is the agent tool being gated (for gate-tool), e.g.
	// "Bash" or "Write".
	ToolName string `cbor:"tool_name,omitempty"`

	// ToolInput is the raw JSON tool input from the hook payload (for
	// gate-tool). Carried as opaque bytes; the daemon renders a
	// summary of it in the approval message but never needs to
	// round-trip it.
	ToolInput []byte `cbor:"tool_input,omitempty"`

	// AgentSessionID is the agent session that triggered the hook
	// (for gate-tool). The daemon maps it back to the Slack thread
	// whose operator must approve the call.
	AgentSessionID string `cbor:"agent_session_id,omitempty"`

	// WorkingDirectory is the agent process's working directory from
	// the hook payload (for gate-tool). Used as a fallback when the
	// session ID doesn't match any known thread, and shown in the
	// approval message.
	WorkingDirectory string `cbor:"working_directory,omitempty"`
}

// Response is a CBOR-encoded response from the daemon.
type Response struct {
	// OK indicates whether the request succeeded.
	OK bool `cbor:"ok"`

	// Error contains the error message if OK is false.
	Error string `cbor:"error,omitempty"`

	// Decision is the gate-tool verdict: "allow", "deny", or "ask".
	Decision string `cbor:"decision,omitempty"`

	// Reason explains a deny verdict in text the agent will see, e.g.
	// "operator denied Bash" or "approval timed out".
	Reason string `cbor:"reason,omitempty"`

	// Status is the daemon state snapshot. Returned by the "status"
	// action.
	Status *StatusInfo `cbor:"status,omitempty"`
}

// StatusInfo is the daemon state snapshot returned by the "status"
// action.
type StatusInfo struct {
	// MachineName is the hostname the daemon reports in its startup
	// message, identifying which machine an operator is driving when
	// several run a daemon into the same channel.
	MachineName string `cbor:"machine_name"`

	// Version is the daemon's build version string.
	Version string `cbor:"version"`

	// StartedAt is when the daemon process started.
	StartedAt time.Time `cbor:"started_at"`

	// Channel is the Slack channel ID the daemon is serving.
	Channel string `cbor:"channel"`

	// DefaultDirectory is the working directory new sessions start in.
	DefaultDirectory string `cbor:"default_directory"`

	// Sessions lists all known sessions, sorted by thread ID.
	Sessions []SessionSummary `cbor:"sessions,omitempty"`
}

// SessionSummary describes one thread session in a status response.
type SessionSummary struct {
	// ThreadID is the Slack thread timestamp keying the session.
	ThreadID string `cbor:"thread_id"`

	// WorkingDirectory is where the session's commands run.
	WorkingDirectory string `cbor:"working_directory"`

	// Mode is the session's permission mode, empty if unset.
	Mode string `cbor:"mode,omitempty"`

	// Model is the session's model override, empty if unset.
	Model string `cbor:"model,omitempty"`

	// AgentSessionID is the agent conversation the session resumes,
	// empty before the first agent turn.
	AgentSessionID string `cbor:"agent_session_id,omitempty"`

	// Active reports whether the session's worker is currently
	// executing a directive.
	Active bool `cbor:"active"`

	// QueueDepth is the number of directives waiting behind the
	// active one.
	QueueDepth int `cbor:"queue_depth,omitempty"`

	// LastActivity is when the session last ran a directive.
	LastActivity time.Time `cbor:"last_activity"`
}
