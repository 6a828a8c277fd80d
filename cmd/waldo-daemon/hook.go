// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/waldo-labs/waldo/lib/ipc"
)

// exitCodeDenied is the hook exit code that blocks a tool call; the
// agent feeds stderr back to the model as the reason.
const exitCodeDenied = 2

// hookExchangeTimeout bounds one hook's wait for a verdict. It sits
// above any sane approval timeout; the hook timeout the daemon writes
// into the agent's settings is the effective ceiling.
const hookExchangeTimeout = 9 * time.Minute

// hookEvent is the JSON envelope the agent writes to a hook's stdin.
// Fields other events populate are omitted; only PreToolUse is wired.
type hookEvent struct {
	SessionID     string          `json:"session_id"`
	CWD           string          `json:"cwd"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
}

// hookOutput is the decision envelope a hook prints on stdout for
// explicit verdicts.
type hookOutput struct {
	HookSpecificOutput hookPermission `json:"hookSpecificOutput"`
}

type hookPermission struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// runHook implements "waldo-daemon hook <event-type>": read the event
// from stdin, ask the daemon over the control socket named by
// WALDO_SOCKET, and translate the verdict into the hook protocol. The
// returned exit code follows that protocol: 0 proceeds (with an
// explicit decision on stdout when there is one), exitCodeDenied
// blocks with the reason on stderr.
//
// Every failure mode short of a malformed invocation resolves to "no
// opinion": no socket in the environment, an unreachable daemon, or a
// daemon-side error all exit 0 silently and leave the agent's own
// permission flow in charge.
func runHook(args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: waldo-daemon hook <event-type>")
	}
	// Tolerate settings entries for events this binary does not
	// handle; a hook with no opinion must stay silent.
	if args[0] != "pre-tool-use" {
		return 0, nil
	}

	event, err := readHookEvent(stdin)
	if err != nil {
		return 0, fmt.Errorf("reading hook event: %w", err)
	}

	socketPath := os.Getenv("WALDO_SOCKET")
	if socketPath == "" {
		// The agent was started by hand, not by the daemon.
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookExchangeTimeout)
	defer cancel()

	response, err := ipc.Exchange(ctx, socketPath, ipc.Request{
		Action:           ipc.ActionGateTool,
		ToolName:         event.ToolName,
		ToolInput:        []byte(event.ToolInput),
		AgentSessionID:   event.SessionID,
		WorkingDirectory: event.CWD,
	})
	if err != nil || !response.OK {
		return 0, nil
	}

	switch response.Decision {
	case ipc.DecisionAllow:
		return 0, writeHookDecision(stdout, "allow", "approved via channel")
	case ipc.DecisionDeny:
		reason := response.Reason
		if reason == "" {
			reason = "blocked by operator policy"
		}
		fmt.Fprintln(stderr, reason)
		return exitCodeDenied, nil
	default:
		return 0, writeHookDecision(stdout, "ask", "no operator decision, ask interactively")
	}
}

func readHookEvent(reader io.Reader) (*hookEvent, error) {
	data, err := io.ReadAll(io.LimitReader(reader, 10<<20))
	if err != nil {
		return nil, err
	}
	var event hookEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("parsing event JSON: %w", err)
	}
	if event.ToolName == "" {
		return nil, fmt.Errorf("event has no tool_name")
	}
	return &event, nil
}

// writeHookDecision emits the explicit-decision JSON the agent expects
// from a PreToolUse hook. Allow must be explicit: a bare zero exit
// only means "no opinion" and the agent would still prompt or deny on
// its own.
func writeHookDecision(writer io.Writer, decision, reason string) error {
	return json.NewEncoder(writer).Encode(hookOutput{
		HookSpecificOutput: hookPermission{
			HookEventName:            "PreToolUse",
			PermissionDecision:       decision,
			PermissionDecisionReason: reason,
		},
	})
}
