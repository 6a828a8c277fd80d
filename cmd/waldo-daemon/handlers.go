// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/waldo-labs/waldo/lib/approval"
	"github.com/waldo-labs/waldo/lib/codec"
	"github.com/waldo-labs/waldo/lib/ipc"
	"github.com/waldo-labs/waldo/lib/policy"
	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/version"
)

// requestDeadline bounds reading a request and writing most responses.
const requestDeadline = 30 * time.Second

// gateGrace extends a gate-tool connection past the approval timeout,
// so a verdict landing in the final seconds still reaches the hook.
const gateGrace = 30 * time.Second

// serve accepts control socket connections until ctx ends. Each
// connection carries exactly one request.
func (d *daemon) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.logger.Error("control socket accept failed", "error", err)
			continue
		}
		go d.handleConnection(ctx, conn)
	}
}

func (d *daemon) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(requestDeadline))

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request ipc.Request
	if err := decoder.Decode(&request); err != nil {
		d.logger.Error("control request decode failed", "error", err)
		if err := encoder.Encode(ipc.Response{Error: "invalid request"}); err != nil {
			d.logger.Error("control error response failed", "error", err)
		}
		return
	}

	d.logger.Debug("control request", "action", request.Action, "tool", request.ToolName)

	var response ipc.Response
	switch request.Action {
	case ipc.ActionGateTool:
		// The operator has the whole approval window to react; keep
		// the connection alive that long.
		conn.SetDeadline(time.Now().Add(d.approvalTimeout + gateGrace))
		response = d.handleGateTool(ctx, &request)

	case ipc.ActionStatus:
		response = d.handleStatus()

	case ipc.ActionStop:
		// Acknowledge first: shutdown tears this socket down, and the
		// requester should still see its answer.
		if err := encoder.Encode(ipc.Response{OK: true}); err != nil {
			d.logger.Error("stop response failed", "error", err)
		}
		d.logger.Info("stop requested over control socket")
		d.stop()
		return

	default:
		response = ipc.Response{Error: fmt.Sprintf("unknown action %q", request.Action)}
	}

	if err := encoder.Encode(response); err != nil {
		d.logger.Error("control response failed", "error", err, "action", request.Action)
	}
}

// handleGateTool decides one PreToolUse request. The mode policy
// answers most calls on its own; what it leaves open goes to the
// operator through the approval gate. When no decision can be reached
// the verdict degrades to ask, handing the call back to the agent's
// interactive flow.
func (d *daemon) handleGateTool(ctx context.Context, request *ipc.Request) ipc.Response {
	if request.ToolName == "" {
		return ipc.Response{Error: "gate-tool requires a tool name"}
	}

	var mode session.Mode
	var threadTS string
	execution, resolved := d.engine.ResolveExecution(request.AgentSessionID, request.WorkingDirectory)
	if resolved {
		mode = execution.Mode
		threadTS = execution.ThreadTS
	} else {
		d.logger.Warn("gate-tool request matches no running execution",
			"agent_session", request.AgentSessionID,
			"directory", request.WorkingDirectory)
	}

	switch d.policy.ForTool(mode, request.ToolName) {
	case policy.DecisionAllow:
		return ipc.Response{OK: true, Decision: ipc.DecisionAllow}
	case policy.DecisionDeny:
		return ipc.Response{
			OK:       true,
			Decision: ipc.DecisionDeny,
			Reason:   fmt.Sprintf("%s is not allowed in %s mode", request.ToolName, mode),
		}
	}

	state, err := d.gate.Decide(ctx, approval.Request{
		ToolName: request.ToolName,
		Summary:  approval.SummarizeToolInput(request.ToolName, request.ToolInput),
		ThreadTS: threadTS,
	})
	if err != nil {
		d.logger.Warn("approval gate reached no decision", "tool", request.ToolName, "error", err)
		return ipc.Response{OK: true, Decision: ipc.DecisionAsk}
	}

	switch state {
	case approval.StateAllowed:
		return ipc.Response{OK: true, Decision: ipc.DecisionAllow}
	case approval.StateTimedOut:
		return ipc.Response{
			OK:       true,
			Decision: ipc.DecisionDeny,
			Reason:   fmt.Sprintf("no operator decision within %s", d.approvalTimeout),
		}
	default:
		return ipc.Response{
			OK:       true,
			Decision: ipc.DecisionDeny,
			Reason:   fmt.Sprintf("operator denied %s", request.ToolName),
		}
	}
}

// handleStatus snapshots daemon state for the operator CLI.
func (d *daemon) handleStatus() ipc.Response {
	sessions := d.store.Snapshot()
	depths := d.engine.QueueDepths()

	summaries := make([]ipc.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, ipc.SessionSummary{
			ThreadID:         sess.ThreadID,
			WorkingDirectory: sess.WorkingDirectory,
			Mode:             string(sess.Mode),
			Model:            string(sess.Model),
			AgentSessionID:   sess.AgentSessionID,
			Active:           sess.Active,
			QueueDepth:       depths[sess.ThreadID],
			LastActivity:     sess.LastActivity,
		})
	}

	return ipc.Response{OK: true, Status: &ipc.StatusInfo{
		MachineName:      d.machineName,
		Version:          version.Info(),
		StartedAt:        d.startedAt,
		Channel:          d.channelID,
		DefaultDirectory: d.store.DefaultDirectory(),
		Sessions:         summaries,
	}}
}
