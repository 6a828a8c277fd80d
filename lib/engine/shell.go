// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/waldo-labs/waldo/lib/markdown"
	"github.com/waldo-labs/waldo/lib/transcript"
)

// runShell executes one "!" command in the session's working
// directory. Commands matching a blocked policy pattern are refused
// before anything is spawned.
func (e *Engine) runShell(ctx context.Context, threadTS, shellCommand string) {
	sess, err := e.store.GetOrCreate(threadTS, e.clock.Now())
	if err != nil {
		e.logger.Error("creating session failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, ":x: Session state could not be saved.")
		return
	}

	if pattern := e.policy.CheckShell(shellCommand); pattern != "" {
		e.logger.Warn("shell command blocked",
			"thread", threadTS, "pattern", pattern)
		e.reply(ctx, threadTS, fmt.Sprintf("Blocked: `%s`", markdown.Escape(shellCommand)))
		e.archiveRecord(transcript.Record{
			ThreadID:         threadTS,
			Kind:             "shell",
			Input:            shellCommand,
			Status:           transcript.StatusRefused,
			Error:            fmt.Sprintf("matched blocked pattern %q", pattern),
			WorkingDirectory: sess.WorkingDirectory,
			Mode:             string(sess.Mode),
			Model:            string(sess.Model),
			StartedAt:        e.clock.Now(),
		})
		return
	}

	startedAt := e.clock.Now()
	e.setActive(threadTS, true, nil)
	e.logger.Info("running shell command",
		"thread", threadTS, "dir", sess.WorkingDirectory)

	result, err := e.runCommand(ctx, command{
		argv:          []string{e.shellBinary, "-c", shellCommand},
		dir:           sess.WorkingDirectory,
		timeout:       e.shellTimeout,
		combineOutput: true,
	})
	e.setActive(threadTS, false, nil)

	if ctx.Err() != nil {
		// Draining; the process group was killed and the daemon is on
		// its way out.
		return
	}
	if err != nil {
		e.logger.Error("spawning shell command failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, fmt.Sprintf(":x: Could not run the command: %s", markdown.Escape(err.Error())))
		e.archiveRecord(transcript.Record{
			ThreadID:         threadTS,
			Kind:             "shell",
			Input:            shellCommand,
			Status:           transcript.StatusFailed,
			Error:            err.Error(),
			WorkingDirectory: sess.WorkingDirectory,
			Mode:             string(sess.Mode),
			Model:            string(sess.Model),
			StartedAt:        startedAt,
			Duration:         result.duration,
		})
		return
	}

	output := markdown.Truncate(markdown.Sanitize(result.stdout), outputLimit)

	status := transcript.StatusCompleted
	var failure string
	var replyText string
	switch {
	case result.timedOut:
		status = transcript.StatusTimedOut
		failure = fmt.Sprintf("timed out after %s", e.shellTimeout)
		replyText = fmt.Sprintf("Timeout (%s)", e.shellTimeout)
		if output != "" {
			replyText += "\n" + markdown.CodeBlock(output)
		}
	case result.exitCode != 0:
		status = transcript.StatusFailed
		failure = fmt.Sprintf("exit code %d", result.exitCode)
		replyText = shellOutputReply(output)
	default:
		replyText = shellOutputReply(output)
	}

	e.reply(ctx, threadTS, replyText)
	e.archiveRecord(transcript.Record{
		ThreadID:         threadTS,
		Kind:             "shell",
		Input:            shellCommand,
		Output:           output,
		Status:           status,
		Error:            failure,
		WorkingDirectory: sess.WorkingDirectory,
		Mode:             string(sess.Mode),
		Model:            string(sess.Model),
		StartedAt:        startedAt,
		Duration:         result.duration,
	})
}

// shellOutputReply renders captured output as a code block, or the
// placeholder when the command printed nothing.
func shellOutputReply(output string) string {
	if output == "" {
		return "(no output)"
	}
	return markdown.CodeBlock(output)
}
