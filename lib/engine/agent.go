// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/waldo-labs/waldo/lib/directive"
	"github.com/waldo-labs/waldo/lib/markdown"
	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/transcript"
)

// hookTimeoutSeconds is the per-hook timeout written into the agent's
// settings. It must exceed the longest plausible approval wait.
const hookTimeoutSeconds = 600

// runPrompt executes one agent invocation for a free-form prompt. The
// directive may carry one-shot mode/model overrides; they shape this
// invocation only and are never persisted.
func (e *Engine) runPrompt(ctx context.Context, threadTS string, d directive.Directive) {
	sess, err := e.store.GetOrCreate(threadTS, e.clock.Now())
	if err != nil {
		e.logger.Error("creating session failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, ":x: Session state could not be saved.")
		return
	}

	mode := sess.Mode
	if d.Mode != "" {
		mode = d.Mode
	}
	model := sess.Model
	if d.Model != "" {
		model = d.Model
	}
	if model == "" && e.defaultModel != "" {
		model = session.Model(e.defaultModel)
	}

	startedAt := e.clock.Now()
	e.setActive(threadTS, true, nil)
	progress := e.startProgress(ctx, threadTS, sess.WorkingDirectory, startedAt)

	outcome := e.invokeAgent(ctx, threadTS, sess, mode, model, d.Prompt)

	if ctx.Err() != nil {
		// Draining; the subprocess was killed with the engine.
		e.setActive(threadTS, false, nil)
		return
	}

	// Bind the new conversation id before the reply posts, so the
	// thread resumes the right conversation even if the daemon dies
	// mid-reply.
	binding := sess.AgentSessionID
	if outcome.status == transcript.StatusCompleted && outcome.sessionID != "" {
		binding = outcome.sessionID
	}
	e.setActive(threadTS, false, func(s *session.Session) {
		s.AgentSessionID = binding
	})

	if progress != nil {
		marker := ":white_check_mark:"
		if outcome.status != transcript.StatusCompleted {
			marker = ":x:"
		}
		progress.finish(ctx, fmt.Sprintf("%s `%s` (%s)",
			marker, sess.WorkingDirectory, outcome.duration.Truncate(time.Second)))
	}

	if outcome.rawOutput {
		e.reply(ctx, threadTS, markdown.CodeBlock(
			markdown.Truncate(markdown.Sanitize(outcome.response), outputLimit)))
	} else {
		e.replyChunked(ctx, threadTS, markdown.ToMrkdwn(outcome.response))
	}

	e.archiveRecord(transcript.Record{
		ThreadID:         threadTS,
		Kind:             "prompt",
		Input:            d.Prompt,
		Output:           markdown.Truncate(outcome.response, outputLimit),
		Status:           outcome.status,
		Error:            outcome.failure,
		WorkingDirectory: sess.WorkingDirectory,
		Mode:             string(mode),
		Model:            string(model),
		AgentSessionID:   binding,
		StartedAt:        startedAt,
		Duration:         outcome.duration,
	})
}

// agentOutcome is one finished (or failed-to-start) agent invocation.
type agentOutcome struct {
	// response is the text for the thread.
	response string

	// sessionID is the conversation id the agent reported, empty when
	// the output carried none.
	sessionID string

	// status is the transcript terminal state.
	status string

	// failure is the error detail for the transcript record.
	failure string

	// rawOutput marks response as subprocess noise (stderr, spawn
	// errors) to be posted as a code block rather than rendered as
	// the agent's markdown.
	rawOutput bool

	duration time.Duration
}

// invokeAgent wires the approval hook, spawns the agent CLI, and
// parses its output. The invocation is registered for gate-request
// resolution while the subprocess runs.
func (e *Engine) invokeAgent(ctx context.Context, threadTS string, sess session.Session, mode session.Mode, model session.Model, prompt string) agentOutcome {
	if err := e.writeHookSettings(sess.WorkingDirectory); err != nil {
		e.logger.Error("wiring the approval hook failed",
			"thread", threadTS, "dir", sess.WorkingDirectory, "error", err)
		return agentOutcome{
			response: fmt.Sprintf("Error: %v", err),
			status:   transcript.StatusFailed,
			failure:  err.Error(),
		}
	}

	args := buildAgentArgs(sess.AgentSessionID, mode, model, e.policy.ReadOnlyTools, prompt)

	var env []string
	if e.socketPath != "" {
		env = append(env, "WALDO_SOCKET="+e.socketPath)
	}

	// The latest sentinel is daemon-internal; the hook event will
	// carry whatever id the agent actually resumed.
	registered := sess.AgentSessionID
	if registered == session.ResumeLatest {
		registered = ""
	}
	e.registerExecution(Execution{
		ThreadTS:         threadTS,
		WorkingDirectory: sess.WorkingDirectory,
		Mode:             mode,
		AgentSessionID:   registered,
		StartedAt:        e.clock.Now(),
	})
	defer e.unregisterExecution(threadTS)

	e.logger.Info("invoking agent",
		"thread", threadTS,
		"dir", sess.WorkingDirectory,
		"mode", string(mode),
		"model", string(model))

	result, err := e.runCommand(ctx, command{
		argv:    append([]string{e.agentBinary}, args...),
		dir:     sess.WorkingDirectory,
		env:     env,
		timeout: e.agentTimeout,
	})
	if err != nil {
		e.logger.Error("spawning agent failed", "thread", threadTS, "error", err)
		return agentOutcome{
			response:  fmt.Sprintf("Error: %v", err),
			status:    transcript.StatusFailed,
			failure:   err.Error(),
			rawOutput: true,
			duration:  result.duration,
		}
	}

	outcome := parseAgentResult(result, e.agentTimeout)
	outcome.duration = result.duration
	return outcome
}

// buildAgentArgs assembles the agent CLI argument list: output
// contract first, then permission flags from the mode table, model,
// conversation binding, and the prompt last.
func buildAgentArgs(binding string, mode session.Mode, model session.Model, readOnlyTools []string, prompt string) []string {
	args := []string{"--print", "--output-format", "json"}

	switch mode {
	case session.ModePlan:
		args = append(args, "--permission-mode", "plan")
	case session.ModeReadOnly:
		args = append(args, "--allowedTools", strings.Join(readOnlyTools, ","))
	case session.ModeAuto:
		args = append(args, "--permission-mode", "acceptEdits")
	case session.ModeYolo:
		args = append(args, "--dangerously-skip-permissions")
	}

	if model != "" {
		args = append(args, "--model", string(model))
	}

	switch binding {
	case "":
	case session.ResumeLatest:
		args = append(args, "--continue")
	default:
		args = append(args, "--resume", binding)
	}

	return append(args, prompt)
}

// parseAgentResult maps a finished subprocess to an outcome. The
// output contract is a single JSON document {"result", "session_id"}
// on stdout; anything else degrades to posting the raw stream, the
// stderr, or a placeholder, in that order.
func parseAgentResult(result commandResult, timeout time.Duration) agentOutcome {
	if result.timedOut {
		return agentOutcome{
			response: fmt.Sprintf("Timeout (%s)", timeout),
			status:   transcript.StatusTimedOut,
			failure:  fmt.Sprintf("timed out after %s", timeout),
		}
	}

	outcome := agentOutcome{status: transcript.StatusCompleted}
	if result.exitCode != 0 {
		outcome.status = transcript.StatusFailed
		outcome.failure = fmt.Sprintf("exit code %d", result.exitCode)
	}

	stdout := strings.TrimSpace(result.stdout)
	if stdout == "" {
		if stderr := strings.TrimSpace(result.stderr); stderr != "" {
			outcome.response = stderr
			outcome.rawOutput = true
		} else {
			outcome.response = "(no output)"
		}
		return outcome
	}

	var payload struct {
		Result    string `json:"result"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		// Not the JSON contract; post what the agent printed.
		outcome.response = stdout
		return outcome
	}
	outcome.sessionID = payload.SessionID
	outcome.response = payload.Result
	if outcome.response == "" {
		outcome.response = stdout
	}
	return outcome
}

// writeHookSettings merges the PreToolUse hook wiring into the working
// directory's .claude/settings.local.json, preserving whatever else
// the file holds. No hook command configured means no wiring.
func (e *Engine) writeHookSettings(workingDirectory string) error {
	if e.hookCommand == "" {
		return nil
	}
	path := filepath.Join(workingDirectory, ".claude", "settings.local.json")

	settings := make(map[string]any)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("settings file %s is not valid JSON: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("reading settings file: %w", err)
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = make(map[string]any)
	}
	// The hook blocks while an operator decides, so its timeout must
	// outlast the approval window; the agent's default would kill it
	// after a minute.
	hooks["PreToolUse"] = []any{
		map[string]any{
			"matcher": "*",
			"hooks": []any{
				map[string]any{
					"type":    "command",
					"command": e.hookCommand,
					"timeout": hookTimeoutSeconds,
				},
			},
		},
	}
	settings["hooks"] = hooks

	encoded, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	encoded = append(encoded, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}
