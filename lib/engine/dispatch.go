// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/waldo-labs/waldo/lib/markdown"
	"github.com/waldo-labs/waldo/lib/session"
)

// replyChunkSize caps one reply message. Longer replies are split into
// consecutive messages.
const replyChunkSize = 3000

// outputLimit caps captured subprocess output in a reply and in the
// archive record.
const outputLimit = 3000

// mutateSession creates threadTS's session if needed and applies
// mutate through the store. On a persist failure the operator gets a
// generic error reply and ok is false.
func (e *Engine) mutateSession(ctx context.Context, threadTS string, mutate func(*session.Session)) (session.Session, bool) {
	now := e.clock.Now()
	if _, err := e.store.GetOrCreate(threadTS, now); err != nil {
		e.logger.Error("creating session failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, ":x: Session state could not be saved.")
		return session.Session{}, false
	}
	updated, err := e.store.Update(threadTS, now, mutate)
	if err != nil {
		e.logger.Error("updating session failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, ":x: Session state could not be saved.")
		return session.Session{}, false
	}
	return updated, true
}

// changeDirectory resolves the target against the session's current
// directory, requires it to exist, and persists it. An empty target
// resets to the configured default.
func (e *Engine) changeDirectory(ctx context.Context, threadTS, target string) {
	current, err := e.store.GetOrCreate(threadTS, e.clock.Now())
	if err != nil {
		e.logger.Error("creating session failed", "thread", threadTS, "error", err)
		e.reply(ctx, threadTS, ":x: Session state could not be saved.")
		return
	}

	resolved, err := resolveDirectory(target, current.WorkingDirectory, e.store.DefaultDirectory())
	if err != nil {
		e.logger.Info("directory change rejected",
			"thread", threadTS, "target", target, "error", err)
		e.reply(ctx, threadTS, fmt.Sprintf("Not found: `%s`", markdown.Escape(target)))
		return
	}

	if _, ok := e.mutateSession(ctx, threadTS, func(s *session.Session) {
		s.WorkingDirectory = resolved
	}); !ok {
		return
	}
	e.reply(ctx, threadTS, fmt.Sprintf("`%s`", resolved))
}

// resolveDirectory expands target into an absolute existing directory.
// An empty target means fallback; "~" and "~/..." expand to the home
// directory; a relative target resolves against current.
func resolveDirectory(target, current, fallback string) (string, error) {
	resolved := target
	switch {
	case resolved == "":
		resolved = fallback
	case resolved == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		resolved = home
	case strings.HasPrefix(resolved, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		resolved = filepath.Join(home, resolved[2:])
	case !filepath.IsAbs(resolved):
		resolved = filepath.Join(current, resolved)
	}
	resolved = filepath.Clean(resolved)

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	return resolved, nil
}

// clearBinding discards the thread's agent conversation binding. The
// directory, mode, and model survive.
func (e *Engine) clearBinding(ctx context.Context, threadTS string) {
	updated, ok := e.mutateSession(ctx, threadTS, func(s *session.Session) {
		s.AgentSessionID = ""
	})
	if !ok {
		return
	}
	e.reply(ctx, threadTS, fmt.Sprintf("New session started\ncwd: `%s`", updated.WorkingDirectory))
}

// rebind points the thread at an agent conversation: a concrete id, or
// the latest sentinel when the operator named none.
func (e *Engine) rebind(ctx context.Context, threadTS, sessionID string) {
	updated, ok := e.mutateSession(ctx, threadTS, func(s *session.Session) {
		s.AgentSessionID = sessionID
	})
	if !ok {
		return
	}
	if sessionID == session.ResumeLatest {
		e.reply(ctx, threadTS, fmt.Sprintf("Resuming last session\ncwd: `%s`", updated.WorkingDirectory))
		return
	}
	e.reply(ctx, threadTS, fmt.Sprintf("Resuming session `%s`\ncwd: `%s`",
		markdown.Escape(sessionID), updated.WorkingDirectory))
}

// setMode persists a permission mode on the session.
func (e *Engine) setMode(ctx context.Context, threadTS string, mode session.Mode) {
	if _, ok := e.mutateSession(ctx, threadTS, func(s *session.Session) {
		s.Mode = mode
	}); !ok {
		return
	}
	e.reply(ctx, threadTS, fmt.Sprintf("Mode set to `%s`", mode))
}

// setModel persists a model alias on the session.
func (e *Engine) setModel(ctx context.Context, threadTS string, model session.Model) {
	if _, ok := e.mutateSession(ctx, threadTS, func(s *session.Session) {
		s.Model = model
	}); !ok {
		return
	}
	e.reply(ctx, threadTS, fmt.Sprintf("Model set to `%s`", model))
}
