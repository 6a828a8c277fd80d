// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes directives against their sessions: shell
// commands, agent invocations, and the session mutations (cd, new,
// resume, mode, model) that change what later executions do.
//
// Each thread gets a lazily created worker goroutine consuming a
// bounded FIFO queue, so executions within a thread run strictly in
// order while distinct threads run in parallel under a global
// concurrency bound. Subprocesses run in their own process group and
// are killed as a group on timeout, so a command that forks cannot
// outlive its budget.
//
// The engine replies into the owning thread itself; callers only
// enqueue. Control directives with pure replies (status, help) never
// reach the engine; the daemon answers those at dispatch.
package engine
