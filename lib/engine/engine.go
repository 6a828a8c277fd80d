// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/waldo-labs/waldo/lib/channel"
	"github.com/waldo-labs/waldo/lib/clock"
	"github.com/waldo-labs/waldo/lib/directive"
	"github.com/waldo-labs/waldo/lib/markdown"
	"github.com/waldo-labs/waldo/lib/policy"
	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/transcript"
)

// Channel is the subset of the channel client the engine uses: posting
// threaded replies and editing the progress message in place.
type Channel interface {
	PostThreaded(ctx context.Context, channelID, threadTS, text string) (*channel.MessageRef, error)
	UpdateMessage(ctx context.Context, ref channel.MessageRef, text string) error
}

// Config configures an Engine.
type Config struct {
	// Channel posts replies and progress updates.
	Channel Channel

	// ChannelID is the channel all replies go to.
	ChannelID string

	// Store holds the per-thread sessions.
	Store *session.Store

	// Policy supplies blocked shell patterns and the read-only tool
	// list for readonly-mode invocations.
	Policy *policy.Policy

	// Archive receives a transcript record per terminal execution.
	// Nil disables archival.
	Archive *transcript.Archive

	// Clock supplies timestamps and the progress ticker. Nil means the
	// real clock. Subprocess timeouts use context deadlines, not the
	// clock: a child process runs in real time no matter what the
	// tests' clock says.
	Clock clock.Clock

	// Logger receives execution-level events. Nil discards them.
	Logger *slog.Logger

	// AgentBinary is the agent executable, resolved via PATH when not
	// absolute. Empty means "claude".
	AgentBinary string

	// ShellBinary runs "!" commands as `<shell> -c <command>`. Empty
	// means "sh", resolved via PATH.
	ShellBinary string

	// DefaultModel applies to invocations whose session has no model
	// and whose directive carries no override. Empty defers to the
	// agent's own default.
	DefaultModel string

	// HookCommand is the command line the agent's PreToolUse hook
	// runs, e.g. "/usr/local/bin/waldo-daemon hook pre-tool-use".
	// Empty disables hook wiring.
	HookCommand string

	// SocketPath is the daemon control socket, exported to agent
	// subprocesses as WALDO_SOCKET so hook invocations can find their
	// way back.
	SocketPath string

	// ShellTimeout bounds one shell command. Zero means 30s.
	ShellTimeout time.Duration

	// AgentTimeout bounds one agent invocation. Zero means 10m.
	AgentTimeout time.Duration

	// ProgressInterval is how often the progress message is updated
	// while an agent runs. Zero means 15s.
	ProgressInterval time.Duration

	// QueueDepth is the per-thread pending queue size. Zero means 4.
	QueueDepth int

	// Concurrency caps simultaneously running executions across all
	// threads. Zero means 4.
	Concurrency int64
}

// Engine runs directives on per-thread workers.
type Engine struct {
	channel   Channel
	channelID string
	store     *session.Store
	policy    *policy.Policy
	archive   *transcript.Archive
	clock     clock.Clock
	logger    *slog.Logger

	agentBinary  string
	shellBinary  string
	defaultModel string
	hookCommand  string
	socketPath   string

	shellTimeout     time.Duration
	agentTimeout     time.Duration
	progressInterval time.Duration
	queueDepth       int

	// stopCtx is the parent of every execution context. Canceling it
	// kills in-flight process groups and unblocks channel calls.
	stopCtx  context.Context
	stopFunc context.CancelFunc

	// executions bounds concurrent shell and agent runs. Session
	// mutations are instant and do not count.
	executions *semaphore.Weighted

	mu       sync.Mutex
	queues   map[string]chan queued
	inflight map[string]*Execution
	draining bool

	workers sync.WaitGroup
}

// queued is one directive waiting on a thread's queue.
type queued struct {
	directive  directive.Directive
	enqueuedAt time.Time
}

// NewEngine validates the config and returns a ready engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Channel == nil {
		return nil, fmt.Errorf("engine: config needs a channel client")
	}
	if config.ChannelID == "" {
		return nil, fmt.Errorf("engine: config needs a channel ID")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("engine: config needs a session store")
	}
	if config.Policy == nil {
		return nil, fmt.Errorf("engine: config needs a policy")
	}

	engine := &Engine{
		channel:          config.Channel,
		channelID:        config.ChannelID,
		store:            config.Store,
		policy:           config.Policy,
		archive:          config.Archive,
		clock:            config.Clock,
		logger:           config.Logger,
		agentBinary:      config.AgentBinary,
		shellBinary:      config.ShellBinary,
		defaultModel:     config.DefaultModel,
		hookCommand:      config.HookCommand,
		socketPath:       config.SocketPath,
		shellTimeout:     config.ShellTimeout,
		agentTimeout:     config.AgentTimeout,
		progressInterval: config.ProgressInterval,
		queueDepth:       config.QueueDepth,
		queues:           make(map[string]chan queued),
		inflight:         make(map[string]*Execution),
	}
	if engine.clock == nil {
		engine.clock = clock.Real()
	}
	if engine.logger == nil {
		engine.logger = slog.New(slog.DiscardHandler)
	}
	if engine.agentBinary == "" {
		engine.agentBinary = "claude"
	}
	if engine.shellBinary == "" {
		engine.shellBinary = "sh"
	}
	if engine.shellTimeout <= 0 {
		engine.shellTimeout = 30 * time.Second
	}
	if engine.agentTimeout <= 0 {
		engine.agentTimeout = 10 * time.Minute
	}
	if engine.progressInterval <= 0 {
		engine.progressInterval = 15 * time.Second
	}
	if engine.queueDepth <= 0 {
		engine.queueDepth = 4
	}
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	engine.executions = semaphore.NewWeighted(concurrency)
	engine.stopCtx, engine.stopFunc = context.WithCancel(context.Background())

	return engine, nil
}

// Enqueue hands a directive to threadTS's worker, creating the worker
// on first use. When the thread's queue is full the directive is
// dropped and a busy reply is posted; the return value reports whether
// the directive was accepted. A draining engine accepts nothing.
func (e *Engine) Enqueue(ctx context.Context, threadTS string, d directive.Directive) bool {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.logger.Debug("dropping directive, engine is draining",
			"thread", threadTS, "kind", d.Kind.String())
		return false
	}
	queue, ok := e.queues[threadTS]
	if !ok {
		queue = make(chan queued, e.queueDepth)
		e.queues[threadTS] = queue
		e.workers.Add(1)
		go e.worker(threadTS, queue)
	}

	// The send stays under the lock so Drain cannot close the queue
	// between the draining check and the send. It never blocks: a full
	// queue falls through to the drop path.
	accepted := false
	select {
	case queue <- queued{directive: d, enqueuedAt: e.clock.Now()}:
		accepted = true
	default:
	}
	e.mu.Unlock()

	if accepted {
		return true
	}
	e.logger.Warn("thread queue full, dropping directive",
		"thread", threadTS, "kind", d.Kind.String(), "depth", e.queueDepth)
	e.reply(ctx, threadTS, ":warning: Busy: this thread's queue is full, dropping this message.")
	return false
}

// QueueDepths returns the number of pending directives per thread, for
// status reporting. Threads with empty queues are omitted.
func (e *Engine) QueueDepths() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	depths := make(map[string]int)
	for threadTS, queue := range e.queues {
		if pending := len(queue); pending > 0 {
			depths[threadTS] = pending
		}
	}
	return depths
}

// Drain stops accepting directives, lets queued work finish, and
// returns when every worker has exited. If ctx expires first the
// in-flight process groups are killed and Drain returns ctx.Err after
// the workers observe the kill.
func (e *Engine) Drain(ctx context.Context) error {
	e.mu.Lock()
	if !e.draining {
		e.draining = true
		for _, queue := range e.queues {
			close(queue)
		}
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.stopFunc()
		return nil
	case <-ctx.Done():
		e.stopFunc()
		<-done
		return ctx.Err()
	}
}

// worker consumes one thread's queue until Drain closes it. Directives
// run strictly in enqueue order.
func (e *Engine) worker(threadTS string, queue <-chan queued) {
	defer e.workers.Done()
	for next := range queue {
		e.run(threadTS, next)
	}
}

// run dispatches one dequeued directive. Session mutations run
// immediately; shell and agent executions first take an execution
// slot.
func (e *Engine) run(threadTS string, next queued) {
	ctx := e.stopCtx
	e.logger.Debug("running directive",
		"thread", threadTS,
		"kind", next.directive.Kind.String(),
		"queued_for", e.clock.Now().Sub(next.enqueuedAt))

	switch next.directive.Kind {
	case directive.KindChangeDir:
		e.changeDirectory(ctx, threadTS, next.directive.Path)
	case directive.KindNew:
		e.clearBinding(ctx, threadTS)
	case directive.KindResume:
		e.rebind(ctx, threadTS, next.directive.SessionID)
	case directive.KindSetMode:
		e.setMode(ctx, threadTS, next.directive.Mode)
	case directive.KindSetModel:
		e.setModel(ctx, threadTS, next.directive.Model)

	case directive.KindShell, directive.KindPrompt:
		if err := e.executions.Acquire(ctx, 1); err != nil {
			// Draining; the process never started, so there is
			// nothing to report.
			return
		}
		defer e.executions.Release(1)
		if next.directive.Kind == directive.KindShell {
			e.runShell(ctx, threadTS, next.directive.Command)
		} else {
			e.runPrompt(ctx, threadTS, next.directive)
		}

	default:
		// Status, stop, help, and warnings are answered at dispatch
		// and never enqueued.
		e.logger.Error("directive kind reached the engine queue",
			"thread", threadTS, "kind", next.directive.Kind.String())
	}
}

// reply posts text into the thread, logging delivery failures. Replies
// are best-effort: an execution whose reply cannot be posted is still
// archived and its session updates still hold.
func (e *Engine) reply(ctx context.Context, threadTS, text string) {
	if _, err := e.channel.PostThreaded(ctx, e.channelID, threadTS, text); err != nil {
		e.logger.Warn("posting reply failed", "thread", threadTS, "error", err)
	}
}

// replyChunked splits long reply text into message-sized pieces and
// posts them in order.
func (e *Engine) replyChunked(ctx context.Context, threadTS, text string) {
	for _, chunk := range markdown.Chunk(text, replyChunkSize) {
		e.reply(ctx, threadTS, chunk)
	}
}

// archiveRecord appends one terminal-state record when archiving is
// enabled. Archive failures are logged, never surfaced to the thread.
func (e *Engine) archiveRecord(record transcript.Record) {
	if e.archive == nil {
		return
	}
	if _, err := e.archive.Append(record, e.clock.Now()); err != nil {
		e.logger.Warn("archiving execution record failed",
			"thread", record.ThreadID, "kind", record.Kind, "error", err)
	}
}

// setActive flips the session's active flag. Persist failures are
// logged and tolerated: the flag is observability state, not a lock.
func (e *Engine) setActive(threadTS string, active bool, mutate func(*session.Session)) session.Session {
	updated, err := e.store.Update(threadTS, e.clock.Now(), func(s *session.Session) {
		s.Active = active
		if mutate != nil {
			mutate(s)
		}
	})
	if err != nil {
		e.logger.Warn("persisting session state failed",
			"thread", threadTS, "error", err)
	}
	return updated
}
