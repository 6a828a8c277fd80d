// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/waldo-labs/waldo/lib/approval"
	"github.com/waldo-labs/waldo/lib/channel"
	"github.com/waldo-labs/waldo/lib/clock"
	"github.com/waldo-labs/waldo/lib/directive"
	"github.com/waldo-labs/waldo/lib/engine"
	"github.com/waldo-labs/waldo/lib/markdown"
	"github.com/waldo-labs/waldo/lib/policy"
	"github.com/waldo-labs/waldo/lib/session"
)

// historyPageLimit caps messages fetched per history poll. Anything
// beyond it is picked up on the next tick, since the cursor only
// advances over messages actually seen.
const historyPageLimit = 10

// helpText answers the help directive and closes the startup message.
const helpText = "*How to use:*\n" +
	"Send a message → the agent works on it in a new thread\n" +
	"Reply in a thread → continues that conversation\n" +
	"`!command` → runs a shell command directly\n" +
	"\n" +
	"*Commands:*\n" +
	"```\n" +
	"!<command>     run a shell command (!ls, !git status)\n" +
	"!cd <path>     change this thread's working directory\n" +
	"new            start a fresh agent conversation\n" +
	"resume [id]    rebind to the latest (or a given) conversation\n" +
	"mode <name>    set permission mode: plan, readonly, auto, yolo\n" +
	"model <name>   set model: sonnet, opus, haiku\n" +
	"status         show daemon status\n" +
	"help           show this message\n" +
	"stop           stop the daemon\n" +
	"```\n" +
	"A `mode:` or `model:` prefix (`yolo: fix the tests`) applies to that message only."

// daemonConfig wires a daemon's collaborators. Everything is required
// except Clock and Logger.
type daemonConfig struct {
	Channel         *channel.Client
	ChannelID       string
	Store           *session.Store
	Engine          *engine.Engine
	Gate            *approval.Gate
	Policy          *policy.Policy
	Clock           clock.Clock
	Logger          *slog.Logger
	MachineName     string
	SelfUserID      string
	ApprovalTimeout time.Duration
	Stop            context.CancelFunc
}

// daemon owns the channel poll loop and the control socket handlers.
// It routes operator messages either inline (status, help, stop) or
// into the engine's per-thread queues, and answers the agent's
// tool-gate requests.
type daemon struct {
	channel         *channel.Client
	channelID       string
	store           *session.Store
	engine          *engine.Engine
	gate            *approval.Gate
	policy          *policy.Policy
	clock           clock.Clock
	logger          *slog.Logger
	machineName     string
	selfUserID      string
	approvalTimeout time.Duration
	stop            context.CancelFunc
	startedAt       time.Time

	mu sync.Mutex
	// historyCursor is the newest top-level timestamp seen, skipped or
	// not. History polls fetch strictly after it.
	historyCursor string
	// replyCursors tracks, per followed thread, the newest reply
	// timestamp seen. Presence in the map is what makes a thread
	// followed.
	replyCursors map[string]string
}

func newDaemon(config daemonConfig) *daemon {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &daemon{
		channel:         config.Channel,
		channelID:       config.ChannelID,
		store:           config.Store,
		engine:          config.Engine,
		gate:            config.Gate,
		policy:          config.Policy,
		clock:           clk,
		logger:          logger,
		machineName:     config.MachineName,
		selfUserID:      config.SelfUserID,
		approvalTimeout: config.ApprovalTimeout,
		stop:            config.Stop,
		startedAt:       clk.Now(),
		replyCursors:    make(map[string]string),
	}
}

// announce posts the startup message and anchors both cursors at its
// timestamp. Threads restored from the session store are followed from
// the same point, so replies sent while the daemon was down are seen
// but never executed.
func (d *daemon) announce(ctx context.Context) {
	var b strings.Builder
	fmt.Fprintf(&b, ":large_green_circle: *%s* is online\n", d.machineName)
	fmt.Fprintf(&b, "cwd: `%s`\n", d.store.DefaultDirectory())
	if n := d.store.Len(); n > 0 {
		fmt.Fprintf(&b, "restored sessions: %d\n", n)
	}
	b.WriteString("\n")
	b.WriteString(helpText)

	cursor := fmt.Sprintf("%d.000000", d.clock.Now().Unix())
	ref, err := d.channel.PostMessage(ctx, d.channelID, b.String())
	if err != nil {
		d.logger.Warn("startup message failed, polling from current time", "error", err)
	} else {
		cursor = ref.TS
	}

	d.mu.Lock()
	d.historyCursor = cursor
	for _, sess := range d.store.Snapshot() {
		d.replyCursors[sess.ThreadID] = cursor
	}
	d.mu.Unlock()
}

// poll runs the ingestion loop until ctx is canceled.
func (d *daemon) poll(ctx context.Context, interval time.Duration) {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

// pollOnce ingests one round: new top-level messages, then new replies
// in every followed thread. Transport errors are logged and left for
// the next tick; cursors only advance over messages actually fetched,
// so nothing is lost to a failed call.
func (d *daemon) pollOnce(ctx context.Context) {
	messages, err := d.channel.History(ctx, d.channelID, d.cursor(), historyPageLimit)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("history poll failed", "error", err)
		}
	} else {
		// History arrives newest first.
		slices.SortFunc(messages, func(a, b channel.Message) int {
			return strings.Compare(a.TS, b.TS)
		})
		for _, message := range messages {
			d.ingestTopLevel(ctx, message)
		}
	}

	for _, threadTS := range d.followedThreads() {
		replies, err := d.channel.Replies(ctx, d.channelID, threadTS, d.replyCursor(threadTS))
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("reply poll failed", "thread", threadTS, "error", err)
			}
			continue
		}
		for _, reply := range replies {
			d.ingestReply(ctx, threadTS, reply)
		}
	}
}

// ingestTopLevel handles one message from the channel's history feed:
// thread roots and broadcast replies. The history cursor advances over
// every message, including skipped ones.
func (d *daemon) ingestTopLevel(ctx context.Context, message channel.Message) {
	d.mu.Lock()
	if message.TS > d.historyCursor {
		d.historyCursor = message.TS
	}
	d.mu.Unlock()

	if d.skip(message) {
		return
	}

	root := message.ThreadRoot()
	if d.follow(root, message.TS) {
		// Already following: either a duplicate delivery of the root
		// or a broadcast reply, which the thread's own reply feed will
		// deliver exactly once.
		return
	}
	d.dispatch(ctx, root, message.Text)
}

// ingestReply handles one message from a followed thread's reply feed.
// The thread cursor advances over every reply, including skipped ones.
func (d *daemon) ingestReply(ctx context.Context, threadTS string, reply channel.Message) {
	if !d.advanceReplyCursor(threadTS, reply.TS) {
		return
	}
	if d.skip(reply) {
		return
	}
	d.dispatch(ctx, threadTS, reply.Text)
}

// skip reports whether a message is not operator input: our own
// messages, other bots, system subtypes, and empty text. Broadcast
// replies are ordinary operator messages and pass through.
func (d *daemon) skip(message channel.Message) bool {
	if message.BotID != "" || message.User == "" || message.User == d.selfUserID {
		return true
	}
	if message.SubType != "" && message.SubType != "thread_broadcast" {
		return true
	}
	return strings.TrimSpace(message.Text) == ""
}

// dispatch parses one operator message and routes it. Directives the
// daemon can answer from its own state are handled inline; everything
// that executes goes through the engine so ingestion never blocks.
func (d *daemon) dispatch(ctx context.Context, threadTS, text string) {
	parsed := directive.Parse(markdown.Unescape(text))
	d.logger.Info("directive", "thread", threadTS, "kind", parsed.Kind.String())

	switch parsed.Kind {
	case directive.KindStatus:
		d.reply(ctx, threadTS, d.statusText(threadTS))
	case directive.KindHelp:
		d.reply(ctx, threadTS, helpText)
	case directive.KindWarning:
		d.reply(ctx, threadTS, ":warning: "+parsed.Warning)
	case directive.KindStop:
		d.reply(ctx, threadTS, ":red_circle: Daemon stopped")
		d.stop()
	default:
		d.engine.Enqueue(ctx, threadTS, parsed)
	}
}

func (d *daemon) reply(ctx context.Context, threadTS, text string) {
	if _, err := d.channel.PostThreaded(ctx, d.channelID, threadTS, text); err != nil {
		d.logger.Warn("reply failed", "thread", threadTS, "error", err)
	}
}

// statusText renders the status reply. The cwd line shows the asking
// thread's directory when it has a session, else the default.
func (d *daemon) statusText(threadTS string) string {
	directory := d.store.DefaultDirectory()
	if sess, ok := d.store.Get(threadTS); ok {
		directory = sess.WorkingDirectory
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s Status*\n", d.machineName)
	fmt.Fprintf(&b, "cwd: `%s`\n", directory)
	fmt.Fprintf(&b, "uptime: %s\n", d.clock.Now().Sub(d.startedAt).Truncate(time.Second))
	b.WriteString("\n")

	sessions := d.store.Snapshot()
	if len(sessions) == 0 {
		b.WriteString("_No active sessions_")
		return b.String()
	}

	depths := d.engine.QueueDepths()
	b.WriteString("*Sessions:*")
	for _, sess := range sessions {
		b.WriteString("\n")
		b.WriteString(sessionLine(sess, depths[sess.ThreadID]))
	}
	return b.String()
}

// sessionLine renders one session for the status reply.
func sessionLine(sess session.Session, queued int) string {
	binding := sess.AgentSessionID
	switch binding {
	case "":
		binding = "unbound"
	case session.ResumeLatest:
		binding = "latest"
	}

	var notes []string
	if sess.Mode != "" {
		notes = append(notes, string(sess.Mode))
	}
	if sess.Model != "" {
		notes = append(notes, string(sess.Model))
	}
	if sess.Active {
		notes = append(notes, "running")
	}
	if queued > 0 {
		notes = append(notes, fmt.Sprintf("%d queued", queued))
	}

	line := fmt.Sprintf("  `%s` in `%s`", binding, sess.WorkingDirectory)
	if len(notes) > 0 {
		line += " (" + strings.Join(notes, ", ") + ")"
	}
	return line
}

// follow registers a thread for reply polling starting at cursor, and
// reports whether it was already followed. Cursors of followed threads
// are never moved by this path.
func (d *daemon) follow(threadTS, cursor string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.replyCursors[threadTS]; ok {
		return true
	}
	d.replyCursors[threadTS] = cursor
	return false
}

// advanceReplyCursor moves a thread cursor forward to ts, reporting
// whether it advanced. A false return means the reply was already seen
// or the thread is no longer followed.
func (d *daemon) advanceReplyCursor(threadTS, ts string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.replyCursors[threadTS]
	if !ok || ts <= current {
		return false
	}
	d.replyCursors[threadTS] = ts
	return true
}

func (d *daemon) cursor() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.historyCursor
}

func (d *daemon) replyCursor(threadTS string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replyCursors[threadTS]
}

// followedThreads returns the followed thread timestamps in stable
// (chronological) order.
func (d *daemon) followedThreads() []string {
	d.mu.Lock()
	threads := make([]string, 0, len(d.replyCursors))
	for threadTS := range d.replyCursors {
		threads = append(threads, threadTS)
	}
	d.mu.Unlock()
	slices.Sort(threads)
	return threads
}
