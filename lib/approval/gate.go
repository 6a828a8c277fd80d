// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waldo-labs/waldo/lib/channel"
	"github.com/waldo-labs/waldo/lib/clock"
)

// State is the approval request's position in its lifecycle:
// Requested → Pending → {Allowed, Denied, TimedOut}.
type State int

const (
	// StateRequested: the approval message is being posted.
	StateRequested State = iota

	// StatePending: the message is up and reactions are being polled.
	StatePending

	// StateAllowed: an operator reacted from the approve set.
	StateAllowed

	// StateDenied: an operator reacted from the deny set.
	StateDenied

	// StateTimedOut: no qualifying reaction before the timeout.
	// Treated identically to StateDenied by callers; the gate fails
	// closed.
	StateTimedOut
)

var stateNames = map[State]string{
	StateRequested: "requested",
	StatePending:   "pending",
	StateAllowed:   "allowed",
	StateDenied:    "denied",
	StateTimedOut:  "timed-out",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reaction sets. Emoji names as reactions.get reports them, without
// colons.
var (
	approveReactions = map[string]bool{
		"+1":               true,
		"thumbsup":         true,
		"white_check_mark": true,
		"ok_hand":          true,
	}
	denyReactions = map[string]bool{
		"-1":            true,
		"thumbsdown":    true,
		"x":             true,
		"no_entry_sign": true,
	}
)

// Channel is the subset of the channel client the gate uses.
type Channel interface {
	PostMessage(ctx context.Context, channelID, text string) (*channel.MessageRef, error)
	PostThreaded(ctx context.Context, channelID, threadTS, text string) (*channel.MessageRef, error)
	Reactions(ctx context.Context, ref channel.MessageRef) ([]channel.Reaction, error)
}

// Config configures a Gate.
type Config struct {
	// Channel posts the approval messages and reads reactions.
	Channel Channel

	// ChannelID is the channel approval messages go to.
	ChannelID string

	// MachineName is the daemon's display name, shown in the request
	// so an operator running several daemons knows which one is
	// asking.
	MachineName string

	// SelfUserID is the daemon's own user ID from auth.test. The
	// daemon's own reactions never count as decisions.
	SelfUserID string

	// PollInterval is the reaction polling interval. Zero means 2s.
	PollInterval time.Duration

	// Timeout bounds the wait for a decision. Zero means 2m.
	Timeout time.Duration

	// Clock drives polling and the timeout. Nil means the real clock.
	Clock clock.Clock

	// Logger receives poll warnings. Nil discards them.
	Logger *slog.Logger
}

// Gate posts approval requests and blocks callers until a decision.
// Safe for concurrent use; each Decide call is an independent request.
type Gate struct {
	channel      Channel
	channelID    string
	machineName  string
	selfUserID   string
	pollInterval time.Duration
	timeout      time.Duration
	clock        clock.Clock
	logger       *slog.Logger
}

// NewGate validates the config and returns a Gate.
func NewGate(config Config) (*Gate, error) {
	if config.Channel == nil {
		return nil, fmt.Errorf("approval: config needs a channel client")
	}
	if config.ChannelID == "" {
		return nil, fmt.Errorf("approval: config needs a channel ID")
	}
	gate := &Gate{
		channel:      config.Channel,
		channelID:    config.ChannelID,
		machineName:  config.MachineName,
		selfUserID:   config.SelfUserID,
		pollInterval: config.PollInterval,
		timeout:      config.Timeout,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if gate.pollInterval <= 0 {
		gate.pollInterval = 2 * time.Second
	}
	if gate.timeout <= 0 {
		gate.timeout = 2 * time.Minute
	}
	if gate.clock == nil {
		gate.clock = clock.Real()
	}
	if gate.logger == nil {
		gate.logger = slog.New(slog.DiscardHandler)
	}
	return gate, nil
}

// Request is one privileged action awaiting an operator decision.
type Request struct {
	// ToolName is the agent tool asking to run.
	ToolName string

	// Summary is the rendered tool input (see SummarizeToolInput).
	// Shown in a code block in the approval message.
	Summary string

	// ThreadTS is the owning session's thread. When set, the approval
	// message is posted as a reply there; when empty (the session
	// could not be resolved), it is posted to the channel top-level.
	ThreadTS string
}

// Decide posts the approval request and blocks until an operator
// reacts, the timeout elapses, or ctx is canceled. It returns
// StateAllowed, StateDenied, or StateTimedOut. A non-nil error means
// no decision was obtained (the request could not be posted or ctx
// ended first) and the caller should degrade to its default ("ask")
// rather than inventing a verdict.
func (g *Gate) Decide(ctx context.Context, request Request) (State, error) {
	text := g.renderRequest(request)

	var ref *channel.MessageRef
	var err error
	if request.ThreadTS != "" {
		ref, err = g.channel.PostThreaded(ctx, g.channelID, request.ThreadTS, text)
	} else {
		ref, err = g.channel.PostMessage(ctx, g.channelID, text)
	}
	if err != nil {
		return StateRequested, fmt.Errorf("approval: posting request: %w", err)
	}

	g.logger.Info("approval requested",
		"tool", request.ToolName,
		"thread", request.ThreadTS,
		"message", ref.TS)

	// The confirmation goes into the session thread when there is
	// one, otherwise under the request message itself.
	confirmThread := request.ThreadTS
	if confirmThread == "" {
		confirmThread = ref.TS
	}

	deadline := g.clock.Now().Add(g.timeout)
	ticker := g.clock.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StatePending, fmt.Errorf("approval: waiting for decision: %w", ctx.Err())
		case <-ticker.C:
		}

		if !g.clock.Now().Before(deadline) {
			g.confirm(ctx, confirmThread, fmt.Sprintf(
				":hourglass: No decision on `%s` within %s, denying.", request.ToolName, g.timeout))
			return StateTimedOut, nil
		}

		reactions, err := g.channel.Reactions(ctx, *ref)
		if err != nil {
			// Transient transport trouble; the timeout still bounds
			// the wait.
			g.logger.Warn("reaction poll failed", "message", ref.TS, "error", err)
			continue
		}

		// Deny wins when both reactions are present.
		if g.reactedFrom(reactions, denyReactions) {
			g.confirm(ctx, confirmThread, fmt.Sprintf(":no_entry: Denied, blocking `%s`.", request.ToolName))
			return StateDenied, nil
		}
		if g.reactedFrom(reactions, approveReactions) {
			g.confirm(ctx, confirmThread, fmt.Sprintf(":white_check_mark: Approved, running `%s`.", request.ToolName))
			return StateAllowed, nil
		}
	}
}

// reactedFrom reports whether any reaction in the set was added by
// someone other than the daemon itself.
func (g *Gate) reactedFrom(reactions []channel.Reaction, set map[string]bool) bool {
	for _, reaction := range reactions {
		if !set[reaction.Name] {
			continue
		}
		for _, user := range reaction.Users {
			if user != g.selfUserID {
				return true
			}
		}
	}
	return false
}

// confirm posts the decision confirmation reply. Failures are logged,
// not returned: the decision is already made.
func (g *Gate) confirm(ctx context.Context, threadTS, text string) {
	if _, err := g.channel.PostThreaded(ctx, g.channelID, threadTS, text); err != nil {
		g.logger.Warn("posting approval confirmation failed", "thread", threadTS, "error", err)
	}
}

func (g *Gate) renderRequest(request Request) string {
	return fmt.Sprintf(
		":bell: *%s* wants to run `%s`\n%s\nReact :+1: to approve or :-1: to deny. Times out in %s.",
		g.machineName, request.ToolName, request.Summary, g.timeout)
}
