// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/waldo-labs/waldo/lib/channel"
	"github.com/waldo-labs/waldo/lib/clock"
)

// progressReporter owns the hourglass message posted at the start of
// an agent run. It updates the message in place with elapsed time
// while the run is in flight, then rewrites it once with the terminal
// line. One reporter per invocation; never shared.
type progressReporter struct {
	channel   Channel
	ref       channel.MessageRef
	directory string
	started   time.Time
	clk       clock.Clock
	logger    *slog.Logger

	done    chan struct{}
	stopped chan struct{}
}

// startProgress posts the hourglass message for an agent run and
// starts the update loop. A failed post is logged and reported as nil:
// the run proceeds without progress updates, and callers must
// nil-check before finish.
func (e *Engine) startProgress(ctx context.Context, threadTS, directory string, started time.Time) *progressReporter {
	ref, err := e.channel.PostThreaded(ctx, e.channelID, threadTS,
		fmt.Sprintf(":hourglass_flowing_sand: `%s`", directory))
	if err != nil {
		e.logger.Warn("posting progress message failed", "thread", threadTS, "error", err)
		return nil
	}

	p := &progressReporter{
		channel:   e.channel,
		ref:       *ref,
		directory: directory,
		started:   started,
		clk:       e.clock,
		logger:    e.logger,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.loop(ctx, e.progressInterval)
	return p
}

func (p *progressReporter) loop(ctx context.Context, interval time.Duration) {
	defer close(p.stopped)
	ticker := p.clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(p.started).Truncate(time.Second)
			text := fmt.Sprintf(":hourglass_flowing_sand: `%s` (%s)", p.directory, elapsed)
			if err := p.channel.UpdateMessage(ctx, p.ref, text); err != nil {
				p.logger.Warn("updating progress message failed", "error", err)
			}
		}
	}
}

// finish stops the update loop and rewrites the progress message with
// the terminal line. Safe to call exactly once.
func (p *progressReporter) finish(ctx context.Context, text string) {
	close(p.done)
	<-p.stopped
	if err := p.channel.UpdateMessage(ctx, p.ref, text); err != nil {
		p.logger.Warn("updating progress message failed", "error", err)
	}
}
