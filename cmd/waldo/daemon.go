// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"time"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/ipc"
)

// controlTimeout bounds one control-socket request. Status and stop
// answer immediately; anything slower means a wedged daemon.
const controlTimeout = 10 * time.Second

// daemonExchange sends one request to the daemon's control socket and
// returns its response. Connection failures come back as categorized
// errors that say how to fix them.
func daemonExchange(cfg *config.Config, request ipc.Request) (*ipc.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	response, err := ipc.Exchange(ctx, cfg.SocketPath(), request)
	if err != nil {
		return nil, diagnoseSocketError(err, cfg.SocketPath())
	}
	if response.Error != "" {
		return nil, cli.Internal("daemon: %s", response.Error)
	}
	return response, nil
}

// diagnoseSocketError translates dial failures into errors an operator
// can act on. A missing socket means the daemon was never started (or
// uses a different state directory); a refused connection means it
// died without cleaning up.
func diagnoseSocketError(err error, socketPath string) *cli.ToolError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return cli.Transient("daemon not running: no socket at %s", socketPath).
			WithHint("Start it with 'waldo-daemon'. If it is running, check that both\ncommands use the same configuration.")
	case errors.Is(err, syscall.ECONNREFUSED):
		return cli.Transient("daemon not running: stale socket at %s", socketPath).
			WithHint("The daemon exited without removing its socket. Start it with\n'waldo-daemon'; it replaces the stale socket on startup.")
	default:
		return cli.Transient("talking to daemon at %s: %w", socketPath, err)
	}
}
