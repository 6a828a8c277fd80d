// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/waldo-labs/waldo/lib/codec"
)

// Exchange dials the daemon's control socket, sends one request, and
// reads one response. The connection deadline comes from ctx if it has
// one, otherwise 30 seconds (matching the daemon's handler deadline).
//
// Gate-tool callers should set a generous context deadline: the daemon
// holds the connection open while the operator decides, which can take
// up to the approval timeout.
func Exchange(ctx context.Context, socketPath string, request Request) (*Response, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon at %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("sending request to daemon: %w", err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response from daemon: %w", err)
	}

	return &response, nil
}
