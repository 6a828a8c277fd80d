// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/ipc"
)

type stopParams struct {
	Config string `flag:"config,c" desc:"config file path"`
}

func stopCommand() *cli.Command {
	var params stopParams

	return &cli.Command{
		Name:    "stop",
		Summary: "Stop the running daemon",
		Description: `Ask the daemon to shut down. The daemon acknowledges, finishes or
kills in-flight executions within its drain grace, posts an offline
message to the channel, and exits.

Equivalent to sending "stop" in the channel, without needing Slack.`,
		Usage: "waldo stop [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("stop", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}

			cfg, err := config.Load(params.Config)
			if err != nil {
				return cli.Validation("loading config: %w", err)
			}

			if _, err := daemonExchange(cfg, ipc.Request{Action: ipc.ActionStop}); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Stop acknowledged; the daemon is draining and shutting down.")
			return nil
		},
	}
}
