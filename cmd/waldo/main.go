// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Waldo is the operator CLI for the waldo daemon. It provisions a
// machine (sealing the Slack bot token under a fresh age identity),
// talks to a running daemon over its control socket (status, stop),
// and inspects archived execution transcripts offline.
//
// Everything the CLI needs is in the daemon's state directory; point
// --config (or WALDO_CONFIG) at the same configuration the daemon
// uses and the socket, credentials, and archive paths line up.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/version"
)

func main() {
	root := rootCommand()
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var toolError *cli.ToolError
		if errors.As(err, &toolError) && toolError.Hint != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", toolError.Hint)
		}

		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

// rootCommand assembles the full command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "waldo",
		Summary: "Operate the waldo channel daemon",
		Description: `Waldo drives a coding agent on this machine from a Slack channel.
The daemon (waldo-daemon) does the bridging; this command provisions
it, controls it, and reads what it archived.`,
		Subcommands: []*cli.Command{
			setupCommand(),
			statusCommand(),
			stopCommand(),
			archiveCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("waldo %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Provision this machine with a bot token",
				Command:     "waldo setup",
			},
			{
				Description: "Check the running daemon",
				Command:     "waldo status",
			},
			{
				Description: "Read an archived execution",
				Command:     "waldo archive show b2f1",
			},
		},
	}
}
