// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/ipc"
)

type statusParams struct {
	cli.JSONOutput
	Config string `flag:"config,c" desc:"config file path"`
}

// statusResult is the JSON shape of "waldo status --json".
type statusResult struct {
	MachineName      string          `json:"machine_name"`
	Version          string          `json:"version"`
	StartedAt        time.Time       `json:"started_at"`
	Channel          string          `json:"channel"`
	DefaultDirectory string          `json:"default_directory"`
	Sessions         []sessionResult `json:"sessions"`
}

type sessionResult struct {
	ThreadID         string    `json:"thread_id"`
	WorkingDirectory string    `json:"working_directory"`
	Mode             string    `json:"mode,omitempty"`
	Model            string    `json:"model,omitempty"`
	AgentSessionID   string    `json:"agent_session_id,omitempty"`
	Active           bool      `json:"active"`
	QueueDepth       int       `json:"queue_depth"`
	LastActivity     time.Time `json:"last_activity"`
}

func statusCommand() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon status",
		Description: `Ask the running daemon for its status: version, uptime, the channel
it serves, and every session it tracks with mode, model, and queue
depth.

This is the same information the daemon posts when an operator sends
"status" in the channel, fetched over the control socket instead.`,
		Usage: "waldo status [flags]",
		Examples: []cli.Example{
			{
				Description: "Human-readable status",
				Command:     "waldo status",
			},
			{
				Description: "Status for scripts",
				Command:     "waldo status --json",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("status", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}

			cfg, err := config.Load(params.Config)
			if err != nil {
				return cli.Validation("loading config: %w", err)
			}

			response, err := daemonExchange(cfg, ipc.Request{Action: ipc.ActionStatus})
			if err != nil {
				return err
			}
			if response.Status == nil {
				return cli.Internal("daemon replied without status")
			}

			if done, err := params.EmitJSON(statusJSON(response.Status)); done {
				return err
			}
			renderStatus(os.Stdout, response.Status, time.Now())
			return nil
		},
	}
}

// statusJSON maps the wire status onto the CLI's JSON output shape.
func statusJSON(status *ipc.StatusInfo) statusResult {
	sessions := make([]sessionResult, 0, len(status.Sessions))
	for _, session := range status.Sessions {
		sessions = append(sessions, sessionResult{
			ThreadID:         session.ThreadID,
			WorkingDirectory: session.WorkingDirectory,
			Mode:             session.Mode,
			Model:            session.Model,
			AgentSessionID:   session.AgentSessionID,
			Active:           session.Active,
			QueueDepth:       session.QueueDepth,
			LastActivity:     session.LastActivity,
		})
	}
	return statusResult{
		MachineName:      status.MachineName,
		Version:          status.Version,
		StartedAt:        status.StartedAt,
		Channel:          status.Channel,
		DefaultDirectory: status.DefaultDirectory,
		Sessions:         sessions,
	}
}

// renderStatus writes the human-readable status.
func renderStatus(w io.Writer, status *ipc.StatusInfo, now time.Time) {
	fmt.Fprintf(w, "%s (waldo %s)\n", status.MachineName, status.Version)
	fmt.Fprintf(w, "  channel: %s\n", status.Channel)
	fmt.Fprintf(w, "  cwd:     %s\n", status.DefaultDirectory)
	fmt.Fprintf(w, "  uptime:  %s\n", now.Sub(status.StartedAt).Truncate(time.Second))

	if len(status.Sessions) == 0 {
		fmt.Fprintf(w, "\nNo sessions.\n")
		return
	}

	fmt.Fprintf(w, "\n")
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "  THREAD\tCWD\tMODE\tMODEL\tSTATE\tQUEUED\tLAST ACTIVITY\n")
	for _, session := range status.Sessions {
		state := "idle"
		if session.Active {
			state = "running"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			session.ThreadID,
			session.WorkingDirectory,
			valueOr(session.Mode, "-"),
			valueOr(session.Model, "-"),
			state,
			session.QueueDepth,
			session.LastActivity.Local().Format("2006-01-02 15:04:05"),
		)
	}
	tw.Flush()
}

// valueOr substitutes placeholder for the empty string.
func valueOr(value, placeholder string) string {
	if value == "" {
		return placeholder
	}
	return value
}
