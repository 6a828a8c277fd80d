// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/credential"
	"github.com/waldo-labs/waldo/lib/secret"
)

type setupParams struct {
	Config    string `flag:"config,c" desc:"config file path"`
	TokenFile string `flag:"token-file" desc:"read the bot token from this file, or '-' for stdin (default: prompt)"`
}

func setupCommand() *cli.Command {
	var params setupParams

	return &cli.Command{
		Name:    "setup",
		Summary: "Store the Slack bot token for this machine",
		Description: `Create the state directory, generate a fresh age identity, and seal
the Slack bot token to it.

The token is prompted for with echo disabled unless --token-file names
a file (or '-' for stdin). Nothing leaves the machine: the identity
stays in the state directory with owner-only permissions, and the
sealed token is only readable through it.

Setup can run before the channel is configured, so a blank machine is
provisioned token-first. Re-running setup rotates the identity and
reseals; archives sealed under the old identity become unreadable, so
rotate deliberately.`,
		Usage: "waldo setup [flags]",
		Examples: []cli.Example{
			{
				Description: "Provision interactively",
				Command:     "waldo setup",
			},
			{
				Description: "Provision from a secrets file",
				Command:     "waldo setup --token-file /run/secrets/slack-bot-token",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("setup", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}

			cfg, err := config.Load(params.Config)
			if err != nil {
				return cli.Validation("loading config: %w", err)
			}
			if err := cfg.EnsurePaths(); err != nil {
				return cli.Internal("creating state directory: %w", err)
			}

			token, err := readSetupToken(params.TokenFile)
			if err != nil {
				return err
			}
			defer token.Close()

			if !strings.HasPrefix(token.String(), "xoxb-") {
				fmt.Fprintf(os.Stderr, "warning: token does not look like a bot token (xoxb-...)\n")
			}

			publicKey, err := credential.SealToken(cfg.IdentityFile(), cfg.CredentialsFile(), token.Bytes())
			if err != nil {
				return cli.Internal("sealing token: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Token sealed.\n")
			fmt.Fprintf(os.Stderr, "  Identity:    %s\n", cfg.IdentityFile())
			fmt.Fprintf(os.Stderr, "  Credentials: %s\n", cfg.CredentialsFile())
			fmt.Fprintf(os.Stderr, "  Public key:  %s\n", publicKey)
			fmt.Fprintf(os.Stderr, "\nStart the daemon with 'waldo-daemon'.\n")
			return nil
		},
	}
}

// readSetupToken reads the bot token. A named file (or '-') goes
// through [secret.ReadFromPath]; otherwise the terminal is prompted
// with echo disabled.
func readSetupToken(tokenFile string) (*secret.Buffer, error) {
	if tokenFile != "" {
		token, err := secret.ReadFromPath(tokenFile)
		if err != nil {
			return nil, cli.Validation("reading token: %w", err)
		}
		return token, nil
	}

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, cli.Validation("no terminal for the token prompt").
			WithHint("Pass --token-file <path>, or --token-file - to read stdin.")
	}

	fmt.Fprint(os.Stderr, "Slack bot token (xoxb-...): ")
	tokenBytes, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, cli.Internal("reading token: %w", err)
	}

	trimmed := bytes.TrimSpace(tokenBytes)
	if len(trimmed) == 0 {
		secret.Zero(tokenBytes)
		return nil, cli.Validation("no token entered")
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(tokenBytes)
	if err != nil {
		return nil, cli.Internal("guarding token: %w", err)
	}
	return buffer, nil
}
