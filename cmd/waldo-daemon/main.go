// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Waldo-daemon bridges one Slack channel to a coding agent and a shell
// on the machine it runs on. Each channel thread is an independent
// session with its own working directory, permission mode, and
// resumable agent conversation: top-level messages start sessions,
// thread replies continue them, and "!" prefixed messages run shell
// commands directly.
//
// On startup the daemon:
//
//  1. Loads configuration and resolves the bot token, preferring
//     SLACK_BOT_TOKEN over the sealed credentials file written by
//     "waldo setup".
//  2. Verifies the token against the channel API and learns its own
//     user ID, so its own messages and reactions are never treated as
//     operator input.
//  3. Loads persisted sessions. Threads known before the restart keep
//     their directory, mode, model, and conversation binding.
//  4. Opens the control socket serving the operator CLI and the
//     agent's permission hook.
//  5. Posts a startup message and polls the channel from that point
//     on. Messages sent while the daemon was down are never executed.
//
// The same binary doubles as the agent's PreToolUse hook: the daemon
// registers "waldo-daemon hook pre-tool-use" in each session's
// settings, and the hook relays tool calls back over the control
// socket for a policy or operator decision.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/waldo-labs/waldo/lib/approval"
	"github.com/waldo-labs/waldo/lib/channel"
	"github.com/waldo-labs/waldo/lib/clock"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/credential"
	"github.com/waldo-labs/waldo/lib/engine"
	"github.com/waldo-labs/waldo/lib/policy"
	"github.com/waldo-labs/waldo/lib/secret"
	"github.com/waldo-labs/waldo/lib/session"
	"github.com/waldo-labs/waldo/lib/transcript"
	"github.com/waldo-labs/waldo/lib/version"
)

// drainGrace bounds how long shutdown waits for in-flight executions
// before killing them.
const drainGrace = 30 * time.Second

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "hook" {
		code, err := runHook(os.Args[2:], os.Stdin, os.Stdout, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "waldo-daemon hook: %v\n", err)
			os.Exit(1)
		}
		os.Exit(code)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "waldo-daemon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "config file (default $WALDO_CONFIG, then <state-dir>/config.yaml)")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("waldo-daemon %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	token, err := resolveToken(cfg)
	if err != nil {
		return err
	}
	defer token.Close()

	// SIGINT and SIGTERM cancel ctx; the stop directive and the control
	// socket's stop action reuse the same cancel.
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := channel.NewClient(channel.ClientConfig{
		Token:  token,
		Logger: logger.With("component", "channel"),
	})
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	identity, err := client.AuthTest(ctx)
	if err != nil {
		return fmt.Errorf("verifying bot token: %w", err)
	}
	logger.Info("authenticated",
		"user_id", identity.UserID,
		"bot_id", identity.BotID,
		"team", identity.Team)

	store := session.NewStore(cfg.SessionsFile(), cfg.Machine.WorkDir, logger.With("component", "session"))
	if err := store.Load(); err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	pol, err := policy.LoadOrDefault(cfg.ResolvedPolicyFile())
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	var archive *transcript.Archive
	if cfg.Archive.Enabled {
		key, err := archiveKey(cfg)
		if err != nil {
			return err
		}
		archive, err = transcript.NewArchive(cfg.ArchiveDir(), transcript.Options{
			Compression: cfg.Archive.Compression,
			Key:         key,
			Logger:      logger.With("component", "archive"),
		})
		if err != nil {
			return fmt.Errorf("opening transcript archive: %w", err)
		}
		defer archive.Close()
	}

	hookCommand := ""
	if executable, err := os.Executable(); err == nil {
		hookCommand = executable + " hook pre-tool-use"
	} else {
		logger.Warn("cannot resolve own executable; agent tool gating disabled", "error", err)
	}

	clk := clock.Real()

	eng, err := engine.NewEngine(engine.Config{
		Channel:          client,
		ChannelID:        cfg.Channel.ID,
		Store:            store,
		Policy:           pol,
		Archive:          archive,
		Clock:            clk,
		Logger:           logger.With("component", "engine"),
		AgentBinary:      cfg.Agent.Binary,
		ShellBinary:      cfg.Shell.Binary,
		DefaultModel:     cfg.Agent.DefaultModel,
		HookCommand:      hookCommand,
		SocketPath:       cfg.SocketPath(),
		ShellTimeout:     cfg.ShellTimeout(),
		AgentTimeout:     cfg.AgentTimeout(),
		ProgressInterval: cfg.ProgressInterval(),
		QueueDepth:       cfg.Engine.QueueDepth,
		Concurrency:      int64(cfg.Engine.Concurrency),
	})
	if err != nil {
		return err
	}

	gate, err := approval.NewGate(approval.Config{
		Channel:      client,
		ChannelID:    cfg.Channel.ID,
		MachineName:  cfg.Machine.Name,
		SelfUserID:   identity.UserID,
		PollInterval: cfg.ApprovalPollInterval(),
		Timeout:      cfg.ApprovalTimeout(),
		Clock:        clk,
		Logger:       logger.With("component", "approval"),
	})
	if err != nil {
		return err
	}

	d := newDaemon(daemonConfig{
		Channel:         client,
		ChannelID:       cfg.Channel.ID,
		Store:           store,
		Engine:          eng,
		Gate:            gate,
		Policy:          pol,
		Clock:           clk,
		Logger:          logger,
		MachineName:     cfg.Machine.Name,
		SelfUserID:      identity.UserID,
		ApprovalTimeout: cfg.ApprovalTimeout(),
		Stop:            cancel,
	})

	listener, err := listenSocket(cfg.SocketPath())
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer listener.Close()
	go d.serve(ctx, listener)

	d.announce(ctx)
	logger.Info("online",
		"machine", cfg.Machine.Name,
		"channel", cfg.Channel.ID,
		"socket", cfg.SocketPath(),
		"sessions", store.Len(),
		"version", version.Info())

	d.poll(ctx, cfg.PollInterval())

	// Shutdown. Let in-flight work finish, then say goodbye on a fresh
	// context since ctx is already canceled.
	logger.Info("shutting down")
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainGrace)
	defer cancelDrain()
	if err := eng.Drain(drainCtx); err != nil {
		logger.Warn("drain incomplete, killing in-flight executions", "error", err)
	}

	offlineCtx, cancelOffline := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelOffline()
	if _, err := client.PostMessage(offlineCtx, cfg.Channel.ID, fmt.Sprintf(":red_circle: *%s* is offline", cfg.Machine.Name)); err != nil {
		logger.Warn("offline message failed", "error", err)
	}
	logger.Info("stopped")
	return nil
}

// resolveToken finds the bot token: the SLACK_BOT_TOKEN environment
// variable wins, then the sealed credentials written by "waldo setup".
func resolveToken(cfg *config.Config) (*secret.Buffer, error) {
	if value := os.Getenv("SLACK_BOT_TOKEN"); value != "" {
		return secret.NewFromBytes([]byte(value))
	}
	token, err := credential.LoadToken(cfg.CredentialsFile(), cfg.IdentityFile())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no bot token: set SLACK_BOT_TOKEN or run \"waldo setup\" first")
	}
	return token, err
}

// archiveKey resolves the transcript encryption key: an explicit
// archive.key_file when configured, otherwise derived from the
// machine's age identity so "waldo setup" is the only key ceremony.
// Returns nil when archive encryption is off.
func archiveKey(cfg *config.Config) (*secret.Buffer, error) {
	if !cfg.Archive.Encrypt {
		return nil, nil
	}
	if cfg.Archive.KeyFile != "" {
		return transcript.LoadKey(cfg.Archive.KeyFile)
	}
	identity, err := secret.ReadFromPath(cfg.IdentityFile())
	if err != nil {
		return nil, fmt.Errorf("archive encryption needs the machine identity (run \"waldo setup\"): %w", err)
	}
	defer identity.Close()
	return transcript.DeriveIdentityKey(identity)
}

// listenSocket binds the control socket, replacing any stale socket
// from a previous run. The socket is owner-only: everything on it is
// reachable without further authentication.
func listenSocket(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}
	return listener, nil
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
