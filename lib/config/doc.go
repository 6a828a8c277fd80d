// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Waldo daemon.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag passed to the command, or
//   - the WALDO_CONFIG environment variable, or
//   - <state-dir>/config.yaml (missing is fine)
//
// Every knob has a default, so a config file is optional: the only
// values with no default are the channel ID and the bot token, and
// both can come from the environment (WALDO_CHANNEL, SLACK_BOT_TOKEN).
// Environment variables override file values, which lets a systemd
// unit or a shell session steer a shared config file.
//
// The bot token itself never appears in the Config struct. It is
// resolved separately by the daemon: SLACK_BOT_TOKEN if set, otherwise
// the sealed credentials file written by "waldo setup".
package config
