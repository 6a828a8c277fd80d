// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree for the waldo operator CLI:
// declarative command definitions with pflag flag sets, struct-tag
// flag binding, help rendering, and typo suggestions for unknown
// commands and flags.
//
// Commands are plain data. A [Command] names itself, describes itself
// for help output, binds its flags, and either runs or dispatches to
// subcommands. [Command.Execute] walks the tree from the root.
//
// Errors returned from command Run functions are [ToolError] values
// carrying a category and an optional remediation hint; main renders
// the hint after the error text.
package cli
