// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package directive parses channel messages into the daemon's command
// language: shell escapes (`!ls`, `!cd src`), one-shot mode/model
// prefixes (`plan: refactor this`), whole-message control keywords
// (`new`, `resume`, `status`, `stop`, `help`, `mode auto`,
// `model opus`), and free-form agent prompts.
//
// Parsing is total: every input maps to exactly one [Directive], and
// malformed control input becomes a warning directive rather than an
// error, so the operator always gets a reply.
package directive
