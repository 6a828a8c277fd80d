// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package approval turns a privileged-action request into a human
// yes/no decision delivered through the channel. The gate posts an
// approval message, polls its reactions until one from the approve or
// deny set appears, and fails closed on timeout. It runs out-of-band
// from the poll loop: the caller is a gate-tool socket request whose
// hook process (and agent) block until the decision returns.
package approval
