// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential stores the Slack bot token sealed at rest.
//
// "waldo setup" generates an age identity in the state directory and
// writes the token age-encrypted beside it. The daemon unseals the
// token at startup into guarded memory (lib/secret) and holds it there
// for the life of the process; the plaintext never lands on disk.
//
// The sealed file holds exactly one secret. Rotation is re-running
// setup: SealToken generates a fresh identity on every call, so a
// leaked identity file stops mattering the moment the token is
// re-sealed.
package credential
