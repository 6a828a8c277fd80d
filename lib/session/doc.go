// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package session holds the durable per-thread state: which directory
// a thread works in, its persisted mode and model, and the agent
// conversation bound to it.
//
// The [Store] exclusively owns the collection. Every mutation is an
// atomic keyed read-modify-write under the store mutex, flushed to
// disk before the mutating call returns. The state file is a single
// JSON document written temp-then-rename, so a crash at any point
// leaves either the old state or the new state, never a torn one.
package session
