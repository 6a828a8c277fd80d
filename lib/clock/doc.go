// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides a Clock interface over wall-clock time with a
// production implementation (Real) and a deterministic test
// implementation (Fake).
//
// The daemon's timing behavior (shell and agent execution timeouts,
// progress update intervals, reaction polling, channel polling) all
// flows through a Clock so tests can advance time explicitly instead
// of sleeping.
package clock
