// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the daemon's
// Unix control socket. The daemon serves the socket; hook invocations
// (waldo-daemon hook) and the operator CLI (waldo) dial it. All three
// import this package so the wire types are defined once rather than
// mirrored.
package ipc
