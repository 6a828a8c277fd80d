// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Waldo's standard CBOR encoding configuration.
//
// Waldo uses two serialization formats with a clear boundary:
//
//   - JSON for external interfaces: the Slack Web API, the agent CLI's
//     --output-format json contract, the hook stdin payload, the
//     session state file, and CLI output.
//   - CBOR for internal protocols: the hook↔daemon gate socket and
//     the on-disk transcript archive records.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Waldo package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which is what lets the transcript archive hash records.
//
// For buffer-oriented operations (archive records):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (the gate socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR. It will
//     never be marshaled to JSON or interact with CLI tooling.
//     Examples: the gate socket request/response envelopes.
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats. Examples: transcript records,
//     which live in CBOR archives but also surface through
//     "waldo archive show --json".
//
// Never use both `cbor` and `json` tags on the same field. The tag
// choice documents the contract.
package codec
