// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript archives completed executions as single-file CBOR
// records under the daemon's state directory.
//
// Each record is framed as: magic "WTR1", a flags byte (compression
// tag, encrypted bit), the plaintext length, the BLAKE3-256 digest of
// the plaintext CBOR, then the payload. The payload is optionally
// compressed (zstd or LZ4, probed per record) and optionally sealed
// with XChaCha20-Poly1305 under a per-record HKDF-derived key. The
// digest is computed before compression and verified after decoding,
// so corruption is detected even for plaintext archives.
//
// Records are immutable once written; the archive is append-only and
// one file per record, so there is no index to corrupt and `waldo
// archive list` is a directory scan.
package transcript
