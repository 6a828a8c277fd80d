// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data such
// as the Slack bot token and the archive encryption key.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped. Because the memory lives
// outside the Go heap, the garbage collector cannot copy or relocate
// it, guaranteeing secret material does not persist after release.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//
// Access via [Buffer.Bytes] (slice into mmap region) or
// [Buffer.String] (heap copy for API boundaries such as the
// Authorization header). [ReadFromPath] loads a secret from a file or
// stdin. [Zero] wipes a plain byte slice in place. After Close, any
// access panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix. No Waldo-internal dependencies.
// Imported by lib/sealed for age keypair and credential protection.
package secret
