// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for the Waldo
// credential bundle. It wraps filippo.io/age to provide a simple
// interface for the specific operations Waldo needs: generate a
// machine keypair, encrypt the bot token bundle to the machine's
// public key, decrypt it at daemon startup.
//
// Ciphertext is base64-encoded for storage in the credentials file.
// The base64 encoding is handled internally: callers pass plaintext
// []byte in and get base64 strings out (and vice versa for
// decryption).
//
// Private keys and decrypted plaintext are returned as *secret.Buffer
// values, which are backed by mmap memory outside the Go heap (locked
// against swap, excluded from core dumps, zeroed on close).
//
// This package is used by:
//   - "waldo setup" (generate the keypair, seal the bot token)
//   - waldo-daemon (unseal the bot token at startup)
package sealed
