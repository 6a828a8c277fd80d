// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package transcript

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/waldo-labs/waldo/lib/secret"
)

// KeySize is the size in bytes of the archive sealing key.
const KeySize = 32

// identityKeyContext is the blake3 key-derivation context for deriving
// the archive key from the machine identity. Changing it orphans
// existing sealed archives.
const identityKeyContext = "waldo transcript archive key v1"

// sealedBlobVersion is the version byte prepended to sealed payloads.
// Included as additional authenticated data, so tampering with the
// version byte causes authentication failure.
const sealedBlobVersion byte = 0x01

// sealedBlobOverhead is the byte overhead per sealed payload:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const sealedBlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoRecord is the HKDF-SHA256 info parameter for per-record key
// derivation. Changing it invalidates all sealed archives.
var hkdfInfoRecord = []byte("waldo.transcript.rec.enc.v1")

// LoadKey reads an archive sealing key from a file: a single line of
// 64 hex characters. The returned buffer lives in guarded memory and
// must be closed by the caller.
func LoadKey(path string) (*secret.Buffer, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: reading key file: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(content)))
	secret.Zero(content)
	if err != nil {
		return nil, fmt.Errorf("transcript: key file %s is not hex: %w", path, err)
	}
	if len(decoded) != KeySize {
		secret.Zero(decoded)
		return nil, fmt.Errorf("transcript: key file %s holds %d bytes, want %d", path, len(decoded), KeySize)
	}
	// NewFromBytes copies into guarded memory and zeroes the heap slice.
	return secret.NewFromBytes(decoded)
}

// DeriveIdentityKey derives the archive sealing key from the machine's
// age identity. The daemon (writing) and the operator CLI (reading)
// both derive from the identity file, so the setup ceremony that
// creates the identity is the only key ceremony. The identity is
// borrowed, not closed. The returned buffer must be closed by the
// caller, or handed to an Archive, which closes it.
func DeriveIdentityKey(identity *secret.Buffer) (*secret.Buffer, error) {
	key := make([]byte, KeySize)
	blake3.DeriveKey(identityKeyContext, identity.Bytes(), key)
	return secret.NewFromBytes(key)
}

// deriveRecordKey derives the sealing key for one record from the
// archive key and the record's plaintext digest. Every record is
// sealed under its own key; compromise of one derived key exposes one
// record.
//
// The archiveKey is borrowed and NOT closed. The returned buffer must
// be closed by the caller.
func deriveRecordKey(archiveKey *secret.Buffer, digest [32]byte) (*secret.Buffer, error) {
	info := make([]byte, len(hkdfInfoRecord)+len(digest))
	copy(info, hkdfInfoRecord)
	copy(info[len(hkdfInfoRecord):], digest[:])

	// Nil salt: the archive key is already uniformly random, so the
	// HKDF extract phase with a zero key is appropriate per RFC 5869.
	reader := hkdf.New(sha256.New, archiveKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("transcript: HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// seal encrypts a record payload using XChaCha20-Poly1305 under a key
// derived from archiveKey and the record digest:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The version byte and digest are additional authenticated data. The
// digest binds the ciphertext to its frame header, so a sealed payload
// cannot be swapped between archive files.
func seal(payload []byte, archiveKey *secret.Buffer, digest [32]byte) ([]byte, error) {
	recordKey, err := deriveRecordKey(archiveKey, digest)
	if err != nil {
		return nil, err
	}
	defer recordKey.Close()

	aead, err := chacha20poly1305.NewX(recordKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("transcript: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("transcript: generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(payload)+aead.Overhead())
	output[0] = sealedBlobVersion
	copy(output[1:], nonce[:])

	// Seal appends the ciphertext+tag to output.
	return aead.Seal(output, nonce[:], payload, sealAAD(sealedBlobVersion, digest)), nil
}

// open decrypts a sealed payload produced by seal. Fails if the blob
// is too short, carries an unknown version byte, or fails AEAD
// authentication (wrong key, tampered data, or a digest that doesn't
// match the frame it was sealed for).
func open(sealed []byte, archiveKey *secret.Buffer, digest [32]byte) ([]byte, error) {
	if len(sealed) < sealedBlobOverhead {
		return nil, fmt.Errorf("transcript: sealed payload is %d bytes, minimum is %d (version + nonce + tag)",
			len(sealed), sealedBlobOverhead)
	}

	version := sealed[0]
	if version != sealedBlobVersion {
		return nil, fmt.Errorf("transcript: sealed payload version %d is not supported (expected %d)",
			version, sealedBlobVersion)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	recordKey, err := deriveRecordKey(archiveKey, digest)
	if err != nil {
		return nil, err
	}
	defer recordKey.Close()

	aead, err := chacha20poly1305.NewX(recordKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("transcript: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	payload, err := aead.Open(nil, nonce, ciphertext, sealAAD(version, digest))
	if err != nil {
		return nil, fmt.Errorf("transcript: AEAD decryption failed (wrong key or tampered data): %w", err)
	}
	return payload, nil
}

// sealAAD constructs the additional authenticated data: the version
// byte followed by the record digest.
func sealAAD(version byte, digest [32]byte) []byte {
	aad := make([]byte, 1+len(digest))
	aad[0] = version
	copy(aad[1:], digest[:])
	return aad
}
