// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/waldo-labs/waldo/lib/sealed"
	"github.com/waldo-labs/waldo/lib/secret"
)

// SealToken generates a fresh age identity at identityPath and writes
// token age-encrypted to it at credentialsPath. Both files are written
// with 0600 permissions via temp-then-rename. Returns the new identity's
// public key for display.
//
// Every call rotates the identity. The identity file is written before
// the ciphertext, so a failure between the two leaves an unreadable
// pair; re-running setup repairs it.
func SealToken(identityPath, credentialsPath string, token []byte) (string, error) {
	if len(bytes.TrimSpace(token)) == 0 {
		return "", fmt.Errorf("credential: token is empty")
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return "", fmt.Errorf("credential: generating identity: %w", err)
	}
	defer keypair.Close()

	ciphertext, err := sealed.Encrypt(token, []string{keypair.PublicKey})
	if err != nil {
		return "", fmt.Errorf("credential: sealing token: %w", err)
	}

	// The write needs a heap copy of the private key; zero it as soon
	// as the file is down.
	identity := make([]byte, 0, keypair.PrivateKey.Len()+1)
	identity = append(identity, keypair.PrivateKey.Bytes()...)
	identity = append(identity, '\n')
	defer secret.Zero(identity)
	if err := writeFileSecret(identityPath, identity); err != nil {
		return "", fmt.Errorf("credential: writing identity: %w", err)
	}
	if err := writeFileSecret(credentialsPath, []byte(ciphertext+"\n")); err != nil {
		return "", fmt.Errorf("credential: writing credentials: %w", err)
	}

	return keypair.PublicKey, nil
}

// writeFileSecret writes data to path with 0600 permissions, through a
// temp file in the same directory so a crash never leaves a partial
// secret on disk.
func writeFileSecret(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
