// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/waldo-labs/waldo/lib/sealed"
	"github.com/waldo-labs/waldo/lib/secret"
)

// LoadToken unseals the bot token from credentialsPath using the age
// identity at identityPath. The returned buffer is mmap-backed (locked
// into RAM, excluded from core dumps); the caller owns it and must
// Close it.
//
// A missing file surfaces as fs.ErrNotExist through the wrap, so
// callers can tell "not provisioned yet" from a damaged installation.
func LoadToken(credentialsPath, identityPath string) (*secret.Buffer, error) {
	privateKey, err := secret.ReadFromPath(identityPath)
	if err != nil {
		return nil, fmt.Errorf("credential: reading identity %s: %w", identityPath, err)
	}
	defer privateKey.Close()

	if err := sealed.ParsePrivateKey(privateKey); err != nil {
		return nil, fmt.Errorf("credential: identity %s: %w", identityPath, err)
	}

	ciphertext, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("credential: reading credentials: %w", err)
	}

	token, err := sealed.Decrypt(strings.TrimSpace(string(ciphertext)), privateKey)
	if err != nil {
		return nil, fmt.Errorf("credential: unsealing token (identity and credentials out of step? re-run setup): %w", err)
	}
	return token, nil
}
