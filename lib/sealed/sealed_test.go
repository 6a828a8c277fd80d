// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"strings"
	"testing"

	"github.com/waldo-labs/waldo/lib/secret"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key missing AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
	if len(keypair.PublicKey) < 20 {
		t.Errorf("PublicKey too short: %d chars", len(keypair.PublicKey))
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	keypair1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair1.Close()
	keypair2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair2.Close()

	if keypair1.PublicKey == keypair2.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}
}

func TestEncryptDecrypt_SingleRecipient(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	plaintext := []byte(`{"bot_token":"xoxb-1111-fake"}`)
	expected := string(plaintext)

	ciphertext, err := Encrypt(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if ciphertext == "" {
		t.Fatal("Encrypt() produced empty ciphertext")
	}
	if strings.Contains(ciphertext, "xoxb-1111-fake") {
		t.Error("ciphertext contains the plaintext token")
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	defer decrypted.Close()

	if decrypted.String() != expected {
		t.Errorf("Decrypt() = %q, want %q", decrypted.String(), expected)
	}
}

func TestEncryptDecrypt_MultipleRecipients(t *testing.T) {
	machine, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer machine.Close()
	escrow, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer escrow.Close()

	plaintext := []byte("shared secret")
	ciphertext, err := Encrypt(plaintext, []string{machine.PublicKey, escrow.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Either private key should decrypt.
	for name, key := range map[string]*secret.Buffer{
		"machine": machine.PrivateKey,
		"escrow":  escrow.PrivateKey,
	} {
		decrypted, err := Decrypt(ciphertext, key)
		if err != nil {
			t.Fatalf("Decrypt() with %s key error: %v", name, err)
		}
		if decrypted.String() != "shared secret" {
			t.Errorf("%s key: Decrypt() = %q, want %q", name, decrypted.String(), "shared secret")
		}
		decrypted.Close()
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer owner.Close()
	stranger, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer stranger.Close()

	ciphertext, err := Encrypt([]byte("for owner only"), []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	if _, err := Decrypt(ciphertext, stranger.PrivateKey); err == nil {
		t.Error("Decrypt() with wrong key should return error")
	}
}

func TestEncrypt_NoRecipients(t *testing.T) {
	if _, err := Encrypt([]byte("data"), nil); err == nil {
		t.Error("Encrypt() with no recipients should return error")
	}
}

func TestEncrypt_InvalidRecipientKey(t *testing.T) {
	if _, err := Encrypt([]byte("data"), []string{"not-an-age-key"}); err == nil {
		t.Error("Encrypt() with invalid recipient should return error")
	}
}

func TestDecrypt_InvalidPrivateKey(t *testing.T) {
	bogus, err := secret.NewFromBytes([]byte("not-an-age-identity"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer bogus.Close()

	if _, err := Decrypt("aGVsbG8=", bogus); err == nil {
		t.Error("Decrypt() with invalid private key should return error")
	}
}

func TestDecrypt_InvalidBase64(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if _, err := Decrypt("!!!not base64!!!", keypair.PrivateKey); err == nil {
		t.Error("Decrypt() with invalid base64 should return error")
	}
}

func TestDecrypt_CorruptedCiphertext(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Encrypt([]byte("fragile"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	// Flip a character in the middle of the base64 payload.
	corrupted := []byte(ciphertext)
	middle := len(corrupted) / 2
	if corrupted[middle] == 'A' {
		corrupted[middle] = 'B'
	} else {
		corrupted[middle] = 'A'
	}

	if _, err := Decrypt(string(corrupted), keypair.PrivateKey); err == nil {
		t.Error("Decrypt() with corrupted ciphertext should return error")
	}
}

func TestEncryptDecrypt_LargePlaintext(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	// Larger than one age chunk (64 KiB).
	plaintext := make([]byte, 128*1024)
	for index := range plaintext {
		plaintext[index] = byte(index % 251)
	}
	expected := string(plaintext)

	ciphertext, err := Encrypt(plaintext, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}

	decrypted, err := Decrypt(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	defer decrypted.Close()

	if decrypted.String() != expected {
		t.Error("large plaintext did not survive the roundtrip")
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("not-a-valid-key"); err == nil {
		t.Error("ParsePublicKey(invalid) should return error")
	}
	if err := ParsePublicKey(""); err == nil {
		t.Error("ParsePublicKey(empty) should return error")
	}
}

func TestParsePrivateKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if err := ParsePrivateKey(keypair.PrivateKey); err != nil {
		t.Errorf("ParsePrivateKey(valid) error: %v", err)
	}

	bogus, err := secret.NewFromBytes([]byte("garbage"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer bogus.Close()
	if err := ParsePrivateKey(bogus); err == nil {
		t.Error("ParsePrivateKey(invalid) should return error")
	}
}

func TestKeypairClose_Idempotent(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}
