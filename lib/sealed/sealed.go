// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/credcourier/courier/lib/secret"
)

// Keypair is an endpoint's age x25519 keypair.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... string, held outside the
	// Go heap.
	Identity *secret.Buffer

	// Recipient is the age1... public key published in the manifest.
	Recipient string
}

// Close releases the identity. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair creates a new keypair. The caller must Close it.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// identity.String() leaves a heap copy behind; the buffer is the
	// one that outlives this call.
	buffer, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}
	return &Keypair{
		Identity:  buffer,
		Recipient: identity.Recipient().String(),
	}, nil
}

// ParseRecipient validates an age1... recipient string.
func ParseRecipient(recipient string) error {
	if _, err := age.ParseX25519Recipient(recipient); err != nil {
		return fmt.Errorf("invalid age recipient: %w", err)
	}
	return nil
}

// ParseIdentity validates an identity held in a buffer. The buffer is
// borrowed, not closed.
func ParseIdentity(identity *secret.Buffer) error {
	if _, err := age.ParseX25519Identity(identity.String()); err != nil {
		return fmt.Errorf("invalid age identity: %w", err)
	}
	return nil
}

// Seal encrypts plaintext to recipient and returns the raw age
// ciphertext. The wire codec carries bytes, so no armor or base64.
func Seal(plaintext []byte, recipient string) ([]byte, error) {
	parsed, err := age.ParseX25519Recipient(recipient)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", recipient, err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, parsed)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext with identity and moves the plaintext into
// a new buffer. The identity is borrowed, not closed. The caller must
// Close the returned buffer.
func Open(ciphertext []byte, identity *secret.Buffer) (*secret.Buffer, error) {
	parsed, err := age.ParseX25519Identity(identity.String())
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed field decrypted to nothing")
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}
