// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// Digest is a SHA-256 certificate fingerprint.
type Digest [sha256.Size]byte

// Sum fingerprints a DER-encoded certificate.
func Sum(der []byte) Digest {
	return Digest(sha256.Sum256(der))
}

// String returns the canonical lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Normalize canonicalizes a fingerprint string for comparison:
// surrounding whitespace trimmed, ':' separators removed, lowercased.
// It does not validate; use Parse for that.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ":", "")
	return strings.ToLower(s)
}

// Parse accepts a fingerprint in canonical or colon-separated form.
func Parse(s string) (Digest, error) {
	var digest Digest
	normalized := Normalize(s)
	decoded, err := hex.DecodeString(normalized)
	if err != nil {
		return digest, fmt.Errorf("parsing fingerprint %q: %w", s, err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("fingerprint %q is %d bytes, want %d", s, len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// Colons renders d in the uppercase colon-separated form
// ("AB:CD:...") for display next to tooling that prints it that way.
func (d Digest) Colons() string {
	var builder strings.Builder
	encoded := strings.ToUpper(d.String())
	for index := 0; index < len(encoded); index += 2 {
		if index > 0 {
			builder.WriteByte(':')
		}
		builder.WriteString(encoded[index : index+2])
	}
	return builder.String()
}

// Certificates extracts DER certificates from data. PEM input yields
// every CERTIFICATE block in order; anything without a PEM block is
// treated as a single raw DER certificate.
func Certificates(data []byte) ([][]byte, error) {
	var certificates [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certificates = append(certificates, block.Bytes)
		}
	}
	if len(certificates) > 0 {
		return certificates, nil
	}
	if strings.Contains(string(data), "-----BEGIN") {
		return nil, fmt.Errorf("PEM input contains no CERTIFICATE block")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty certificate input")
	}
	return [][]byte{data}, nil
}

// File fingerprints every certificate in the PEM or DER file at path.
func File(path string) ([]Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate %s: %w", path, err)
	}
	certificates, err := Certificates(data)
	if err != nil {
		return nil, fmt.Errorf("reading certificate %s: %w", path, err)
	}
	digests := make([]Digest, len(certificates))
	for index, der := range certificates {
		digests[index] = Sum(der)
	}
	return digests, nil
}
