// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package fingerprint

import (
	"crypto/sha256"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSum(t *testing.T) {
	der := []byte("not really a certificate")
	want := sha256.Sum256(der)
	if got := Sum(der); got != Digest(want) {
		t.Errorf("Sum = %x, want %x", got, want)
	}
}

func TestStringIsLowercaseHex(t *testing.T) {
	digest := Sum([]byte("cert"))
	text := digest.String()
	if len(text) != 64 {
		t.Fatalf("len(String()) = %d, want 64", len(text))
	}
	if text != strings.ToLower(text) {
		t.Errorf("String() = %q, want lowercase", text)
	}
}

func TestParseAcceptsColonForm(t *testing.T) {
	digest := Sum([]byte("cert"))

	for _, input := range []string{
		digest.String(),
		strings.ToUpper(digest.String()),
		digest.Colons(),
		"  " + digest.Colons() + "\n",
	} {
		parsed, err := Parse(input)
		if err != nil {
			t.Errorf("Parse(%q): %v", input, err)
			continue
		}
		if parsed != digest {
			t.Errorf("Parse(%q) = %s, want %s", input, parsed, digest)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, input := range []string{"", "zz", "abcd", strings.Repeat("a", 66)} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q): expected error", input)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" AB:cd:EF "); got != "abcdef" {
		t.Errorf("Normalize = %q, want %q", got, "abcdef")
	}
}

func TestColons(t *testing.T) {
	var digest Digest
	digest[0] = 0xab
	digest[1] = 0x01
	colons := digest.Colons()
	if !strings.HasPrefix(colons, "AB:01:00") {
		t.Errorf("Colons() = %q", colons)
	}
	if strings.Count(colons, ":") != 31 {
		t.Errorf("Colons() has %d separators, want 31", strings.Count(colons, ":"))
	}
}

func TestTextRoundTrip(t *testing.T) {
	digest := Sum([]byte("cert"))
	text, err := digest.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var decoded Digest
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != digest {
		t.Errorf("round trip = %s, want %s", decoded, digest)
	}
}

func TestCertificatesPEM(t *testing.T) {
	first := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("one")})
	key := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("skip")})
	second := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("two")})

	certificates, err := Certificates(append(append(first, key...), second...))
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certificates) != 2 || string(certificates[0]) != "one" || string(certificates[1]) != "two" {
		t.Errorf("Certificates = %q", certificates)
	}
}

func TestCertificatesRawDER(t *testing.T) {
	certificates, err := Certificates([]byte{0x30, 0x82, 0x01})
	if err != nil {
		t.Fatalf("Certificates: %v", err)
	}
	if len(certificates) != 1 {
		t.Fatalf("got %d certificates, want 1", len(certificates))
	}
}

func TestCertificatesRejectsPEMWithoutCertificate(t *testing.T) {
	key := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("skip")})
	if _, err := Certificates(key); err == nil {
		t.Fatal("expected error for PEM without CERTIFICATE block")
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("der-bytes")})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	digests, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if len(digests) != 1 || digests[0] != Sum([]byte("der-bytes")) {
		t.Errorf("File = %v", digests)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "absent.pem")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
