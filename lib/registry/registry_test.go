// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/sealed"
	"github.com/credcourier/courier/lib/testutil"
)

func install(t *testing.T, root, application, manifest string) string {
	t.Helper()
	directory := filepath.Join(root, application)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(directory, manifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return directory
}

func writeCertificate(t *testing.T, directory, subdirectory, name string, der []byte) {
	t.Helper()
	path := filepath.Join(directory, subdirectory)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, name), testutil.CertificatePEM(der), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverSortsByLowercaseLabel(t *testing.T) {
	root := t.TempDir()
	install(t, root, "org.example.zeta", "label: zeta Keys\nendpoints:\n  - {name: fill, socket: fill.sock}\n")
	install(t, root, "org.example.alpha", "label: Alpha\nendpoints:\n  - {name: fill, socket: fill.sock}\n")
	install(t, root, "com.unlabeled", "endpoints:\n  - {name: fill, socket: fill.sock}\n")
	// A directory without a manifest is not an installed provider.
	if err := os.MkdirAll(filepath.Join(root, "leftover"), 0o755); err != nil {
		t.Fatal(err)
	}

	providers, err := New(root).Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	var labels []string
	for _, provider := range providers {
		labels = append(labels, provider.Label)
	}
	want := []string{"Alpha", "com.unlabeled", "zeta Keys"}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	for index := range want {
		if labels[index] != want[index] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	providers, err := New(filepath.Join(t.TempDir(), "absent")).Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(providers) != 0 {
		t.Errorf("expected no providers, got %d", len(providers))
	}
}

func TestDiscoverMalformedManifest(t *testing.T) {
	root := t.TempDir()
	install(t, root, "org.example.broken", "endpoints: [unclosed")
	if _, err := New(root).Discover(); err == nil {
		t.Fatal("expected error for malformed manifest")
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	defer keypair.Close()

	directory := install(t, root, "org.example.vault", `label: Example Vault
endpoints:
  - name: fill
    label: Autofill
    socket: run/fill.sock
    recipient: `+keypair.Recipient+`
  - name: type
    socket: /run/typer.sock
`)
	registry := New(root)

	endpoint, err := registry.Resolve(destination.ID{Application: "org.example.vault", Endpoint: "fill"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if endpoint.Socket != filepath.Join(directory, "run", "fill.sock") {
		t.Errorf("Socket = %s, want relative path resolved against %s", endpoint.Socket, directory)
	}
	if endpoint.Label != "Example Vault: Autofill" {
		t.Errorf("Label = %q", endpoint.Label)
	}
	if endpoint.Recipient != keypair.Recipient {
		t.Errorf("Recipient = %q", endpoint.Recipient)
	}

	typer, err := registry.Resolve(destination.ID{Application: "org.example.vault", Endpoint: "type"})
	if err != nil {
		t.Fatalf("Resolve(type): %v", err)
	}
	if typer.Socket != "/run/typer.sock" || typer.Label != "Example Vault" {
		t.Errorf("type endpoint = %+v", typer)
	}
}

func TestResolveNotInstalled(t *testing.T) {
	root := t.TempDir()
	install(t, root, "org.example.vault", "endpoints:\n  - {name: fill, socket: fill.sock}\n")
	registry := New(root)

	for _, dest := range []destination.ID{
		{Application: "org.example.absent", Endpoint: "fill"},
		{Application: "org.example.vault", Endpoint: "absent"},
	} {
		_, err := registry.Resolve(dest)
		if !errors.Is(err, ErrNotInstalled) {
			t.Errorf("Resolve(%s) = %v, want ErrNotInstalled", dest, err)
		}
		var notInstalled *NotInstalledError
		if !errors.As(err, &notInstalled) || notInstalled.Application != dest.Application {
			t.Errorf("Resolve(%s) error %v is not a NotInstalledError for the application", dest, err)
		}
		if registry.Installed(dest) {
			t.Errorf("Installed(%s) = true", dest)
		}
	}
	if !registry.Installed(destination.ID{Application: "org.example.vault", Endpoint: "fill"}) {
		t.Error("Installed(vault/fill) = false")
	}
}

func TestManifestValidation(t *testing.T) {
	tests := map[string]string{
		"duplicate endpoint": "endpoints:\n  - {name: a, socket: a.sock}\n  - {name: a, socket: b.sock}\n",
		"missing socket":     "endpoints:\n  - {name: a}\n",
		"bad endpoint name":  "endpoints:\n  - {name: 'a/b', socket: a.sock}\n",
		"bad recipient":      "endpoints:\n  - {name: a, socket: a.sock, recipient: age1nope}\n",
	}
	for name, manifest := range tests {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			install(t, root, "org.example.vault", manifest)
			if _, err := New(root).Lookup("org.example.vault"); err == nil {
				t.Fatal("expected manifest error")
			}
		})
	}
}

func TestLookupRejectsTraversal(t *testing.T) {
	registry := New(t.TempDir())
	for _, application := range []string{"", ".", "..", "../etc", "a/b"} {
		if _, err := registry.Lookup(application); err == nil {
			t.Errorf("Lookup(%q): expected error", application)
		}
		if _, err := registry.SigningInfo(application); err == nil {
			t.Errorf("SigningInfo(%q): expected error", application)
		}
	}
}

func TestSigningInfo(t *testing.T) {
	root := t.TempDir()
	directory := install(t, root, "org.example.vault", "endpoints:\n  - {name: fill, socket: fill.sock}\n")

	current := testutil.SigningCertificate(t, "current")
	original := testutil.SigningCertificate(t, "original")
	writeCertificate(t, directory, "signers", "a.pem", current)
	writeCertificate(t, directory, "history", "0-original.pem", original)
	writeCertificate(t, directory, "history", "1-current.pem", current)

	info, err := New(root).SigningInfo("org.example.vault")
	if err != nil {
		t.Fatalf("SigningInfo: %v", err)
	}
	if len(info.Signers) != 1 || !bytes.Equal(info.Signers[0], current) {
		t.Errorf("Signers = %d certificates, want the current one", len(info.Signers))
	}
	if len(info.History) != 2 || !bytes.Equal(info.History[0], original) || !bytes.Equal(info.History[1], current) {
		t.Errorf("History is not in lexical file order")
	}
}

func TestSigningInfoNotInstalled(t *testing.T) {
	_, err := New(t.TempDir()).SigningInfo("org.example.absent")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("SigningInfo = %v, want ErrNotInstalled", err)
	}
}

func TestSigningInfoCorruptCertificate(t *testing.T) {
	root := t.TempDir()
	directory := install(t, root, "org.example.vault", "endpoints: []\n")
	if err := os.MkdirAll(filepath.Join(directory, "signers"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(directory, "signers", "bad.pem"), []byte("-----BEGIN NOTHING-----\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(root).SigningInfo("org.example.vault"); err == nil {
		t.Fatal("expected error for corrupt certificate file")
	}
}
