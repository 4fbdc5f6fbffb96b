// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/fingerprint"
	"github.com/credcourier/courier/lib/sealed"
	"github.com/credcourier/courier/lib/trust"
)

const manifestName = "manifest.yaml"

// ErrNotInstalled is wrapped by every error about an application or
// endpoint that is not in the registry.
var ErrNotInstalled = errors.New("not installed")

// NotInstalledError names what was missing.
type NotInstalledError struct {
	Application string
	Endpoint    string
}

func (e *NotInstalledError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("application %q is not installed", e.Application)
	}
	return fmt.Sprintf("endpoint %q of application %q is not installed", e.Endpoint, e.Application)
}

// Unwrap lets errors.Is match ErrNotInstalled.
func (e *NotInstalledError) Unwrap() error { return ErrNotInstalled }

// Manifest is the parsed manifest.yaml.
type Manifest struct {
	Label     string             `yaml:"label"`
	Endpoints []ManifestEndpoint `yaml:"endpoints"`
}

// ManifestEndpoint is one endpoint entry of a manifest.
type ManifestEndpoint struct {
	Name      string `yaml:"name"`
	Label     string `yaml:"label"`
	Socket    string `yaml:"socket"`
	Recipient string `yaml:"recipient,omitempty"`
}

// Endpoint is a resolved, deliverable destination.
type Endpoint struct {
	ID destination.ID

	// Label is the display name: "<application label>: <endpoint
	// label>" when the endpoint has a label of its own.
	Label string

	// Socket is the absolute unix socket path.
	Socket string

	// Recipient is the age recipient to seal secret fields to, or "".
	Recipient string
}

// Provider is an installed application offering one or more
// endpoints.
type Provider struct {
	Application string
	Label       string
	Endpoints   []Endpoint
}

// Registry reads a registry directory.
type Registry struct {
	root string
}

// New returns a Registry rooted at root. The directory need not exist
// yet; an absent root is an empty registry.
func New(root string) *Registry {
	return &Registry{root: root}
}

// Root returns the registry directory.
func (r *Registry) Root() string {
	return r.root
}

// Discover lists every installed provider, sorted by lowercase label.
// Applications with no label sort by their name. Subdirectories that
// have no manifest are skipped; a manifest that does not parse is an
// error, since silently hiding a provider the user installed is worse.
func (r *Registry) Discover() ([]Provider, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", r.root, err)
	}

	var providers []Provider
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		provider, err := r.load(entry.Name())
		if errors.Is(err, ErrNotInstalled) {
			continue
		}
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}

	slices.SortStableFunc(providers, func(a, b Provider) int {
		return strings.Compare(strings.ToLower(a.Label), strings.ToLower(b.Label))
	})
	return providers, nil
}

// Lookup returns one provider.
func (r *Registry) Lookup(application string) (Provider, error) {
	if err := validApplication(application); err != nil {
		return Provider{}, err
	}
	return r.load(application)
}

// Resolve returns the endpoint dest names.
func (r *Registry) Resolve(dest destination.ID) (Endpoint, error) {
	provider, err := r.Lookup(dest.Application)
	if err != nil {
		return Endpoint{}, err
	}
	for _, endpoint := range provider.Endpoints {
		if endpoint.ID == dest {
			return endpoint, nil
		}
	}
	return Endpoint{}, &NotInstalledError{Application: dest.Application, Endpoint: dest.Endpoint}
}

// Installed reports whether dest resolves. Unreadable manifests count
// as not installed.
func (r *Registry) Installed(dest destination.ID) bool {
	_, err := r.Resolve(dest)
	return err == nil
}

// SigningInfo reads the application's signer and history certificates.
func (r *Registry) SigningInfo(application string) (trust.SigningInfo, error) {
	if err := validApplication(application); err != nil {
		return trust.SigningInfo{}, err
	}
	directory := filepath.Join(r.root, application)
	if _, err := os.Stat(filepath.Join(directory, manifestName)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return trust.SigningInfo{}, &NotInstalledError{Application: application}
		}
		return trust.SigningInfo{}, fmt.Errorf("reading application %s: %w", application, err)
	}

	signers, err := readCertificates(filepath.Join(directory, "signers"))
	if err != nil {
		return trust.SigningInfo{}, err
	}
	history, err := readCertificates(filepath.Join(directory, "history"))
	if err != nil {
		return trust.SigningInfo{}, err
	}
	return trust.SigningInfo{Signers: signers, History: history}, nil
}

func (r *Registry) load(application string) (Provider, error) {
	directory := filepath.Join(r.root, application)
	manifestPath := filepath.Join(directory, manifestName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Provider{}, &NotInstalledError{Application: application}
		}
		return Provider{}, fmt.Errorf("reading manifest %s: %w", manifestPath, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Provider{}, fmt.Errorf("parsing manifest %s: %w", manifestPath, err)
	}

	provider := Provider{
		Application: application,
		Label:       strings.TrimSpace(manifest.Label),
	}
	if provider.Label == "" {
		provider.Label = application
	}

	seen := make(map[string]bool, len(manifest.Endpoints))
	for index, entry := range manifest.Endpoints {
		id, err := destination.New(application, entry.Name)
		if err != nil {
			return Provider{}, fmt.Errorf("manifest %s endpoint %d: %w", manifestPath, index, err)
		}
		if seen[entry.Name] {
			return Provider{}, fmt.Errorf("manifest %s: duplicate endpoint %q", manifestPath, entry.Name)
		}
		seen[entry.Name] = true

		if entry.Socket == "" {
			return Provider{}, fmt.Errorf("manifest %s: endpoint %q has no socket", manifestPath, entry.Name)
		}
		socket := entry.Socket
		if !filepath.IsAbs(socket) {
			socket = filepath.Join(directory, socket)
		}

		if entry.Recipient != "" {
			if err := sealed.ParseRecipient(entry.Recipient); err != nil {
				return Provider{}, fmt.Errorf("manifest %s: endpoint %q: %w", manifestPath, entry.Name, err)
			}
		}

		label := provider.Label
		if entry.Label != "" {
			label = provider.Label + ": " + entry.Label
		}
		provider.Endpoints = append(provider.Endpoints, Endpoint{
			ID:        id,
			Label:     label,
			Socket:    socket,
			Recipient: entry.Recipient,
		})
	}
	return provider, nil
}

// readCertificates returns every certificate in the *.pem files of
// directory, files in lexical order. A missing directory yields none.
func readCertificates(directory string) ([][]byte, error) {
	paths, err := filepath.Glob(filepath.Join(directory, "*.pem"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", directory, err)
	}
	slices.Sort(paths)

	var certificates [][]byte
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading certificate %s: %w", path, err)
		}
		found, err := fingerprint.Certificates(data)
		if err != nil {
			return nil, fmt.Errorf("reading certificate %s: %w", path, err)
		}
		certificates = append(certificates, found...)
	}
	return certificates, nil
}

func validApplication(application string) error {
	if application == "" || application == "." || strings.Contains(application, "..") ||
		strings.ContainsRune(application, filepath.Separator) {
		return fmt.Errorf("invalid application name %q", application)
	}
	return nil
}
