// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/trust"
)

// document is the on-disk form. Verify is a pointer so an absent key
// means the default (on).
type document struct {
	Enabled         bool            `yaml:"enabled"`
	Destination     destination.ID  `yaml:"destination,omitempty"`
	Verify          *bool           `yaml:"verify,omitempty"`
	Allowed         []string        `yaml:"allowed,omitempty"`
	SignerSelection trust.Selection `yaml:"signer_selection,omitempty"`
}

func (d document) settings() Settings {
	s := Default()
	s.Enabled = d.Enabled
	s.Destination = d.Destination
	if d.Verify != nil {
		s.Verify = *d.Verify
	}
	s.Allowed = d.Allowed
	if d.SignerSelection != "" {
		s.SignerSelection = d.SignerSelection
	}
	return s
}

func documentOf(s Settings) document {
	verify := s.Verify
	return document{
		Enabled:         s.Enabled,
		Destination:     s.Destination,
		Verify:          &verify,
		Allowed:         s.Allowed,
		SignerSelection: s.SignerSelection,
	}
}

// FileStore keeps settings in a YAML file.
type FileStore struct {
	path string

	// mu serializes Update within this process. Concurrent writers in
	// other processes are last-writer-wins.
	mu sync.Mutex
}

// NewFileStore returns a store backed by path. A missing file reads as
// Default; it is created on the first Update.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the file.
func (f *FileStore) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, fmt.Errorf("reading settings %s: %w", f.path, err)
	}

	var decoded document
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return Settings{}, fmt.Errorf("parsing settings %s: %w", f.path, err)
	}
	settings := decoded.settings()
	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", f.path, err)
	}
	return settings, nil
}

// Update reads, changes and atomically rewrites the file.
func (f *FileStore) Update(change func(*Settings) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.Load()
	if err != nil {
		return err
	}
	if err := change(&current); err != nil {
		return err
	}
	if err := current.Validate(); err != nil {
		return err
	}
	return f.write(current)
}

// Selection reports the delivery selection, read fresh.
func (f *FileStore) Selection() (destination.Selection, error) {
	settings, err := f.Load()
	if err != nil {
		return destination.Selection{}, err
	}
	return settings.Selection(), nil
}

// TrustPolicy reports the verification policy, read fresh.
func (f *FileStore) TrustPolicy() (trust.Policy, error) {
	settings, err := f.Load()
	if err != nil {
		return trust.Policy{}, err
	}
	return settings.Policy(), nil
}

// write replaces the file: temporary file, sync, rename, then sync the
// parent directory so the rename survives a crash.
func (f *FileStore) write(settings Settings) error {
	data, err := yaml.Marshal(documentOf(settings))
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}

	directory := filepath.Dir(f.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	temporaryPath := f.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary settings file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary settings file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary settings file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary settings file: %w", err)
	}
	if err := os.Rename(temporaryPath, f.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming settings file into place: %w", err)
	}

	parent, err := os.Open(directory)
	if err != nil {
		return fmt.Errorf("opening settings directory for sync: %w", err)
	}
	defer parent.Close()
	if err := parent.Sync(); err != nil {
		return fmt.Errorf("syncing settings directory: %w", err)
	}
	return nil
}

// MemoryStore keeps settings in memory.
type MemoryStore struct {
	mu       sync.Mutex
	settings Settings
}

// NewMemoryStore returns a store holding initial.
func NewMemoryStore(initial Settings) *MemoryStore {
	return &MemoryStore{settings: initial}
}

// Load returns a copy of the current settings.
func (m *MemoryStore) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked(), nil
}

// Update applies change under the store's lock.
func (m *MemoryStore) Update(change func(*Settings) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.copyLocked()
	if err := change(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.settings = next
	return nil
}

// Selection reports the delivery selection.
func (m *MemoryStore) Selection() (destination.Selection, error) {
	settings, _ := m.Load()
	return settings.Selection(), nil
}

// TrustPolicy reports the verification policy.
func (m *MemoryStore) TrustPolicy() (trust.Policy, error) {
	settings, _ := m.Load()
	return settings.Policy(), nil
}

func (m *MemoryStore) copyLocked() Settings {
	copied := m.settings
	copied.Allowed = slices.Clone(m.settings.Allowed)
	return copied
}
