// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/fingerprint"
	"github.com/credcourier/courier/lib/trust"
)

// ErrNoDestination is returned by Settings.Target when nothing is
// selected.
var ErrNoDestination = errors.New("no destination selected")

// Settings is the user's delivery configuration.
type Settings struct {
	// Enabled turns credential delivery on.
	Enabled bool

	// Destination is the selected helper, or the zero ID.
	Destination destination.ID

	// Verify turns signer verification on. Defaults to true.
	Verify bool

	// Allowed is the fingerprint allow-list, canonical form.
	Allowed []string

	// SignerSelection picks which signers are compared.
	SignerSelection trust.Selection
}

// Default returns the settings of a fresh install: delivery off,
// nothing selected, verification on, empty allow-list.
func Default() Settings {
	return Settings{Verify: true, SignerSelection: trust.SelectPrimary}
}

// Target returns the selected destination or ErrNoDestination.
func (s Settings) Target() (destination.ID, error) {
	if s.Destination.IsZero() {
		return destination.ID{}, ErrNoDestination
	}
	return s.Destination, nil
}

// Selection returns the delivery selection these settings describe.
func (s Settings) Selection() destination.Selection {
	return destination.Selection{Enabled: s.Enabled, Target: s.Destination}
}

// Policy returns the trust policy these settings describe.
func (s Settings) Policy() trust.Policy {
	return trust.Policy{
		Enabled:   s.Verify,
		Allowed:   slices.Clone(s.Allowed),
		Selection: s.SignerSelection,
	}
}

// Validate checks field values a hand-edited document could get wrong.
func (s Settings) Validate() error {
	if !s.Destination.IsZero() {
		if err := s.Destination.Validate(); err != nil {
			return err
		}
	}
	for _, entry := range s.Allowed {
		if _, err := fingerprint.Parse(entry); err != nil {
			return fmt.Errorf("allow-list: %w", err)
		}
	}
	return s.SignerSelection.Validate()
}

// Store loads and updates settings.
type Store interface {
	// Load returns the current settings.
	Load() (Settings, error)

	// Update applies change to the current settings and saves the
	// result, unless change returns an error.
	Update(change func(*Settings) error) error
}

// Select makes dest the destination and turns delivery on.
func Select(store Store, dest destination.ID) error {
	if err := dest.Validate(); err != nil {
		return err
	}
	return store.Update(func(s *Settings) error {
		s.Destination = dest
		s.Enabled = true
		return nil
	})
}

// Enable turns delivery on without changing the selection.
func Enable(store Store) error {
	return store.Update(func(s *Settings) error {
		s.Enabled = true
		return nil
	})
}

// Disable turns delivery off and clears the selection.
func Disable(store Store) error {
	return store.Update(func(s *Settings) error {
		s.Enabled = false
		s.Destination = destination.ID{}
		return nil
	})
}

// SetVerify turns signer verification on or off.
func SetVerify(store Store, verify bool) error {
	return store.Update(func(s *Settings) error {
		s.Verify = verify
		return nil
	})
}

// SetSignerSelection changes which signers verification compares.
func SetSignerSelection(store Store, selection trust.Selection) error {
	if err := selection.Validate(); err != nil {
		return err
	}
	return store.Update(func(s *Settings) error {
		s.SignerSelection = selection
		return nil
	})
}

// Allow adds fingerprints to the allow-list in canonical form.
// Duplicates are ignored. Returns how many were new.
func Allow(store Store, entries ...string) (int, error) {
	digests := make([]string, 0, len(entries))
	for _, entry := range entries {
		digest, err := fingerprint.Parse(entry)
		if err != nil {
			return 0, err
		}
		digests = append(digests, digest.String())
	}

	added := 0
	err := store.Update(func(s *Settings) error {
		added = 0
		for _, digest := range digests {
			if !slices.Contains(s.Allowed, digest) {
				s.Allowed = append(s.Allowed, digest)
				added++
			}
		}
		return nil
	})
	return added, err
}

// Revoke removes a fingerprint from the allow-list. Reports whether it
// was present.
func Revoke(store Store, entry string) (bool, error) {
	digest, err := fingerprint.Parse(entry)
	if err != nil {
		return false, err
	}

	removed := false
	err = store.Update(func(s *Settings) error {
		before := len(s.Allowed)
		s.Allowed = slices.DeleteFunc(s.Allowed, func(existing string) bool {
			return fingerprint.Normalize(existing) == digest.String()
		})
		removed = len(s.Allowed) != before
		return nil
	})
	return removed, err
}

// Prune clears a selection whose destination is no longer installed.
// Delivery stays enabled; the client then reports that no destination
// is selected. Reports whether anything changed.
func Prune(store Store, installed func(destination.ID) bool) (bool, error) {
	pruned := false
	err := store.Update(func(s *Settings) error {
		pruned = false
		if !s.Destination.IsZero() && !installed(s.Destination) {
			s.Destination = destination.ID{}
			pruned = true
		}
		return nil
	})
	return pruned, err
}

// allowListFile is the object form of an allow-list import file.
type allowListFile struct {
	Allowed []string `json:"allowed"`
}

// ParseAllowList reads an allow-list from JSON with comments and
// trailing commas. Either a bare array of fingerprints or an object
// with an "allowed" array is accepted.
func ParseAllowList(data []byte) ([]string, error) {
	stripped := jsonc.ToJSON(data)

	var entries []string
	if err := json.Unmarshal(stripped, &entries); err != nil {
		var file allowListFile
		if objectErr := json.Unmarshal(stripped, &file); objectErr != nil {
			return nil, fmt.Errorf("parsing allow-list: %w", objectErr)
		}
		entries = file.Allowed
	}

	for _, entry := range entries {
		if _, err := fingerprint.Parse(entry); err != nil {
			return nil, fmt.Errorf("allow-list: %w", err)
		}
	}
	return entries, nil
}

// ImportAllowList adds every fingerprint in the JSONC file at path.
// Returns how many were new.
func ImportAllowList(store Store, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	entries, err := ParseAllowList(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return Allow(store, entries...)
}
