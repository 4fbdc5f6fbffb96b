// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package destination names the helper services credentials can be
// delivered to.
//
// An [ID] pairs the installed application that provides the helper
// with the endpoint inside that application. Two IDs are the same
// destination exactly when both parts are equal, so IDs compare with
// == and work as map keys. The text form is "application/endpoint".
package destination

import (
	"errors"
	"fmt"
	"strings"
)

// ID identifies one helper endpoint. The zero ID means "no
// destination".
type ID struct {
	Application string
	Endpoint    string
}

// ErrInvalid is wrapped by Parse errors.
var ErrInvalid = errors.New("invalid destination")

// New validates and returns an ID.
func New(application, endpoint string) (ID, error) {
	id := ID{Application: application, Endpoint: endpoint}
	if err := id.Validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Parse reads the "application/endpoint" form. The application part
// may itself contain '/' (reverse-domain names never do, but paths
// might); the endpoint is everything after the last '/'.
func Parse(text string) (ID, error) {
	text = strings.TrimSpace(text)
	separator := strings.LastIndexByte(text, '/')
	if separator < 0 {
		return ID{}, fmt.Errorf("%w: %q has no '/' between application and endpoint", ErrInvalid, text)
	}
	return New(text[:separator], text[separator+1:])
}

// Validate reports whether both parts are present and well formed.
func (id ID) Validate() error {
	if id.Application == "" {
		return fmt.Errorf("%w: empty application", ErrInvalid)
	}
	if id.Endpoint == "" {
		return fmt.Errorf("%w: empty endpoint in %q", ErrInvalid, id.Application)
	}
	if strings.ContainsAny(id.Endpoint, "/ \t\n") {
		return fmt.Errorf("%w: endpoint %q contains '/' or whitespace", ErrInvalid, id.Endpoint)
	}
	if strings.ContainsAny(id.Application, " \t\n") || strings.Contains(id.Application, "..") {
		return fmt.Errorf("%w: application %q contains whitespace or '..'", ErrInvalid, id.Application)
	}
	return nil
}

// IsZero reports whether id names no destination.
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns "application/endpoint", or "" for the zero ID.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Application + "/" + id.Endpoint
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text
// decodes to the zero ID.
func (id *ID) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Selection is what the configuration says about delivery at one
// moment: whether the feature is on, and which destination (if any)
// the user picked.
type Selection struct {
	Enabled bool
	Target  ID
}
