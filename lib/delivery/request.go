// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/secret"
)

// Mode tells the remote what to do with the credential. Tags other
// than the ones below are passed through unchanged.
type Mode string

const (
	ModePassword Mode = "pass"
	ModeUsername Mode = "user"
	ModeOTP      Mode = "otp"
	ModeUserPass Mode = "userpass"
)

// Credential is what a caller submits. The client takes ownership of
// Secret and OTP and closes them.
type Credential struct {
	// Mode is the delivery mode. Empty means InferMode.
	Mode Mode

	Username string
	Secret   *secret.Buffer
	OTP      *secret.Buffer

	// EntryTitle and EntryID describe the password-manager entry the
	// credential came from, for display by the remote.
	EntryTitle string
	EntryID    string
}

// InferMode picks a mode from the fields that are set: username and
// secret together are userpass, otherwise the one field present wins,
// the secret first.
func (c Credential) InferMode() Mode {
	hasSecret := c.Secret != nil && c.Secret.Len() > 0
	switch {
	case c.Username != "" && hasSecret:
		return ModeUserPass
	case hasSecret:
		return ModePassword
	case c.OTP != nil:
		return ModeOTP
	case c.Username != "":
		return ModeUsername
	}
	return ModePassword
}

// Payload is what one remote call carries. The byte slices point into
// the request's secret buffers and are only valid during Call.
type Payload struct {
	RequestID  string
	Mode       Mode
	Username   string
	Secret     []byte
	OTP        []byte
	EntryTitle string
	EntryID    string
}

// Continuation receives the result of one submission.
type Continuation interface {
	Complete(Result)
}

// ContinuationFunc adapts a function to Continuation.
type ContinuationFunc func(Result)

// Complete calls f.
func (f ContinuationFunc) Complete(result Result) {
	f(result)
}

var requestSequence atomic.Uint64

// Request is one submission travelling through the queue and the
// broker.
type Request struct {
	id         string
	sequence   uint64
	target     destination.ID
	credential Credential

	continuation Continuation

	// resolved is set by the first resolution; later ones are
	// ignored.
	resolved atomic.Bool

	// dispatched is set under the broker lock just before the remote
	// call. From then on the dispatcher, not the resolver, closes the
	// secret buffers.
	dispatched atomic.Bool
}

func newRequest(credential Credential, continuation Continuation) *Request {
	if credential.Mode == "" {
		credential.Mode = credential.InferMode()
	}
	return &Request{
		id:           uuid.NewString(),
		sequence:     requestSequence.Add(1),
		credential:   credential,
		continuation: continuation,
	}
}

// ID returns the request identifier.
func (r *Request) ID() string {
	return r.id
}

// Mode returns the delivery mode.
func (r *Request) Mode() Mode {
	return r.credential.Mode
}

// LogValue identifies the request in logs without its credential.
func (r *Request) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.id),
		slog.String("mode", string(r.credential.Mode)),
	)
}

// payload borrows the secret bytes. Call only while the buffers are
// open, which the dispatched flag guarantees.
func (r *Request) payload() Payload {
	payload := Payload{
		RequestID:  r.id,
		Mode:       r.credential.Mode,
		Username:   r.credential.Username,
		EntryTitle: r.credential.EntryTitle,
		EntryID:    r.credential.EntryID,
	}
	if r.credential.Secret != nil {
		payload.Secret = r.credential.Secret.Bytes()
	}
	if r.credential.OTP != nil {
		payload.OTP = r.credential.OTP.Bytes()
	}
	return payload
}

// closeSecrets zeroes and releases the credential buffers.
func (r *Request) closeSecrets() {
	if r.credential.Secret != nil {
		r.credential.Secret.Close()
	}
	if r.credential.OTP != nil {
		r.credential.OTP.Close()
	}
}
