// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"errors"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/trust"
)

// ErrConnectionLost is wrapped by Transport.Call errors caused by the
// connection going away. Such calls resolve RemoteUnavailable rather
// than RemoteCallFailed.
var ErrConnectionLost = errors.New("connection lost")

// Handle is a transport's live connection. The broker only passes it
// back to the transport that returned it.
type Handle any

// Transport is the inter-process substrate.
type Transport interface {
	// Connect establishes a connection to dest. onDisconnect is
	// called at most once, from any goroutine, when the connection
	// ends for a reason other than Disconnect. It may be called
	// before Connect returns. ctx is cancelled when the attempt is
	// abandoned.
	Connect(ctx context.Context, dest destination.ID, onDisconnect func(error)) (Handle, error)

	// Call performs one remote operation and returns its status.
	// Calls on one handle may overlap. Call returns once ctx is
	// cancelled or the connection ends; a status that arrived before
	// the end is returned rather than the error.
	Call(ctx context.Context, handle Handle, payload Payload) (int, error)

	// Disconnect closes the connection. Idempotent.
	Disconnect(handle Handle) error
}

// Verifier decides whether a destination may receive credentials.
// *trust.Verifier implements it.
type Verifier interface {
	Verify(dest destination.ID, policy trust.Policy) bool
}

// PolicySource supplies the trust policy, read fresh on every
// connection attempt.
type PolicySource interface {
	TrustPolicy() (trust.Policy, error)
}

// Selector supplies the delivery selection, read fresh on every
// submission.
type Selector interface {
	Selection() (destination.Selection, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func() (destination.Selection, error)

// Selection calls f.
func (f SelectorFunc) Selection() (destination.Selection, error) {
	return f()
}

// PolicyFunc adapts a function to PolicySource.
type PolicyFunc func() (trust.Policy, error)

// TrustPolicy calls f.
func (f PolicyFunc) TrustPolicy() (trust.Policy, error) {
	return f()
}
