// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery hands credentials to one selected helper service
// over an inter-process transport.
//
// A [Client] accepts credentials from any goroutine with
// [Client.Submit] and reports the outcome of each submission through a
// [Continuation]. Three guarantees hold regardless of timing:
//
//   - No secret is sent to a destination before it has passed the
//     trust check (when verification is enabled).
//   - Requests submitted while no connection is up are queued and sent,
//     in submission order, once the connection is established.
//   - Every submission resolves exactly once, with a [Result], and
//     every continuation runs on the client's single [Executor].
//
// The [Broker] owns the one connection. Its states are Idle, Connecting
// and Connected; a connection attempt reads the trust policy fresh,
// runs the verifier, and only then asks the [Transport] to connect.
// Failures never surface as Go errors or panics: a rejected destination
// resolves the queue with [NotTrusted], a refused connection with
// [BindFailed], a lost connection with [RemoteUnavailable], and
// [Client.Release] with [Released].
//
// The package does not time anything out on its own. [Client.SubmitWait]
// lets a caller stop waiting after a deadline; the delivery itself still
// resolves later, and nobody is listening.
//
// Credential material travels in [secret.Buffer] values. The client
// takes ownership at Submit and closes them once the request is
// finished with them: after the remote call returns, or when a request
// that was never sent is resolved.
package delivery
