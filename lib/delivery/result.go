// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package delivery

import "fmt"

// Kind is the closed set of delivery outcomes.
type Kind int

const (
	// Success means the remote accepted the delivery (status 0).
	Success Kind = iota + 1

	// ProviderDisabled means delivery was turned off at submit time.
	ProviderDisabled

	// NoProviderSelected means no destination was configured.
	NoProviderSelected

	// NotTrusted means the destination failed signer verification,
	// or its signing information could not be read.
	NotTrusted

	// BindFailed means the transport refused to connect.
	BindFailed

	// RemoteUnavailable means the connection was lost before the
	// request's result arrived.
	RemoteUnavailable

	// RemoteCallFailed means the call itself failed locally.
	RemoteCallFailed

	// RemoteReportedFailure means the remote returned a non-zero
	// status; Result.RemoteStatus holds it.
	RemoteReportedFailure

	// Released means the client was released while the request was
	// queued or in flight.
	Released
)

var kindNames = map[Kind]string{
	Success:               "success",
	ProviderDisabled:      "provider_disabled",
	NoProviderSelected:    "no_provider_selected",
	NotTrusted:            "not_trusted",
	BindFailed:            "bind_failed",
	RemoteUnavailable:     "remote_unavailable",
	RemoteCallFailed:      "remote_call_failed",
	RemoteReportedFailure: "remote_reported_failure",
	Released:              "released",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result is the outcome of one submission.
type Result struct {
	// RequestID identifies the submission in logs.
	RequestID string

	Kind Kind

	// RemoteStatus is the status the remote returned. Non-zero only
	// for RemoteReportedFailure.
	RemoteStatus int
}

// OK reports whether the delivery succeeded.
func (r Result) OK() bool {
	return r.Kind == Success
}

// Actionable reports whether the user can fix the failure by changing
// settings: turning delivery on, choosing a destination, or trusting
// the destination's signer.
func (r Result) Actionable() bool {
	switch r.Kind {
	case ProviderDisabled, NoProviderSelected, NotTrusted:
		return true
	}
	return false
}

// Guidance is a short user-facing hint for actionable failures, and a
// generic failure notice for the rest. Empty on success.
func (r Result) Guidance() string {
	switch r.Kind {
	case Success:
		return ""
	case ProviderDisabled:
		return "Credential delivery is turned off. Enable it and select a provider."
	case NoProviderSelected:
		return "No provider is selected. Choose one of the installed providers."
	case NotTrusted:
		return "The selected provider is not trusted. Add its signing fingerprint to the allow-list, or choose another provider."
	}
	return "The credential could not be delivered."
}

func (r Result) String() string {
	if r.Kind == RemoteReportedFailure {
		return fmt.Sprintf("%s (status %d)", r.Kind, r.RemoteStatus)
	}
	return r.Kind.String()
}

// statusResult maps a remote status to a Result.
func statusResult(status int) Result {
	if status == 0 {
		return Result{Kind: Success}
	}
	return Result{Kind: RemoteReportedFailure, RemoteStatus: status}
}
