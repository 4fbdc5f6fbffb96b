// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package trust

import (
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"

	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/fingerprint"
)

// Selection chooses which signing certificates are compared against
// the allow-list.
type Selection string

const (
	// SelectPrimary compares one certificate: the first current signer
	// when the application has several, otherwise the original
	// certificate of its rotation lineage.
	SelectPrimary Selection = "primary"

	// SelectAny accepts the destination when any current or historical
	// signer is allow-listed.
	SelectAny Selection = "any"
)

// Validate reports whether s is a known selection. The empty string
// means SelectPrimary.
func (s Selection) Validate() error {
	switch s {
	case "", SelectPrimary, SelectAny:
		return nil
	}
	return fmt.Errorf("unknown signer selection %q (want %q or %q)", s, SelectPrimary, SelectAny)
}

// Policy is the verification configuration at one moment.
type Policy struct {
	// Enabled turns verification on. When false the caller skips
	// Verify entirely.
	Enabled bool

	// Allowed holds fingerprints in any form fingerprint.Normalize
	// accepts.
	Allowed []string

	// Selection picks the compared certificates. Empty means
	// SelectPrimary.
	Selection Selection
}

// SigningInfo describes how an installed application is signed. Both
// lists hold DER-encoded X.509 certificates.
type SigningInfo struct {
	// Signers are the certificates the application is currently
	// signed with, in the order the source reports them.
	Signers [][]byte

	// History is the rotation lineage, original certificate first.
	History [][]byte
}

// SignerSource reports signing information for installed applications.
type SignerSource interface {
	SigningInfo(application string) (SigningInfo, error)
}

// Decision is the outcome of one check, for callers that want to
// show why a destination was or was not trusted.
type Decision struct {
	Trusted bool

	// Compared lists the fingerprints that were checked against the
	// allow-list.
	Compared []fingerprint.Digest

	// Matched is the allow-listed fingerprint, when Trusted.
	Matched fingerprint.Digest

	// Reason explains a negative decision.
	Reason string
}

// Verifier checks destinations against a Policy.
type Verifier struct {
	source SignerSource
	logger *slog.Logger
}

// NewVerifier returns a Verifier reading signing information from
// source. A nil logger discards audit output.
func NewVerifier(source SignerSource, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Verifier{source: source, logger: logger}
}

// Verify reports whether dest may receive credentials under policy.
func (v *Verifier) Verify(dest destination.ID, policy Policy) bool {
	return v.Check(dest, policy).Trusted
}

// Check is Verify with the reasoning attached.
func (v *Verifier) Check(dest destination.ID, policy Policy) Decision {
	decision := v.decide(dest, policy)

	attributes := []any{
		"destination", dest,
		"trusted", decision.Trusted,
	}
	if len(decision.Compared) > 0 {
		attributes = append(attributes, "fingerprints", fingerprintStrings(decision.Compared))
	}
	if decision.Trusted {
		v.logger.Info("destination trusted", attributes...)
	} else {
		attributes = append(attributes, "reason", decision.Reason)
		v.logger.Warn("destination not trusted", attributes...)
	}
	return decision
}

func (v *Verifier) decide(dest destination.ID, policy Policy) Decision {
	if err := policy.Selection.Validate(); err != nil {
		return Decision{Reason: err.Error()}
	}
	allowed := normalizedSet(policy.Allowed)
	if len(allowed) == 0 {
		return Decision{Reason: "allow-list is empty"}
	}
	if v.source == nil {
		return Decision{Reason: "no signer source"}
	}

	info, err := v.source.SigningInfo(dest.Application)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("reading signing info: %v", err)}
	}

	var candidates [][]byte
	if policy.Selection == SelectAny {
		candidates = append(append(candidates, info.Signers...), info.History...)
	} else if primary := PrimarySigner(info); primary != nil {
		candidates = [][]byte{primary}
	}
	if len(candidates) == 0 {
		return Decision{Reason: "application has no signing certificate"}
	}

	decision := Decision{}
	for _, der := range candidates {
		if _, err := x509.ParseCertificate(der); err != nil {
			return Decision{Reason: fmt.Sprintf("signing certificate does not parse: %v", err)}
		}
		digest := fingerprint.Sum(der)
		decision.Compared = append(decision.Compared, digest)
		if !decision.Trusted && allowed[digest.String()] {
			decision.Trusted = true
			decision.Matched = digest
		}
	}
	if !decision.Trusted {
		decision.Reason = "no signing certificate is allow-listed"
	}
	return decision
}

// PrimarySigner picks the certificate SelectPrimary compares: the
// first current signer when there are several, else the original
// certificate of the rotation lineage, else the single current
// signer. Nil when there is none.
func PrimarySigner(info SigningInfo) []byte {
	switch {
	case len(info.Signers) > 1:
		return info.Signers[0]
	case len(info.History) > 0:
		return info.History[0]
	case len(info.Signers) == 1:
		return info.Signers[0]
	}
	return nil
}

func normalizedSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if normalized := fingerprint.Normalize(entry); normalized != "" {
			set[normalized] = true
		}
	}
	return set
}

func fingerprintStrings(digests []fingerprint.Digest) []string {
	out := make([]string, len(digests))
	for index, digest := range digests {
		out[index] = digest.String()
	}
	return out
}
