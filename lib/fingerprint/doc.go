// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes and parses signing-certificate
// fingerprints.
//
// A fingerprint is the SHA-256 digest of a certificate's DER encoding.
// Its canonical text form is 64 lowercase hex characters with no
// separators; that is the form stored in allow-lists and written to
// audit logs. [Parse] and [Normalize] also accept the uppercase,
// colon-separated form that certificate tooling prints, so operators
// can paste either.
//
// This package has no dependencies on other courier packages.
package fingerprint
