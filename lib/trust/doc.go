// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package trust decides whether a helper destination may receive
// credentials.
//
// The decision is an allow-list check on signing certificates. The
// destination's application is looked up through a [SignerSource],
// which reports the DER certificates it is currently signed with and
// its rotation history. One certificate (or, under [SelectAny], every
// certificate) is fingerprinted with SHA-256 and compared against the
// policy's allow-list.
//
// [Verifier.Verify] fails closed. Anything it cannot establish (the
// application is not installed, the signing information is unreadable
// or empty, a certificate does not parse, the allow-list is empty)
// yields false. Nothing is cached: the caller asks again on every
// connection attempt, so revoking an entry takes effect on the next
// connection.
//
// Each decision is logged at info level with the destination, the
// fingerprint that was compared and the verdict. No secret ever passes
// through this package.
package trust
