// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed encrypts credential fields to a helper endpoint's age
// recipient so they cross the socket as ciphertext.
//
// An endpoint that wants sealed deliveries publishes an age x25519
// recipient ("age1...") in its registry manifest and keeps the matching
// identity ("AGE-SECRET-KEY-1...") in a [secret.Buffer]. The client
// calls [Seal] with the recipient; the endpoint calls [Open] with the
// identity and receives the plaintext in a fresh buffer.
//
// Sealing is in addition to the trust check, not instead of it: a
// recipient string comes from the same registry the signer
// certificates do.
package sealed
