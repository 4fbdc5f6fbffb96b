// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry reads the directory of installed helper
// applications.
//
// Each application lives in its own subdirectory of the registry root:
//
//	<root>/<application>/manifest.yaml
//	<root>/<application>/signers/*.pem    current signers, lexical order
//	<root>/<application>/history/*.pem    rotation lineage, oldest first by name
//
// The manifest gives a display label and the application's endpoints:
//
//	label: Example Vault
//	endpoints:
//	  - name: fill
//	    label: Autofill
//	    socket: run/fill.sock
//	    recipient: age1...
//
// Relative socket paths resolve against the application directory. A
// recipient, when present, asks clients to seal secret fields to that
// age key.
//
// The registry is read from disk on every call; installing or removing
// an application takes effect immediately. [Registry] implements
// trust.SignerSource.
package registry
