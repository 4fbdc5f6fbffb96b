// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the courier binary.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected with
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/credcourier/courier/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Without injection [Commit] falls back to the revision recorded by
// the Go toolchain, and "unknown" when there is none.
package version
