// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint helper: main calls
// run() and hands the error to [Exit].
package process
