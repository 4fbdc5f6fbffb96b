// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers shared by the socket client and
// server.
package netutil
