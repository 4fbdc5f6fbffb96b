// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for courier packages.
//
// [RequireReceive], [RequireNoReceive] and [RequireClosed] wrap the
// select-with-timeout pattern so tests never block forever on a
// channel. They are the only place in the test suite that uses real
// wall-clock timeouts; everything else runs on a fake clock.
//
// [SocketDir] returns a short directory under /tmp for unix sockets,
// whose paths are limited to 108 bytes.
package testutil
