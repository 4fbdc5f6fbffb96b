// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credential material (passwords, one-time codes,
// age identities) outside the Go heap.
//
// A [Buffer] is an anonymous mmap region, excluded from core dumps and,
// where the process is allowed to, locked into RAM. Close zeroes and
// unmaps it. Because the garbage collector never sees the region it
// cannot copy the secret around behind our back.
//
// Buffers redact themselves in fmt and log/slog output. The only ways
// to read the plaintext are [Buffer.Bytes] and [Buffer.String], and
// both panic after Close.
//
// Depends on golang.org/x/sys/unix.
package secret
