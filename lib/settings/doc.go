// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings holds the user's delivery choices: whether delivery
// is enabled, which destination is selected, whether destinations are
// verified, and the fingerprint allow-list.
//
// A [Store] loads and updates a [Settings] value. [FileStore] keeps it
// in a YAML document that is re-read on every query, so a change made
// by another process (the CLI while a client runs) is seen on the next
// delivery. Writes go to a temporary file that is renamed into place,
// mode 0600. [MemoryStore] is the in-process equivalent.
//
// Both stores answer the two questions a delivery client asks at call
// time: Selection (is delivery on, and where to) and TrustPolicy (how
// to verify the destination). Neither answer is cached.
//
// The editing helpers keep the settings consistent the way a settings
// screen would: [Select] turns delivery on, [Disable] also clears the
// selection, and [Prune] forgets a selection whose destination is no
// longer installed.
package settings
