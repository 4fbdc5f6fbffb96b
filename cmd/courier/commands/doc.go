// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the courier command tree.
//
// Every command that reads settings accepts --config and --log-level.
// Configuration comes from the --config file, else the file named by
// $COURIER_CONFIG, else built-in defaults under the user config
// directory. Commands build their collaborators (registry, settings
// store, trust verifier, socket transport) from that configuration on
// each invocation; nothing is cached between runs.
package commands
