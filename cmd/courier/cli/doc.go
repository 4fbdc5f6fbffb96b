// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the courier
// binary.
//
// A [Command] tree is dispatched by [Command.Execute]: the first
// positional argument selects a subcommand, flags are parsed with a
// per-command pflag set, and unknown commands or flags get a "did you
// mean" suggestion when one is within a few edits. Help output lists
// subcommands, flags and examples.
//
// Output helpers render tables with lipgloss, emit --json output, and
// build the per-invocation slog logger ([NewCommandLogger]).
package cli
