// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the courier YAML configuration file.
//
// The file is named by the COURIER_CONFIG environment variable ([Load])
// or a --config flag ([LoadFile]). There is no search path and no
// ~/.config discovery; [Resolve] falls back to [Default] only when
// neither is given. Environment variables never override values in the
// file.
//
// After loading, ${HOME}, ${COURIER_ROOT} and ${VAR:-default} patterns
// in path fields are expanded.
//
// The configuration covers where things live (the provider registry and
// the settings document), how the CLI logs, and how long a one-shot
// delivery waits for its result. The mutable user choices (which
// provider, whether verification is on, the allow-list) are not here;
// they belong to lib/settings.
//
// This package depends on no other courier packages.
package config
