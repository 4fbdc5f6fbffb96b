// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/credcourier/courier/cmd/courier/commands"
	"github.com/credcourier/courier/lib/process"
)

func main() {
	process.Exit(run())
}

func run() error {
	return commands.Root(commands.StandardIO()).Execute(os.Args[1:])
}
