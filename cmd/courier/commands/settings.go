// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/settings"
)

func enableCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:    "enable",
		Summary: "Turn credential delivery on",
		Flags:   flags("enable", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier enable [flags]"); err != nil {
				return err
			}
			env, err := params.load(streams, "enable")
			if err != nil {
				return err
			}
			if err := settings.Enable(env.store); err != nil {
				return err
			}
			current, err := env.store.Load()
			if err != nil {
				return err
			}
			fmt.Fprintln(streams.Stdout, "Delivery is on")
			if current.Destination.IsZero() {
				fmt.Fprintln(streams.Stdout, "No provider is selected; run 'courier select'")
			}
			return nil
		},
	}
}

func disableCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:        "disable",
		Summary:     "Turn credential delivery off",
		Description: "Turn credential delivery off. The provider selection is cleared.",
		Flags:       flags("disable", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier disable [flags]"); err != nil {
				return err
			}
			env, err := params.load(streams, "disable")
			if err != nil {
				return err
			}
			if err := settings.Disable(env.store); err != nil {
				return err
			}
			fmt.Fprintln(streams.Stdout, "Delivery is off")
			return nil
		},
	}
}

func verifyCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:    "verify",
		Summary: "Turn signer verification on or off",
		Description: "Turn verification of the provider's signing certificate on or off.\n" +
			"With verification off, credentials go to whichever provider is selected.",
		Usage: "courier verify on|off [flags]",
		Flags: flags("verify", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "courier verify on|off"); err != nil {
				return err
			}
			var verify bool
			switch args[0] {
			case "on":
				verify = true
			case "off":
			default:
				return fmt.Errorf("usage: courier verify on|off (got %q)", args[0])
			}

			env, err := params.load(streams, "verify")
			if err != nil {
				return err
			}
			if err := settings.SetVerify(env.store, verify); err != nil {
				return err
			}
			if verify {
				fmt.Fprintln(streams.Stdout, "Signer verification is on")
				return nil
			}
			env.logger.Warn("signer verification turned off")
			fmt.Fprintln(streams.Stdout, cli.BadStyle.Render("Signer verification is off"))
			return nil
		},
	}
}
