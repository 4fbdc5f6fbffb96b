// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/fingerprint"
	"github.com/credcourier/courier/lib/settings"
	"github.com/credcourier/courier/lib/trust"
)

func trustCommand(streams IO) *cli.Command {
	return &cli.Command{
		Name:    "trust",
		Summary: "Manage the signer allow-list",
		Description: "Manage the allow-list of signing-certificate fingerprints. A provider\n" +
			"receives credentials only when its signing certificate is listed here\n" +
			"(unless verification is off).",
		Subcommands: []*cli.Command{
			trustAddCommand(streams),
			trustRemoveCommand(streams),
			trustListCommand(streams),
			trustImportCommand(streams),
			trustCheckCommand(streams),
			trustSignersCommand(streams),
		},
	}
}

func trustAddCommand(streams IO) *cli.Command {
	var params struct {
		common
		provider string
	}
	return &cli.Command{
		Name:    "add",
		Summary: "Allow one or more signer fingerprints",
		Description: "Add SHA-256 certificate fingerprints to the allow-list. Fingerprints may\n" +
			"be given in hex, with or without colons. With --provider, the fingerprint\n" +
			"of the named application's primary signer is added instead.",
		Usage: "courier trust add <fingerprint>... | --provider <application>",
		Examples: []cli.Example{
			{Command: "courier trust add 3F:A1:...:9C"},
			{Description: "Trust what org.example.vault is signed with now", Command: "courier trust add --provider org.example.vault"},
		},
		Flags: flags("trust add", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.StringVar(&params.provider, "provider", "", "add the primary signer of this installed application")
		}),
		Run: func(args []string) error {
			if (params.provider == "") == (len(args) == 0) {
				return errors.New("usage: courier trust add <fingerprint>... | --provider <application>")
			}
			env, err := params.load(streams, "trust add")
			if err != nil {
				return err
			}

			entries := args
			if params.provider != "" {
				info, err := env.registry.SigningInfo(params.provider)
				if err != nil {
					return err
				}
				primary := trust.PrimarySigner(info)
				if primary == nil {
					return fmt.Errorf("application %s has no signing certificate", params.provider)
				}
				entries = []string{fingerprint.Sum(primary).String()}
			}

			added, err := settings.Allow(env.store, entries...)
			if err != nil {
				return err
			}
			env.logger.Info("allow-list updated", "added", added)
			fmt.Fprintf(streams.Stdout, "Added %d fingerprint(s); %d already listed\n", added, len(entries)-added)
			return nil
		},
	}
}

func trustRemoveCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:    "remove",
		Summary: "Remove a signer fingerprint",
		Usage:   "courier trust remove <fingerprint> [flags]",
		Flags:   flags("trust remove", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "courier trust remove <fingerprint>"); err != nil {
				return err
			}
			env, err := params.load(streams, "trust remove")
			if err != nil {
				return err
			}
			removed, err := settings.Revoke(env.store, args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not on the allow-list", args[0])
			}
			env.logger.Info("allow-list updated", "removed", fingerprint.Normalize(args[0]))
			fmt.Fprintln(streams.Stdout, "Removed")
			return nil
		},
	}
}

func trustListCommand(streams IO) *cli.Command {
	var params struct {
		common
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List allowed signer fingerprints",
		Flags: flags("trust list", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&params.JSONOutput.Enabled, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier trust list [flags]"); err != nil {
				return err
			}
			env, err := params.load(streams, "trust list")
			if err != nil {
				return err
			}
			current, err := env.store.Load()
			if err != nil {
				return err
			}
			if done, err := params.Emit(streams.Stdout, current.Allowed); done {
				return err
			}
			if len(current.Allowed) == 0 {
				fmt.Fprintln(streams.Stdout, "The allow-list is empty")
				return nil
			}
			for _, entry := range current.Allowed {
				digest, err := fingerprint.Parse(entry)
				if err != nil {
					return err
				}
				fmt.Fprintln(streams.Stdout, digest.Colons())
			}
			return nil
		},
	}
}

func trustImportCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:    "import",
		Summary: "Add fingerprints from a JSON allow-list file",
		Description: "Add every fingerprint in a JSON file to the allow-list. The file is either\n" +
			"an array of fingerprints or an object with an \"allowed\" array; comments\n" +
			"and trailing commas are accepted.",
		Usage: "courier trust import <file> [flags]",
		Flags: flags("trust import", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "courier trust import <file>"); err != nil {
				return err
			}
			env, err := params.load(streams, "trust import")
			if err != nil {
				return err
			}
			added, err := settings.ImportAllowList(env.store, args[0])
			if err != nil {
				return err
			}
			env.logger.Info("allow-list imported", "path", args[0], "added", added)
			fmt.Fprintf(streams.Stdout, "Added %d fingerprint(s)\n", added)
			return nil
		},
	}
}

// checkOutput is the --json form of "trust check".
type checkOutput struct {
	Destination  string   `json:"destination"`
	Verify       bool     `json:"verify"`
	Trusted      bool     `json:"trusted"`
	Fingerprints []string `json:"fingerprints"`
	Matched      string   `json:"matched,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

func trustCheckCommand(streams IO) *cli.Command {
	var params struct {
		common
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "check",
		Summary: "Check whether a provider would be trusted",
		Description: "Run the signer check against a provider endpoint (the selected one by\n" +
			"default) and show the compared fingerprints. Nothing is delivered.",
		Usage: "courier trust check [<application>/<endpoint>] [flags]",
		Flags: flags("trust check", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&params.JSONOutput.Enabled, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 1, "courier trust check [<application>/<endpoint>]"); err != nil {
				return err
			}
			env, err := params.load(streams, "trust check")
			if err != nil {
				return err
			}
			current, err := env.store.Load()
			if err != nil {
				return err
			}

			dest := current.Destination
			if len(args) == 1 {
				if dest, err = destination.Parse(args[0]); err != nil {
					return err
				}
			}
			if dest.IsZero() {
				return errors.New("no provider is selected; name one: courier trust check <application>/<endpoint>")
			}

			policy := current.Policy()
			decision := env.verifier.Check(dest, policy)
			output := checkOutput{
				Destination:  dest.String(),
				Verify:       policy.Enabled,
				Trusted:      decision.Trusted,
				Fingerprints: make([]string, 0, len(decision.Compared)),
				Reason:       decision.Reason,
			}
			for _, digest := range decision.Compared {
				output.Fingerprints = append(output.Fingerprints, digest.String())
			}
			if decision.Trusted {
				output.Matched = decision.Matched.String()
			}
			if done, err := params.Emit(streams.Stdout, output); done {
				return err
			}

			verdict := cli.GoodStyle.Render("trusted")
			if !decision.Trusted {
				verdict = cli.BadStyle.Render("not trusted") + ": " + decision.Reason
			}
			fmt.Fprintf(streams.Stdout, "%s: %s\n", dest, verdict)
			for _, digest := range decision.Compared {
				fmt.Fprintf(streams.Stdout, "  %s\n", digest.Colons())
			}
			if !policy.Enabled {
				fmt.Fprintln(streams.Stdout, cli.DimStyle.Render("Verification is off; deliveries do not wait for this check."))
			}
			return nil
		},
	}
}

func trustSignersCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:    "signers",
		Summary: "Choose which signers are compared: primary or any",
		Description: "Choose which of a provider's certificates the check compares.\n\n" +
			"  primary  the first current signer, or the original certificate of a\n" +
			"           rotated signing key (default)\n" +
			"  any      every current signer and every certificate in the rotation\n" +
			"           history",
		Usage: "courier trust signers primary|any [flags]",
		Flags: flags("trust signers", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "courier trust signers primary|any"); err != nil {
				return err
			}
			selection := trust.Selection(args[0])
			env, err := params.load(streams, "trust signers")
			if err != nil {
				return err
			}
			if err := settings.SetSignerSelection(env.store, selection); err != nil {
				return err
			}
			fmt.Fprintf(streams.Stdout, "Comparing %s signers\n", selection)
			return nil
		},
	}
}
