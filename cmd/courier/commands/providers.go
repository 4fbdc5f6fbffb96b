// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/destination"
	"github.com/credcourier/courier/lib/settings"
)

// providerEntry is one row of "courier providers".
type providerEntry struct {
	Destination string `json:"destination"`
	Label       string `json:"label"`
	Socket      string `json:"socket"`
	Sealed      bool   `json:"sealed"`
	Selected    bool   `json:"selected"`
}

func providersCommand(streams IO) *cli.Command {
	var params struct {
		common
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "providers",
		Summary: "List installed providers and their endpoints",
		Description: "List the providers installed in the registry, sorted by label. A saved\n" +
			"selection that is no longer installed is cleared.",
		Flags: flags("providers", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&params.JSONOutput.Enabled, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier providers [flags]"); err != nil {
				return err
			}
			env, err := params.load(streams, "providers")
			if err != nil {
				return err
			}

			pruned, err := settings.Prune(env.store, env.registry.Installed)
			if err != nil {
				return err
			}
			if pruned {
				env.logger.Info("cleared selection of a provider that is no longer installed")
			}

			current, err := env.store.Load()
			if err != nil {
				return err
			}
			providers, err := env.registry.Discover()
			if err != nil {
				return err
			}

			var entries []providerEntry
			for _, provider := range providers {
				for _, endpoint := range provider.Endpoints {
					entries = append(entries, providerEntry{
						Destination: endpoint.ID.String(),
						Label:       endpoint.Label,
						Socket:      endpoint.Socket,
						Sealed:      endpoint.Recipient != "",
						Selected:    endpoint.ID == current.Destination,
					})
				}
			}

			if done, err := params.Emit(streams.Stdout, entries); done {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(streams.Stdout, "No providers installed in %s\n", env.registry.Root())
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				marker := ""
				if entry.Selected {
					marker = "*"
				}
				sealed := ""
				if entry.Sealed {
					sealed = "yes"
				}
				rows = append(rows, []string{marker, entry.Destination, entry.Label, sealed})
			}
			return cli.Table(streams.Stdout, []string{"", "DESTINATION", "LABEL", "SEALED"}, rows)
		},
	}
}

func selectCommand(streams IO) *cli.Command {
	var params common
	return &cli.Command{
		Name:        "select",
		Summary:     "Select the provider endpoint to deliver to",
		Description: "Select an installed provider endpoint. Selecting also turns delivery on.",
		Usage:       "courier select <application>/<endpoint> [flags]",
		Examples: []cli.Example{
			{Command: "courier select org.example.vault/fill"},
		},
		Flags: flags("select", &params, nil),
		Run: func(args []string) error {
			if err := requireArgs(args, 1, 1, "courier select <application>/<endpoint>"); err != nil {
				return err
			}
			dest, err := destination.Parse(args[0])
			if err != nil {
				return err
			}
			env, err := params.load(streams, "select")
			if err != nil {
				return err
			}
			endpoint, err := env.registry.Resolve(dest)
			if err != nil {
				return err
			}
			if err := settings.Select(env.store, dest); err != nil {
				return err
			}
			env.logger.Info("destination selected", "destination", dest)
			fmt.Fprintf(streams.Stdout, "Selected %s (%s); delivery is on\n", dest, endpoint.Label)
			return nil
		},
	}
}
