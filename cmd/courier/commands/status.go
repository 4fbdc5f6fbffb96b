// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/settings"
)

// statusOutput is the --json form of "courier status".
type statusOutput struct {
	Enabled         bool   `json:"enabled"`
	Destination     string `json:"destination,omitempty"`
	Label           string `json:"label,omitempty"`
	Verify          bool   `json:"verify"`
	SignerSelection string `json:"signer_selection"`
	Allowed         int    `json:"allowed"`
	Trusted         *bool  `json:"trusted,omitempty"`
	Registry        string `json:"registry"`
	Settings        string `json:"settings"`
}

func statusCommand(streams IO) *cli.Command {
	var params struct {
		common
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "status",
		Summary: "Show delivery settings and whether the selection is trusted",
		Flags: flags("status", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&params.JSONOutput.Enabled, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier status [flags]"); err != nil {
				return err
			}
			env, err := params.load(streams, "status")
			if err != nil {
				return err
			}
			if _, err := settings.Prune(env.store, env.registry.Installed); err != nil {
				return err
			}
			current, err := env.store.Load()
			if err != nil {
				return err
			}

			output := statusOutput{
				Enabled:         current.Enabled,
				Verify:          current.Verify,
				SignerSelection: string(current.Policy().Selection),
				Allowed:         len(current.Allowed),
				Registry:        env.config.Paths.Registry,
				Settings:        env.store.Path(),
			}
			if output.SignerSelection == "" {
				output.SignerSelection = "primary"
			}
			if !current.Destination.IsZero() {
				output.Destination = current.Destination.String()
				if endpoint, err := env.registry.Resolve(current.Destination); err == nil {
					output.Label = endpoint.Label
				}
				if current.Verify {
					trusted := env.verifier.Check(current.Destination, current.Policy()).Trusted
					output.Trusted = &trusted
				}
			}

			if done, err := params.Emit(streams.Stdout, output); done {
				return err
			}

			onOff := func(on bool) string {
				if on {
					return cli.GoodStyle.Render("on")
				}
				return cli.BadStyle.Render("off")
			}
			selected := cli.DimStyle.Render("none")
			if output.Destination != "" {
				selected = output.Destination
				if output.Label != "" {
					selected += " (" + output.Label + ")"
				}
			}
			rows := [][]string{
				{"delivery", onOff(output.Enabled)},
				{"provider", selected},
				{"verification", onOff(output.Verify)},
				{"signers compared", output.SignerSelection},
				{"allowed fingerprints", fmt.Sprint(output.Allowed)},
			}
			if output.Trusted != nil {
				verdict := cli.GoodStyle.Render("trusted")
				if !*output.Trusted {
					verdict = cli.BadStyle.Render("not trusted")
				}
				rows = append(rows, []string{"provider signer", verdict})
			}
			rows = append(rows,
				[]string{"registry", output.Registry},
				[]string{"settings", output.Settings},
			)
			return cli.Table(streams.Stdout, []string{"SETTING", "VALUE"}, rows)
		},
	}
}
