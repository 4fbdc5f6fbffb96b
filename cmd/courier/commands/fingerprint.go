// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/fingerprint"
)

// fingerprintEntry is one certificate of "courier fingerprint".
type fingerprintEntry struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
}

func fingerprintCommand(streams IO) *cli.Command {
	var output cli.JSONOutput
	return &cli.Command{
		Name:    "fingerprint",
		Summary: "Print SHA-256 fingerprints of certificate files",
		Description: "Print the SHA-256 fingerprint of every certificate in the given PEM or\n" +
			"DER files, in the colon form used by the allow-list.",
		Usage: "courier fingerprint <certificate-file>... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fingerprint", pflag.ContinueOnError)
			flagSet.BoolVar(&output.Enabled, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if err := requireArgs(args, 1, -1, "courier fingerprint <certificate-file>..."); err != nil {
				return err
			}
			var entries []fingerprintEntry
			for _, path := range args {
				digests, err := fingerprint.File(path)
				if err != nil {
					return err
				}
				for _, digest := range digests {
					entries = append(entries, fingerprintEntry{Path: path, Fingerprint: digest.String()})
				}
			}

			if done, err := output.Emit(streams.Stdout, entries); done {
				return err
			}
			for _, entry := range entries {
				digest, err := fingerprint.Parse(entry.Fingerprint)
				if err != nil {
					return err
				}
				if len(args) > 1 {
					fmt.Fprintf(streams.Stdout, "%s  %s\n", digest.Colons(), entry.Path)
				} else {
					fmt.Fprintln(streams.Stdout, digest.Colons())
				}
			}
			return nil
		},
	}
}
