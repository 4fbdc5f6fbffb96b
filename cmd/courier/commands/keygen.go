// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/sealed"
)

func keygenCommand(streams IO) *cli.Command {
	var identityFile string
	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate a sealing keypair for a provider endpoint",
		Description: "Generate an age keypair for a provider endpoint that wants credentials\n" +
			"sealed in transit. The identity is written to --identity-file (mode 0600,\n" +
			"never overwritten); the recipient printed on stdout goes into the\n" +
			"endpoint's manifest entry as \"recipient\".",
		Usage: "courier keygen --identity-file PATH",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&identityFile, "identity-file", "", "where to write the identity (required)")
			return flagSet
		},
		Run: func(args []string) error {
			if identityFile == "" {
				return errors.New("--identity-file is required")
			}
			if err := requireArgs(args, 0, 0, "courier keygen --identity-file PATH"); err != nil {
				return err
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			file, err := os.OpenFile(identityFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("creating identity file: %w", err)
			}
			_, err = file.Write(keypair.Identity.Bytes())
			if err == nil {
				_, err = file.WriteString("\n")
			}
			if err != nil {
				file.Close()
				os.Remove(identityFile)
				return fmt.Errorf("writing identity file: %w", err)
			}
			if err := file.Close(); err != nil {
				os.Remove(identityFile)
				return fmt.Errorf("writing identity file: %w", err)
			}

			fmt.Fprintln(streams.Stdout, keypair.Recipient)
			return nil
		},
	}
}
