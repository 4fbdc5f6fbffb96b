// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/config"
	"github.com/credcourier/courier/lib/registry"
	"github.com/credcourier/courier/lib/settings"
	"github.com/credcourier/courier/lib/trust"
)

// IO is where commands read and write. Tests substitute buffers.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// StandardIO returns the process's own streams.
func StandardIO() IO {
	return IO{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Root builds the courier command tree.
func Root(streams IO) *cli.Command {
	return &cli.Command{
		Name:    "courier",
		Summary: "Deliver credentials to trusted helper services",
		Description: "courier hands a credential (password, user name, one-time code) to the\n" +
			"helper service selected in its settings, after checking the helper's\n" +
			"signing certificate against the allow-list.",
		Help: streams.Stderr,
		Subcommands: []*cli.Command{
			sendCommand(streams),
			providersCommand(streams),
			selectCommand(streams),
			enableCommand(streams),
			disableCommand(streams),
			verifyCommand(streams),
			trustCommand(streams),
			fingerprintCommand(streams),
			statusCommand(streams),
			keygenCommand(streams),
			versionCommand(streams),
		},
	}
}

// common holds the flags every command that touches configuration
// accepts.
type common struct {
	configPath string
	logLevel   string
}

func (c *common) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&c.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

// environment is what a command works with once configuration is
// resolved.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	store    *settings.FileStore
	verifier *trust.Verifier
}

// load resolves configuration and builds the collaborators.
func (c *common) load(streams IO, command string) (*environment, error) {
	cfg, err := config.Resolve(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cli.NewCommandLogger(streams.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logger = logger.With("command", command)

	reg := registry.New(cfg.Paths.Registry)
	return &environment{
		config:   cfg,
		logger:   logger,
		registry: reg,
		store:    settings.NewFileStore(cfg.Paths.Settings),
		verifier: trust.NewVerifier(reg, logger),
	}, nil
}

// flags returns a Flags function for a command with the common flags
// plus whatever extra registers.
func flags(name string, c *common, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		c.register(flagSet)
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

// requireArgs checks the positional argument count.
func requireArgs(args []string, minimum, maximum int, usage string) error {
	if len(args) < minimum || (maximum >= 0 && len(args) > maximum) {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}
