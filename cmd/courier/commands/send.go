// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/credcourier/courier/cmd/courier/cli"
	"github.com/credcourier/courier/lib/delivery"
	"github.com/credcourier/courier/lib/secret"
	"github.com/credcourier/courier/lib/transport"
)

type sendParams struct {
	common
	cli.JSONOutput
	username   string
	secretFile string
	otpFile    string
	noSecret   bool
	mode       string
	title      string
	entryID    string
	timeout    time.Duration
}

// sendOutput is the --json form of a send result.
type sendOutput struct {
	RequestID    string `json:"request_id"`
	Result       string `json:"result"`
	RemoteStatus int    `json:"remote_status,omitempty"`
	Guidance     string `json:"guidance,omitempty"`
}

func sendCommand(streams IO) *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Deliver a credential to the selected provider",
		Description: "Deliver a credential to the selected provider and wait for the result.\n\n" +
			"The secret is read from --secret-file (\"-\" for stdin), or prompted for\n" +
			"without echo when stdin is a terminal. The command exits non-zero when\n" +
			"the delivery does not succeed.",
		Usage: "courier send [--username NAME] [--secret-file PATH|-] [--otp-file PATH] [flags]",
		Examples: []cli.Example{
			{Description: "Prompt for a password and deliver it", Command: "courier send --username alice"},
			{Description: "Deliver a one-time code only", Command: "courier send --no-secret --otp-file /run/user/1000/otp"},
		},
		Flags: flags("send", &params.common, func(flagSet *pflag.FlagSet) {
			flagSet.StringVarP(&params.username, "username", "u", "", "user name to deliver")
			flagSet.StringVar(&params.secretFile, "secret-file", "", "read the secret from a file, - for stdin")
			flagSet.StringVar(&params.otpFile, "otp-file", "", "read a one-time code from a file")
			flagSet.BoolVar(&params.noSecret, "no-secret", false, "do not send a secret")
			flagSet.StringVar(&params.mode, "mode", "", "delivery mode: pass, user, otp, userpass (default: inferred)")
			flagSet.StringVar(&params.title, "title", "", "entry title shown by the provider")
			flagSet.StringVar(&params.entryID, "entry-id", "", "entry identifier shown by the provider")
			flagSet.DurationVar(&params.timeout, "timeout", 0, "how long to wait for the result (default: delivery.wait_timeout)")
			flagSet.BoolVar(&params.JSONOutput.Enabled, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			if err := requireArgs(args, 0, 0, "courier send [flags]"); err != nil {
				return err
			}
			return runSend(streams, &params)
		},
	}
}

func runSend(streams IO, params *sendParams) error {
	env, err := params.load(streams, "send")
	if err != nil {
		return err
	}

	credential, err := readCredential(streams, params)
	if err != nil {
		return err
	}

	socketTransport, err := transport.NewSocketTransport(transport.Config{
		Resolver: env.registry,
		Logger:   env.logger,
	})
	if err != nil {
		closeCredential(credential)
		return err
	}

	wait := params.timeout
	if wait <= 0 {
		wait = env.config.WaitTimeoutDuration()
	}
	client, err := delivery.New(delivery.Config{
		Transport:   socketTransport,
		Policy:      env.store,
		Verifier:    env.verifier,
		WaitTimeout: wait,
		Logger:      env.logger,
	})
	if err != nil {
		closeCredential(credential)
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := client.SubmitWait(ctx, credential, env.store)
	if err != nil {
		if errors.Is(err, delivery.ErrWaitTimeout) {
			return fmt.Errorf("no result from the provider within %s", wait)
		}
		return err
	}

	if done, err := params.Emit(streams.Stdout, sendOutput{
		RequestID:    result.RequestID,
		Result:       result.Kind.String(),
		RemoteStatus: result.RemoteStatus,
		Guidance:     result.Guidance(),
	}); done {
		if err != nil {
			return err
		}
		if !result.OK() {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}

	if result.OK() {
		fmt.Fprintln(streams.Stdout, cli.GoodStyle.Render("delivered"))
		return nil
	}
	fmt.Fprintf(streams.Stdout, "%s: %s\n", cli.BadStyle.Render("not delivered"), result)
	fmt.Fprintln(streams.Stdout, result.Guidance())
	return &cli.ExitError{Code: 1}
}

// readCredential assembles the credential from flags, files and the
// terminal. On error nothing is left open.
func readCredential(streams IO, params *sendParams) (delivery.Credential, error) {
	credential := delivery.Credential{
		Mode:       delivery.Mode(params.mode),
		Username:   params.username,
		EntryTitle: params.title,
		EntryID:    params.entryID,
	}

	if !params.noSecret {
		buffer, err := readSecret(streams, params.secretFile)
		if err != nil {
			return delivery.Credential{}, err
		}
		credential.Secret = buffer
	}

	if params.otpFile != "" {
		buffer, err := secret.ReadFromPath(params.otpFile)
		if err != nil {
			closeCredential(credential)
			return delivery.Credential{}, fmt.Errorf("reading one-time code: %w", err)
		}
		credential.OTP = buffer
	}

	if credential.Secret == nil && credential.OTP == nil && credential.Username == "" {
		return delivery.Credential{}, errors.New("nothing to send: give a secret, a one-time code, or a user name")
	}
	return credential, nil
}

// readSecret reads the secret from path, stdin, or a no-echo prompt.
func readSecret(streams IO, path string) (*secret.Buffer, error) {
	switch {
	case path == "-":
		return secret.ReadLine(streams.Stdin)
	case path != "":
		buffer, err := secret.ReadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("reading secret: %w", err)
		}
		return buffer, nil
	}

	file, ok := streams.Stdin.(*os.File)
	if !ok || !term.IsTerminal(int(file.Fd())) {
		return secret.ReadLine(streams.Stdin)
	}

	fmt.Fprint(streams.Stderr, "Secret: ")
	data, err := term.ReadPassword(int(file.Fd()))
	fmt.Fprintln(streams.Stderr)
	if err != nil {
		secret.Zero(data)
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("secret is empty")
	}
	return secret.NewFromBytes(data)
}

func closeCredential(credential delivery.Credential) {
	if credential.Secret != nil {
		credential.Secret.Close()
	}
	if credential.OTP != nil {
		credential.OTP.Close()
	}
}
