// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit code
// and have already been reported to the user.
type exitCoder interface {
	ExitCode() int
}

// Code returns the exit code for err: 0 for nil, the error's own code
// when it carries one, 1 otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Report writes "error: err" to w unless err carries its own exit
// code, and returns the code to exit with.
func Report(w io.Writer, err error) int {
	code := Code(err)
	var coder exitCoder
	if err != nil && !errors.As(err, &coder) {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return code
}

// Exit is the entrypoint error handler for main: it reports err on
// stderr and exits with its code. A nil err returns normally.
func Exit(err error) {
	if err == nil {
		return
	}
	os.Exit(Report(os.Stderr, err))
}
