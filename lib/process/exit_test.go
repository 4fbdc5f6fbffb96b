// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type codedError struct{ code int }

func (e *codedError) Error() string { return fmt.Sprintf("exit %d", e.code) }
func (e *codedError) ExitCode() int { return e.code }

func TestReport(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		output string
	}{
		{"nil", nil, 0, ""},
		{"plain", errors.New("no such provider"), 1, "error: no such provider\n"},
		{"coded", &codedError{code: 3}, 3, ""},
		{"wrapped coded", fmt.Errorf("send: %w", &codedError{code: 2}), 2, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := Report(&stderr, test.err); code != test.code {
				t.Errorf("code = %d, want %d", code, test.code)
			}
			if stderr.String() != test.output {
				t.Errorf("output = %q, want %q", stderr.String(), test.output)
			}
		})
	}
}
