// Copyright 2026 The Courier Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)

	// GoodStyle and BadStyle color one-word verdicts in text output.
	GoodStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	BadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	DimStyle  = lipgloss.NewStyle().Faint(true)
)

// Table renders rows under headers as a bordered table.
func Table(w io.Writer, headers []string, rows [][]string) error {
	rendered := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(DimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, rendered.Render())
	return err
}

// JSONOutput adds --json support to a command. Register binds the
// flag; Emit writes the value when the flag is set.
type JSONOutput struct {
	Enabled bool
}

// Emit writes value as indented JSON to w if --json was given and
// reports whether it did. Nil slices are written as [].
func (j *JSONOutput) Emit(w io.Writer, value any) (bool, error) {
	if !j.Enabled {
		return false, nil
	}
	return true, WriteJSON(w, normalizeNilSlice(value))
}

// WriteJSON writes value as indented JSON.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
