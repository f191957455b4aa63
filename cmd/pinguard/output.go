// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"sigs.k8s.io/yaml"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// tabular is implemented by command results that render as a table.
type tabular interface {
	header() table.Row
	rows() []table.Row
}

// footered results add a summary footer to their table.
type footered interface {
	footer() table.Row
}

// encodeResult renders v in the requested format.
func encodeResult(output string, v tabular) ([]byte, error) {
	switch output {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case formatYAML:
		return yaml.Marshal(v)
	case formatTable, "":
		return encodeTable(v), nil
	default:
		return nil, fmt.Errorf("%w: unknown output format %q", ErrInvalidInput, output)
	}
}

func encodeTable(v tabular) []byte {
	var buf bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.AppendHeader(v.header())
	for _, row := range v.rows() {
		t.AppendRow(row)
	}
	if f, ok := v.(footered); ok {
		t.AppendFooter(f.footer())
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()
	return buf.Bytes()
}

// emit encodes v with the global --format and writes it out.
func emit(v tabular) error {
	data, err := encodeResult(format, v)
	if err != nil {
		return err
	}
	return writeOutput(data)
}
