// SPDX-FileCopyrightText: Copyright (c) The msaprobe Authors
//
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/librarymarket/msaprobe"
)

// renderEncryption writes the encryption dump in the requested format.
func renderEncryption(w io.Writer, format string, fields []msaprobe.FieldValue) error {
	rows := make([][2]string, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, [2]string{f.Name, f.Value})
	}
	switch format {
	case "console":
		renderTable(w, [2]string{"Field", "Value"}, rows)
		return nil
	case "csv":
		return renderCSV(w, [2]string{"Field", "Value"}, rows)
	case "json":
		obj := make(map[string]string, len(fields))
		for _, f := range fields {
			obj[f.Name] = f.Value
		}
		return renderJSON(w, obj)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// renderExtensions writes the extension dump in the requested format.
func renderExtensions(w io.Writer, format string, listings []msaprobe.ExtensionListing) error {
	rows := make([][2]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, [2]string{l.Keyword, strings.Join(l.Params, " ")})
	}
	switch format {
	case "console":
		renderTable(w, [2]string{"Name", "Value"}, rows)
		return nil
	case "csv":
		return renderCSV(w, [2]string{"Name", "Value"}, rows)
	case "json":
		obj := make(map[string][]string, len(listings))
		for _, l := range listings {
			params := l.Params
			if params == nil {
				params = []string{}
			}
			obj[l.Keyword] = params
		}
		return renderJSON(w, obj)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// renderTable writes a framed two-column console table.
func renderTable(w io.Writer, header [2]string, rows [][2]string) {
	widths := [2]int{len(header[0]), len(header[1])}
	for _, row := range rows {
		for i := 0; i < 2; i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}
	frame := fmt.Sprintf("+-%s-+-%s-+",
		strings.Repeat("-", widths[0]), strings.Repeat("-", widths[1]))
	line := func(row [2]string) {
		fmt.Fprintf(w, "| %-*s | %-*s |\n", widths[0], row[0], widths[1], row[1])
	}
	fmt.Fprintln(w, frame)
	line(header)
	fmt.Fprintln(w, frame)
	for _, row := range rows {
		line(row)
	}
	fmt.Fprintln(w, frame)
}

// renderCSV writes two-column rows with the given header.
func renderCSV(w io.Writer, header [2]string, rows [][2]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header[:]); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(row[:]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// renderJSON writes the raw structure as indented JSON.
func renderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
