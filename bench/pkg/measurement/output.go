// Copyright 2018 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package measurement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// output style
const (
	OutputStylePlain = "plain"
	OutputStyleTable = "table"
	OutputStyleJson  = "json"
)

// Render writes headers and values in the given style. The first column of
// every line names it.
func Render(w io.Writer, style string, headers []string, values [][]string) error {
	switch style {
	case OutputStylePlain:
		RenderString(w, "%-6s - %s\n", headers, values)
	case OutputStyleTable:
		RenderTable(w, headers, values)
	case OutputStyleJson:
		return RenderJson(w, headers, values)
	default:
		return errors.Errorf("unsupported output style %q", style)
	}
	return nil
}

// RenderString renders headers and values according to the format provided
func RenderString(w io.Writer, format string, headers []string, values [][]string) {
	if len(values) == 0 {
		return
	}

	buf := new(bytes.Buffer)
	for _, value := range values {
		args := make([]string, len(headers)-1)
		for i, header := range headers[1:] {
			args[i] = header + ": " + value[i+1]
		}
		buf.WriteString(fmt.Sprintf(format, value[0], strings.Join(args, ", ")))
	}
	fmt.Fprint(w, buf.String())
}

// RenderTable will use given headers and values to render a table style output
func RenderTable(w io.Writer, headers []string, values [][]string) {
	if len(values) == 0 {
		return
	}
	tb := tablewriter.NewWriter(w)
	tb.SetHeader(headers)
	tb.AppendBulk(values)
	tb.Render()
}

// RenderJson combines the headers and values into a json array of objects.
func RenderJson(w io.Writer, headers []string, values [][]string) error {
	if len(values) == 0 {
		return nil
	}
	data := make([]map[string]string, 0, len(values))
	for _, value := range values {
		line := make(map[string]string, len(headers))
		for i, header := range headers {
			line[header] = value[i]
		}
		data = append(data, line)
	}
	outStr, err := json.Marshal(data)
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = fmt.Fprintln(w, string(outStr))
	return errors.WithStack(err)
}
