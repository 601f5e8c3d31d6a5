// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const commentMarker = '#'

// Table is a parsed coordinate table. Cells are kept as trimmed text, rows are
// padded to the header width.
type Table struct {
	Header []string
	Rows   [][]string
}

// ParseTable reads comma separated text with a header line. Text after a
// comment marker outside quotes is dropped and blank lines are skipped.
func ParseTable(text string) (*Table, error) {
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = stripComment(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no columns to parse from text")
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	table := &Table{Header: trimAll(records[0])}
	for i, record := range records[1:] {
		if len(record) > len(table.Header) {
			return nil, fmt.Errorf("expected %d fields in line %d, saw %d", len(table.Header), i+2, len(record))
		}
		row := make([]string, len(table.Header))
		copy(row, trimAll(record))
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func stripComment(line string) string {
	quoted := false
	for i, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == commentMarker && !quoted:
			return line[:i]
		}
	}
	return line
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func (t *Table) HasColumn(name string) bool {
	return t.columnIndex(name) >= 0
}

func (t *Table) columnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns the cells of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.columnIndex(name)
	if idx < 0 {
		return nil, false
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, true
}

// CSV writes the table back as comma separated text with a header line.
func (t *Table) CSV() string {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write(t.Header)
	_ = w.WriteAll(t.Rows)
	return buf.String()
}

// parseNumber parses a cell, blank and "nan" cells are NaN.
func parseNumber(cell string) (float64, bool) {
	if cell == "" {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func countNonBlank(values []string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
