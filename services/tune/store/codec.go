// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/flagtune/services/tune/measure"
)

// Record encodings shared by all backends:
//
//	lines       one identifier per line
//	assignment  "<name> <value>" per line
//	floats      one sample per line, shortest round-trip form
//	results     CSV with a header row of configuration names

func encodeLines(items []string) []byte {
	var b bytes.Buffer
	for _, it := range items {
		b.WriteString(it)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func decodeLines(data []byte) []string {
	out := []string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func encodeAssignment(assignment []measure.Setting) []byte {
	lines := make([]string, len(assignment))
	for i, s := range assignment {
		lines[i] = s.String()
	}
	return encodeLines(lines)
}

func decodeAssignment(data []byte) ([]measure.Setting, error) {
	out := []measure.Setting{}
	for _, line := range decodeLines(data) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed assignment line %q", line)
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("assignment %s: %w", fields[0], err)
		}
		out = append(out, measure.Setting{Name: fields[0], Value: v})
	}
	return out, nil
}

func encodeFloats(samples []float64) []byte {
	lines := make([]string, len(samples))
	for i, v := range samples {
		lines[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return encodeLines(lines)
}

func decodeFloats(data []byte) ([]float64, error) {
	lines := decodeLines(data)
	out := make([]float64, len(lines))
	for i, line := range lines {
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// encodeResults writes one row per sample index. Shorter columns leave
// trailing cells empty.
func encodeResults(r Results) ([]byte, error) {
	if len(r.Columns) != len(r.Samples) {
		return nil, fmt.Errorf("results have %d columns but %d sample sets", len(r.Columns), len(r.Samples))
	}
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.Write(r.Columns); err != nil {
		return nil, err
	}
	rows := 0
	for _, s := range r.Samples {
		rows = max(rows, len(s))
	}
	for i := 0; i < rows; i++ {
		row := make([]string, len(r.Columns))
		for j, s := range r.Samples {
			if i < len(s) {
				row[j] = strconv.FormatFloat(s[i], 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return b.Bytes(), w.Error()
}

func decodeResults(data []byte) (Results, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return Results{}, fmt.Errorf("parse results: %w", err)
	}
	if len(records) == 0 {
		return Results{}, fmt.Errorf("results have no header")
	}
	r := Results{
		Columns: records[0],
		Samples: make([][]float64, len(records[0])),
	}
	for i := range r.Samples {
		r.Samples[i] = []float64{}
	}
	for _, row := range records[1:] {
		for j, cell := range row {
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return Results{}, fmt.Errorf("results column %s: %w", r.Columns[j], err)
			}
			r.Samples[j] = append(r.Samples[j], v)
		}
	}
	return r, nil
}
