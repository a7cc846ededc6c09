// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/flagtune/services/tune/measure"
	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/tuner"
)

// noHighlight disables row highlighting in renderTable.
const noHighlight = -2

// ReportTable renders the final comparison with one row per
// configuration. The best configuration is highlighted in rich mode.
func ReportTable(r *tuner.Report, mode Mode) string {
	headers := []string{"config", "mean", "score", "vs O2", "samples"}
	rows := make([][]string, 0, len(r.Entries))
	highlight := noHighlight
	best := r.Best()
	for i, e := range r.Entries {
		if e.Name == best {
			highlight = i
		}
		if e.Failed {
			rows = append(rows, []string{e.Name, "failed", "-", "-", "0"})
			continue
		}
		rows = append(rows, []string{
			e.Name,
			strconv.FormatFloat(e.Mean, 'f', 3, 64),
			strconv.FormatFloat(e.Score, 'f', 2, 64),
			formatDelta(e.Delta),
			strconv.Itoa(len(e.Samples)),
		})
	}
	return renderTable(mode, headers, rows, highlight)
}

// StatusTable renders the phase states in execution order.
func StatusTable(statuses map[store.Phase]store.Status, mode Mode) string {
	rows := make([][]string, 0, len(store.Phases))
	for _, p := range store.Phases {
		st := statuses[p]
		label := st.String()
		if mode != ModeMachine {
			icon := IconPending
			if st == store.Completed {
				icon = IconSuccess
			}
			label = string(icon) + " " + label
		}
		rows = append(rows, []string{string(p), label})
	}
	return renderTable(mode, []string{"phase", "status"}, rows, noHighlight)
}

// ListTable renders a single column of items under header.
func ListTable(header string, items []string, mode Mode) string {
	rows := make([][]string, len(items))
	for i, it := range items {
		rows[i] = []string{it}
	}
	return renderTable(mode, []string{header}, rows, noHighlight)
}

// AssignmentTable renders tuned parameter values.
func AssignmentTable(assignment []measure.Setting, mode Mode) string {
	rows := make([][]string, len(assignment))
	for i, s := range assignment {
		rows[i] = []string{s.Name, strconv.Itoa(s.Value)}
	}
	return renderTable(mode, []string{"parameter", "value"}, rows, noHighlight)
}

// ParameterTable renders parameter domains.
func ParameterTable(params []measure.Parameter, mode Mode) string {
	rows := make([][]string, len(params))
	for i, p := range params {
		rows[i] = []string{p.Name, strconv.Itoa(p.Min), strconv.Itoa(p.Max), strconv.Itoa(p.Default)}
	}
	return renderTable(mode, []string{"parameter", "min", "max", "default"}, rows, noHighlight)
}

func formatDelta(d float64) string {
	if math.IsNaN(d) {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%", d)
}

// renderTable lays rows out for mode. Machine mode is tab separated with
// a header line; the other modes use lipgloss tables.
func renderTable(mode Mode, headers []string, rows [][]string, highlight int) string {
	if mode == ModeMachine {
		var b strings.Builder
		b.WriteString(strings.Join(headers, "\t"))
		for _, r := range rows {
			b.WriteByte('\n')
			b.WriteString(strings.Join(r, "\t"))
		}
		return b.String()
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if mode == ModePlain {
		plain := lipgloss.NewStyle().Padding(0, 1)
		return t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style { return plain }).
			String()
	}
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(Styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return Styles.Header
			case row == highlight:
				return Styles.Cell.Foreground(ColorTealBright).Bold(true)
			default:
				return Styles.Cell
			}
		}).
		String()
}
