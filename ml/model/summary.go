// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// Summary renders a table with one row per model in the tree: its name (indented by depth), kind,
// dimensions, number of parameters and their memory.
func (m *Model) Summary() string {
	alignments := []lipgloss.Position{lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right}
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			return s.Align(alignments[min(col, len(alignments)-1)])
		}).
		Headers("Layer", "Kind", "nI", "nO", "#Params", "Memory")

	bytesPerValue := uint64(dtypes.Float32.Memory())
	var addRows func(node *Model, depth int)
	addRows = func(node *Model, depth int) {
		numParams := uint64(node.numWeights)
		table.Row(
			strings.Repeat("  ", depth)+node.name,
			node.kind.String(),
			node.dimString("nI"),
			node.dimString("nO"),
			humanize.Comma(int64(numParams)),
			humanize.Bytes(numParams*bytesPerValue),
		)
		for _, layer := range node.layers {
			addRows(layer, depth+1)
		}
	}
	addRows(m, 0)
	total := uint64(m.NumParams())
	table.Row("Total", "", "", "", humanize.Comma(int64(total)), humanize.Bytes(total*bytesPerValue))
	return table.Render()
}
