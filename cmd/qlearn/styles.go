package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorder      = lipgloss.RoundedBorder()
	tableBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
)

func tableStyle(row, col int) lipgloss.Style {
	if row == table.HeaderRow {
		return tableHeaderStyle
	}
	return tableCellStyle
}

// printField prints a "label value" line.
func printField(label, format string, args ...any) {
	fmt.Println(labelStyle.Render(label) + fmt.Sprintf(format, args...))
}
