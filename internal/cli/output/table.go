// Package output renders CLI command results for terminal display.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableData collects headers and rows for tabular output.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one row.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Empty reports whether the table has no rows.
func (t *TableData) Empty() bool {
	return len(t.rows) == 0
}

// Render writes the table to w in a borderless, left-aligned style.
func (t *TableData) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(t.headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range t.rows {
		table.Append(row)
	}
	table.Render()
}
