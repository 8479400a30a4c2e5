package utils

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TablePrinter can be used to print data as a table
type TablePrinter struct {
	table *tablewriter.Table
}

// NewTablePrinter returns a new table printer writing to the given writer
func NewTablePrinter(w io.Writer) *TablePrinter {
	table := tablewriter.NewWriter(w)

	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetRowLine(false)
	table.SetTablePadding("\t") // pad with tabs
	table.SetNoWhiteSpace(true) // no whitespace in front of every line

	return &TablePrinter{
		table: table,
	}
}

// Print prints the table
func (t *TablePrinter) Print(headers []string, data [][]string) {
	t.table.SetHeader(headers)
	t.table.AppendBulk(data)
	t.table.Render()
}
