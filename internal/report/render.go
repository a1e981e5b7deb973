package report

import (
	"bytes"
	"io"

	"github.com/olekukonko/tablewriter"
)

// renderTable writes headers and rows as a box-drawn table.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("│")
	table.SetRowSeparator("─")
	table.SetHeaderLine(true)
	table.SetBorder(true)
	table.SetTablePadding(" ")
	table.SetNoWhiteSpace(false)

	table.AppendBulk(rows)
	table.Render()
}

// renderTableString renders the table into a string.
func renderTableString(headers []string, rows [][]string) string {
	buf := &bytes.Buffer{}
	renderTable(buf, headers, rows)
	return buf.String()
}
