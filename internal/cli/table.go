package cli

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable creates a table writing to out with the standard style.
func NewTable(out io.Writer, headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)

	row := make(table.Row, len(headers))
	for i, h := range headers {
		row[i] = text.FgHiCyan.Sprint(h)
	}
	if len(row) > 0 {
		t.AppendHeader(row)
	}
	return t
}

// StatusText colours a status word green when good and yellow otherwise.
func StatusText(s string, good bool) string {
	if good {
		return text.FgGreen.Sprint(s)
	}
	return text.FgYellow.Sprint(s)
}

// Dim renders secondary text.
func Dim(s string) string {
	return text.FgHiBlack.Sprint(s)
}
