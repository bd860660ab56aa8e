package print

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

type Options struct {
	MaxWidth int  // max width for each column, 0 = 40
	Color    bool // style header and NULLs; only for terminals
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	nullStyle   = lipgloss.NewStyle().Faint(true)
)

func RenderTable(w io.Writer, rows *db.Rows, opts Options) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 40
	}

	cols := len(rows.Columns)
	if cols == 0 {
		fmt.Fprintln(w, "(no columns)")
		return
	}

	// compute widths
	widths := make([]int, cols)
	for i, col := range rows.Columns {
		widths[i] = min(lipgloss.Width(col.Name), opts.MaxWidth)
	}

	for _, r := range rows.Data {
		for i, f := range r {
			if i >= cols {
				break
			}
			if l := min(lipgloss.Width(formatCell(f.Value)), opts.MaxWidth); l > widths[i] {
				widths[i] = l
			}
		}
	}

	sep := func(ch string) string {
		var b strings.Builder
		b.WriteString("+")
		for i := range widths {
			b.WriteString(strings.Repeat(ch, widths[i]+2))
			b.WriteString("+")
		}
		return b.String()
	}

	writeRow := func(cells []string, style func(i int, s string) string) {
		var b strings.Builder
		b.WriteString("|")
		for i, c := range cells {
			cell := padRight(truncate(c, widths[i]), widths[i])
			if style != nil {
				cell = style(i, cell)
			}
			b.WriteString(" ")
			b.WriteString(cell)
			b.WriteString(" |")
		}
		fmt.Fprintln(w, b.String())
	}

	// header
	fmt.Fprintln(w, sep("-"))
	header := make([]string, cols)
	for i, col := range rows.Columns {
		header[i] = col.Name
	}
	var headerFn func(int, string) string
	if opts.Color {
		headerFn = func(_ int, s string) string { return headerStyle.Render(s) }
	}
	writeRow(header, headerFn)
	fmt.Fprintln(w, sep("="))

	// data
	for _, r := range rows.Data {
		cells := make([]string, cols)
		for i := range cells {
			cells[i] = "NULL"
			if i < len(r) {
				cells[i] = formatCell(r[i].Value)
			}
		}
		var cellFn func(int, string) string
		if opts.Color {
			cellFn = func(i int, s string) string {
				if i >= len(r) || r[i].Value.IsNull() {
					return nullStyle.Render(s)
				}
				return s
			}
		}
		writeRow(cells, cellFn)
	}
	fmt.Fprintln(w, sep("-"))
	fmt.Fprintf(w, "(%d rows)\n", len(rows.Data))
}

// ColumnsTable turns a column listing into printable rows.
func ColumnsTable(cols []db.Column) *db.Rows {
	out := &db.Rows{
		Columns: []db.Column{{Name: "column"}, {Name: "type"}},
		Data:    make([]db.Row, 0, len(cols)),
	}
	for _, c := range cols {
		out.Data = append(out.Data, db.Row{
			{Name: "column", Value: db.String(c.Name)},
			{Name: "type", Value: db.String(c.Type)},
		})
	}
	return out
}

func formatCell(v db.Value) string {
	if b, ok := v.Bytes(); ok {
		// heuristic: treat as string if printable, else show len
		if s := string(b); isPrintable(s) {
			return s
		}
		return fmt.Sprintf("<blob %d bytes>", len(b))
	}
	s := v.String()
	if !isPrintable(s) {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\t' {
			return false
		}
	}
	return true
}

func padRight(s string, w int) string {
	l := lipgloss.Width(s)
	if l >= w {
		return s
	}
	return s + strings.Repeat(" ", w-l)
}

// truncate cuts s to w display cells, marking the cut with "...".
func truncate(s string, w int) string {
	if lipgloss.Width(s) <= w {
		return s
	}
	r := []rune(s)
	if w <= 3 {
		return string(r[:min(w, len(r))])
	}
	for len(r) > 0 && lipgloss.Width(string(r))+3 > w {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
