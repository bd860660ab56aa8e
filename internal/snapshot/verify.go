package snapshot

import (
	"context"
	"fmt"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

// Mismatch describes a table whose current contents differ from a snapshot.
type Mismatch struct {
	Table    string
	Expected int
	Actual   int
	// Row is the index of the first differing row, or -1 when only the
	// row counts differ.
	Row    int
	Reason string
}

func (m Mismatch) String() string {
	if m.Row < 0 {
		return fmt.Sprintf("%s: %s (expected %d rows, found %d)", m.Table, m.Reason, m.Expected, m.Actual)
	}
	return fmt.Sprintf("%s: row %d: %s", m.Table, m.Row, m.Reason)
}

// Verify recaptures the tables of snap and reports every table whose rows
// no longer match, comparing row by row in order. A table listed twice in
// snap is checked against the same recapture.
func (e *Engine) Verify(ctx context.Context, snap *Snapshot) ([]Mismatch, error) {
	current, err := e.Capture(ctx, snap.TableNames())
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	var out []Mismatch
	for _, want := range snap.Tables {
		got, _ := current.Table(want.Name)
		if len(want.Rows) != len(got.Rows) {
			out = append(out, Mismatch{
				Table:    want.Name,
				Expected: len(want.Rows),
				Actual:   len(got.Rows),
				Row:      -1,
				Reason:   "row count differs",
			})
			continue
		}
		for r := range want.Rows {
			if reason, ok := diffRow(want.Rows[r], got.Rows[r]); !ok {
				out = append(out, Mismatch{
					Table:    want.Name,
					Expected: len(want.Rows),
					Actual:   len(got.Rows),
					Row:      r,
					Reason:   reason,
				})
				break
			}
		}
	}
	return out, nil
}

func diffRow(want, got db.Row) (string, bool) {
	for _, f := range want {
		v, ok := got.Get(f.Name)
		if !ok {
			return "column " + f.Name + " missing", false
		}
		if !f.Value.Equal(v) {
			return fmt.Sprintf("column %s: expected %s, found %s", f.Name, f.Value, v), false
		}
	}
	return "", true
}
