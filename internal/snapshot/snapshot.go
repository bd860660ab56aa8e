package snapshot

import (
	"time"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

// Table is the captured content of one table, in result-set order.
type Table struct {
	Name    string
	Columns []db.Column
	Rows    []db.Row
}

// ColumnNames returns the captured column names. Columns are recorded even
// when the table was empty.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	if len(names) == 0 && len(t.Rows) > 0 {
		return t.Rows[0].Columns()
	}
	return names
}

// Snapshot holds the captured tables in request order.
type Snapshot struct {
	Tables     []Table
	CapturedAt time.Time
}

func (s *Snapshot) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// RowCount is the total number of captured rows.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Rows)
	}
	return n
}
