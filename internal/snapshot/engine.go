// Package snapshot captures table contents and restores them by truncating
// and reinserting the captured rows.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
)

// DefaultBatchRows caps the rows sent in one INSERT statement.
const DefaultBatchRows = 1000

type Engine struct {
	conn      *connection.Manager
	log       logger.Logger
	batchRows int
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithBatchRows sets the maximum rows per INSERT. The dialect's bind
// parameter limit still applies.
func WithBatchRows(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchRows = n
		}
	}
}

func NewEngine(conn *connection.Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		conn:      conn,
		log:       conn.Logger(),
		batchRows: DefaultBatchRows,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capture reads every row of each table with one SELECT per table. Tables
// are read sequentially without an enclosing transaction, so the result is
// not consistent across tables. Duplicate names are captured once.
func (e *Engine) Capture(ctx context.Context, tables []string) (*Snapshot, error) {
	snap := &Snapshot{
		Tables:     make([]Table, 0, len(tables)),
		CapturedAt: e.now(),
	}
	seen := make(map[string]bool, len(tables))

	for _, name := range tables {
		if seen[name] {
			continue
		}
		seen[name] = true

		rows, err := e.conn.ReadTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", name, err)
		}
		snap.Tables = append(snap.Tables, Table{
			Name:    name,
			Columns: rows.Columns,
			Rows:    rows.Data,
		})
	}

	e.log.Info("snapshot captured", "tables", len(snap.Tables), "rows", snap.RowCount())
	return snap, nil
}

type restoreOptions struct {
	transactional bool
}

type RestoreOption func(*restoreOptions)

// WithoutTransaction restores table by table with real TRUNCATE where the
// server supports it. A failure leaves earlier tables restored and later
// ones untouched.
func WithoutTransaction() RestoreOption {
	return func(o *restoreOptions) { o.transactional = false }
}

// Restore replaces the contents of every table in snap with the captured
// rows, in snapshot order. By default all tables are restored in one
// transaction that commits only if every table succeeds.
func (e *Engine) Restore(ctx context.Context, snap *Snapshot, opts ...RestoreOption) error {
	if snap == nil {
		return errors.New("restore: nil snapshot")
	}
	o := restoreOptions{transactional: true}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	if o.transactional {
		err = e.conn.InTx(ctx, func(tx *connection.Tx) error {
			if err := truncateAll(ctx, tx, snap.TableNames()); err != nil {
				return err
			}
			for _, t := range snap.Tables {
				if err := e.insertRows(ctx, tx, t); err != nil {
					return fmt.Errorf("restore %s: %w", t.Name, err)
				}
			}
			return nil
		})
	} else {
		err = e.restoreEach(ctx, snap)
	}
	if err != nil {
		e.log.Error("snapshot restore failed", "err", err)
		return err
	}

	e.log.Info("snapshot restored", "tables", len(snap.Tables), "rows", snap.RowCount())
	return nil
}

func (e *Engine) restoreEach(ctx context.Context, snap *Snapshot) error {
	for _, t := range snap.Tables {
		if err := e.conn.Truncate(ctx, t.Name); err != nil {
			return fmt.Errorf("restore %s: truncate: %w", t.Name, err)
		}
		if len(t.Rows) == 0 {
			continue
		}
		err := e.conn.InTx(ctx, func(tx *connection.Tx) error {
			return e.insertRows(ctx, tx, t)
		})
		if err != nil {
			return fmt.Errorf("restore %s: %w", t.Name, err)
		}
	}
	return nil
}

// truncateAll empties tables inside tx before any row is reinserted. Tables
// are emptied in reverse order so children listed after their parents go
// first.
func truncateAll(ctx context.Context, tx *connection.Tx, tables []string) error {
	tables = unique(tables)
	if len(tables) == 0 {
		return nil
	}
	d := tx.Dialect()
	if mt, ok := d.(db.MultiTruncater); ok {
		if _, err := tx.ExecuteStrict(ctx, mt.TruncateAllSQL(tables)); err != nil {
			return fmt.Errorf("restore: truncate: %w", err)
		}
		return nil
	}
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecuteStrict(ctx, d.TruncateSQL(tables[i], true)); err != nil {
			return fmt.Errorf("restore %s: truncate: %w", tables[i], err)
		}
	}
	return nil
}

func unique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// insertRows reinserts t.Rows with multi-row INSERTs sized to the batch
// limit and the dialect's parameter limit.
func (e *Engine) insertRows(ctx context.Context, tx *connection.Tx, t Table) error {
	if len(t.Rows) == 0 {
		return nil
	}
	d := tx.Dialect()
	cols := t.ColumnNames()
	if len(cols) == 0 {
		return nil
	}
	per := batchSize(e.batchRows, d.MaxParams(), len(cols))

	return d.WrapInsert(ctx, tx, t.Name, func() error {
		for start := 0; start < len(t.Rows); start += per {
			end := min(start+per, len(t.Rows))
			chunk := t.Rows[start:end]

			args := make([]any, 0, len(chunk)*len(cols))
			for _, row := range chunk {
				args = append(args, rowArgs(d, row, cols)...)
			}
			if _, err := tx.ExecuteStrict(ctx, db.InsertSQL(d, t.Name, cols, len(chunk)), args...); err != nil {
				return err
			}
		}
		return nil
	})
}

func batchSize(maxRows, maxParams, cols int) int {
	per := maxParams / cols
	if per > maxRows {
		per = maxRows
	}
	if per < 1 {
		per = 1
	}
	return per
}

// rowArgs orders row values by cols. Rows from one SELECT already share the
// column order, so the lookup only runs when they disagree.
func rowArgs(d db.Dialect, row db.Row, cols []string) []any {
	if len(row) == len(cols) {
		inOrder := true
		for i, f := range row {
			if f.Name != cols[i] {
				inOrder = false
				break
			}
		}
		if inOrder {
			return row.ArgsFor(d)
		}
	}
	args := make([]any, len(cols))
	for i, c := range cols {
		v, _ := row.Get(c)
		args[i] = d.Arg(v)
	}
	return args
}

// Cleanup deletes rows from each table, restricted by condition when it is
// not empty. Failures are logged and skipped. It returns the total number
// of deleted rows.
func (e *Engine) Cleanup(ctx context.Context, tables []string, condition string, args ...any) int64 {
	d := e.conn.Dialect()
	var total int64
	for _, name := range tables {
		query := "DELETE FROM " + d.QuoteIdent(name)
		if condition != "" {
			query += " WHERE " + condition
		}
		n := e.conn.Execute(ctx, query, args...)
		total += n
		e.log.Info("test data cleaned", "table", name, "rows", n)
	}
	return total
}
