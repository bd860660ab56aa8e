package connection

import (
	"context"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

func emptyRows() *db.Rows {
	return &db.Rows{Data: []db.Row{}}
}

// Query runs a read query and never fails: errors are logged, recorded in
// LastError and an empty result is returned.
func (m *Manager) Query(ctx context.Context, query string, args ...any) *db.Rows {
	rows, err := m.QueryStrict(ctx, query, args...)
	m.record("query", query, err)
	if err != nil {
		return emptyRows()
	}
	return rows
}

// QueryStrict runs a read query on the pinned connection.
func (m *Manager) QueryStrict(ctx context.Context, query string, args ...any) (*db.Rows, error) {
	q, err := m.querier()
	if err != nil {
		return nil, err
	}
	return queryRows(ctx, m.dialect, q, query, args...)
}

// Execute runs a write statement in its own transaction and returns the
// affected row count, or 0 after logging on failure.
func (m *Manager) Execute(ctx context.Context, query string, args ...any) int64 {
	n, err := m.ExecuteStrict(ctx, query, args...)
	m.record("execute", query, err)
	if err != nil {
		return 0
	}
	return n
}

func (m *Manager) ExecuteStrict(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := m.InTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ExecuteStrict(ctx, query, args...)
		return err
	})
	return n, err
}

// ExecuteMany runs one prepared statement for every argument row inside a
// single transaction and returns the summed affected rows, or 0 after
// logging on failure.
func (m *Manager) ExecuteMany(ctx context.Context, query string, rows [][]any) int64 {
	n, err := m.ExecuteManyStrict(ctx, query, rows)
	m.record("execute many", query, err)
	if err != nil {
		return 0
	}
	return n
}

func (m *Manager) ExecuteManyStrict(ctx context.Context, query string, rows [][]any) (int64, error) {
	var n int64
	err := m.InTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ExecuteManyStrict(ctx, query, rows)
		return err
	})
	return n, err
}

// InTx runs fn in one transaction, committing when fn returns nil and
// rolling back otherwise.
func (m *Manager) InTx(ctx context.Context, fn func(*Tx) error) error {
	if m.conn == nil {
		return ErrNotConnected
	}

	sqlTx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return newQueryError("BEGIN", err)
	}

	tx := &Tx{tx: sqlTx, dialect: m.dialect}
	if err := fn(tx); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			m.log.Warn("rollback failed", "err", rerr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return newQueryError("COMMIT", err)
	}
	return nil
}

func queryRows(ctx context.Context, d db.Dialect, q db.Querier, query string, args ...any) (*db.Rows, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	defer rows.Close()

	out, err := db.ScanRows(d, rows)
	if err != nil {
		return nil, newQueryError(query, err)
	}
	return out, nil
}
