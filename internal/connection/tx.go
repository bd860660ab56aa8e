package connection

import (
	"context"
	"database/sql"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

// Tx is an open transaction on the pinned connection. It satisfies
// db.Querier so dialect hooks can run inside it.
type Tx struct {
	tx      *sql.Tx
	dialect db.Dialect
}

var _ db.Querier = (*Tx)(nil)

func (t *Tx) Dialect() db.Dialect { return t.dialect }

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryStrict(ctx context.Context, query string, args ...any) (*db.Rows, error) {
	return queryRows(ctx, t.dialect, t.tx, query, args...)
}

func (t *Tx) ExecuteStrict(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, newQueryError(query, err)
	}
	return affected(res), nil
}

// ExecuteManyStrict prepares query once and executes it for every row, one
// round trip per row inside the caller's transaction. Bulk inserts that need
// a single round trip build a multi-row statement with db.InsertSQL.
func (t *Tx) ExecuteManyStrict(ctx context.Context, query string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, newQueryError(query, err)
	}
	defer stmt.Close()

	var total int64
	for _, args := range rows {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, newQueryError(query, err)
		}
		total += affected(res)
	}
	return total, nil
}

// affected returns the affected row count, or 0 when the driver cannot
// report it.
func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
