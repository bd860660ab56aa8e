package connection

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

// InsertRow inserts a single row and returns the generated id when the
// driver reports one, otherwise the affected row count. Failures are logged
// and return 0.
func (m *Manager) InsertRow(ctx context.Context, table string, row db.Row) int64 {
	query := db.InsertSQL(m.dialect, table, row.Columns(), 1)

	var res sql.Result
	err := m.InTx(ctx, func(tx *Tx) error {
		return m.dialect.WrapInsert(ctx, tx, table, func() error {
			var err error
			res, err = tx.ExecContext(ctx, query, row.ArgsFor(m.dialect)...)
			return newQueryError(query, err)
		})
	})
	m.record("insert", query, err)
	if err != nil {
		return 0
	}

	if id, err := res.LastInsertId(); err == nil && id > 0 {
		m.log.Debug("row inserted", "table", table, "id", id)
		return id
	}
	return affected(res)
}

// Truncate empties table outside any transaction, using TRUNCATE where the
// server has it.
func (m *Manager) Truncate(ctx context.Context, table string) error {
	q, err := m.querier()
	if err != nil {
		return err
	}
	query := m.dialect.TruncateSQL(table, false)
	if _, err := q.ExecContext(ctx, query); err != nil {
		return newQueryError(query, err)
	}
	m.log.Info("table truncated", "table", table)
	return nil
}

// ReadTable returns every row of table with values as the server stores
// them.
func (m *Manager) ReadTable(ctx context.Context, table string) (*db.Rows, error) {
	q, err := m.querier()
	if err != nil {
		return nil, err
	}
	query, err := m.dialect.SelectSQL(ctx, q, table)
	if err != nil {
		return nil, newQueryError("describe "+table, err)
	}
	return queryRows(ctx, m.dialect, q, query)
}

// TableExists probes table with a query that returns no rows.
func (m *Manager) TableExists(ctx context.Context, table string) bool {
	_, err := m.QueryStrict(ctx, "SELECT * FROM "+m.dialect.QuoteIdent(table)+" WHERE 1 = 0")
	return err == nil
}

// RowCount returns the number of rows in table matching condition (all rows
// when condition is empty). Placeholders in condition use the driver's
// syntax. Failures are logged and return 0.
func (m *Manager) RowCount(ctx context.Context, table, condition string, args ...any) int64 {
	query := "SELECT COUNT(*) AS n FROM " + m.dialect.QuoteIdent(table)
	if condition != "" {
		query += " WHERE " + condition
	}

	rows := m.Query(ctx, query, args...)
	if rows.Len() == 0 || len(rows.Data[0]) == 0 {
		return 0
	}
	return asInt(rows.Data[0][0].Value)
}

func asInt(v db.Value) int64 {
	if n, ok := v.Int(); ok {
		return n
	}
	if f, ok := v.Float(); ok {
		return int64(f)
	}
	if s, ok := v.Str(); ok {
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return 0
}

func (m *Manager) DescribeTable(ctx context.Context, table string) ([]db.Column, error) {
	q, err := m.querier()
	if err != nil {
		return nil, err
	}
	cols, err := m.dialect.DescribeTable(ctx, q, table)
	if err != nil {
		return nil, newQueryError("describe "+table, err)
	}
	return cols, nil
}

func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	q, err := m.querier()
	if err != nil {
		return nil, err
	}
	tables, err := m.dialect.ListTables(ctx, q)
	if err != nil {
		return nil, newQueryError("list tables", err)
	}
	return tables, nil
}

// Info describes the connected server.
type Info struct {
	Driver   db.Driver
	Host     string
	Port     int
	Database string
	Version  string
	Tables   []string
}

// Info collects server details. Fields that cannot be read stay empty.
func (m *Manager) Info(ctx context.Context) Info {
	info := Info{
		Driver:   m.cfg.Driver,
		Host:     m.cfg.Host,
		Port:     m.cfg.Port,
		Database: m.cfg.Database,
		Tables:   []string{},
	}

	rows := m.Query(ctx, m.dialect.VersionSQL())
	if rows.Len() > 0 && len(rows.Data[0]) > 0 {
		info.Version = rows.Data[0][0].Value.String()
	}

	tables, err := m.ListTables(ctx)
	if err != nil {
		m.log.Warn("list tables failed", "err", err)
	} else if tables != nil {
		info.Tables = tables
	}
	return info
}
