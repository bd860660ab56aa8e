package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx stdlib driver

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

const defaultPort = 5432

type Dialect struct{}

var (
	_ db.Dialect        = Dialect{}
	_ db.MultiTruncater = Dialect{}
)

func (Dialect) Name() db.Driver { return db.DriverPostgres }

// DSN renders cfg as a postgres:// URL. Params become query parameters.
func DSN(cfg db.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}

	q := url.Values{}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, cfg.Params[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (Dialect) Open(cfg db.Config) (*sql.DB, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("empty postgres database name")
	}
	return sql.Open("pgx", DSN(cfg))
}

func (Dialect) QuoteIdent(name string) string {
	return db.QuoteQualified(name, func(p string) string {
		return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	})
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) MaxParams() int { return 65535 }

// TruncateSQL uses TRUNCATE in both modes; it is transactional in Postgres.
func (d Dialect) TruncateSQL(table string, _ bool) string {
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

// TruncateAllSQL empties every table with one TRUNCATE. Postgres refuses
// to truncate a table referenced by a foreign key unless the referencing
// table is truncated by the same command.
func (d Dialect) TruncateAllSQL(tables []string) string {
	quoted := make([]string, len(tables))
	for i, t := range tables {
		quoted[i] = d.QuoteIdent(t)
	}
	return "TRUNCATE TABLE " + strings.Join(quoted, ", ")
}

func (Dialect) VersionSQL() string { return "SELECT version()" }

func (d Dialect) SelectSQL(_ context.Context, _ db.Querier, table string) (string, error) {
	return db.SelectAllSQL(d, table), nil
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT table_schema || '.' || table_name AS name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name;
`
	return db.ScanStrings(ctx, q, query)
}

// DescribeTable returns column name + data type.
// Accepts either "table" or "schema.table".
func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	schema, name := db.SplitQualified(table, "public")

	const query = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
ORDER BY ordinal_position;
`
	return db.ScanColumns(ctx, q, query, schema, name)
}

// WrapInsert moves serial and identity sequences past the reinserted keys so
// later inserts by the test do not collide with restored rows.
func (d Dialect) WrapInsert(ctx context.Context, q db.Querier, table string, insert func() error) error {
	if err := insert(); err != nil {
		return err
	}

	schema, name := db.SplitQualified(table, "public")
	const query = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
  AND (column_default LIKE 'nextval(%' OR is_identity = 'YES')
ORDER BY ordinal_position;
`
	cols, err := db.ScanStrings(ctx, q, query, schema, name)
	if err != nil {
		return fmt.Errorf("list sequence columns of %s: %w", table, err)
	}

	for _, col := range cols {
		stmt := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence($1, $2), COALESCE(MAX(%s), 1), MAX(%s) IS NOT NULL) FROM %s",
			d.QuoteIdent(col), d.QuoteIdent(col), d.QuoteIdent(table),
		)
		if _, err := q.ExecContext(ctx, stmt, table, col); err != nil {
			return fmt.Errorf("resync sequence %s.%s: %w", table, col, err)
		}
	}
	return nil
}

func (Dialect) Normalize(_ string, v any) db.Value {
	if x, ok := v.([]byte); ok {
		// bytea arrives as []byte; keep it binary
		return db.Bytes(x)
	}
	return db.FromDriver(v)
}

func (Dialect) Arg(v db.Value) any { return v.Any() }
