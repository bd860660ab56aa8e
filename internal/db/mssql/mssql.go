package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

const defaultPort = 1433

type Dialect struct{}

var _ db.Dialect = Dialect{}

func (Dialect) Name() db.Driver { return db.DriverMssql }

// DSN renders cfg as a sqlserver:// URL.
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
		Scheme: "sqlserver",
		Host:   host + ":" + strconv.Itoa(port),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// driverName picks the Azure AD driver (azuresql) when a fedauth parameter
// is present so things like ActiveDirectoryInteractive / AzCli work.
func driverName(cfg db.Config) string {
	for k := range cfg.Params {
		if strings.EqualFold(k, "fedauth") {
			return azuread.DriverName
		}
	}
	return "sqlserver"
}

func (Dialect) Open(cfg db.Config) (*sql.DB, error) {
	if cfg.Host == "" && cfg.Database == "" {
		return nil, fmt.Errorf("empty mssql host and database")
	}
	return sql.Open(driverName(cfg), DSN(cfg))
}

func (Dialect) QuoteIdent(name string) string {
	return db.QuoteQualified(name, func(p string) string {
		return "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	})
}

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// MaxParams stays below the 2100 parameter limit of an RPC call.
func (Dialect) MaxParams() int { return 2000 }

// TruncateSQL uses DELETE inside a transaction: TRUNCATE refuses tables that
// are referenced by foreign keys.
func (d Dialect) TruncateSQL(table string, inTx bool) string {
	if inTx {
		return "DELETE FROM " + d.QuoteIdent(table)
	}
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

func (Dialect) VersionSQL() string { return "SELECT @@VERSION" }

func (d Dialect) SelectSQL(_ context.Context, _ db.Querier, table string) (string, error) {
	return db.SelectAllSQL(d, table), nil
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT TABLE_SCHEMA + '.' + TABLE_NAME AS name
FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_SCHEMA, TABLE_NAME;
`
	return db.ScanStrings(ctx, q, query)
}

// DescribeTable returns column name + data type.
// Accepts either "table" or "schema.table".
func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	schema, name := db.SplitQualified(table, "dbo")

	const query = `
SELECT COLUMN_NAME, DATA_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION;
`
	return db.ScanColumns(ctx, q, query, schema, name)
}

// WrapInsert enables IDENTITY_INSERT around the insert when the table has an
// identity column; SQL Server rejects explicit identity values otherwise.
func (d Dialect) WrapInsert(ctx context.Context, q db.Querier, table string, insert func() error) error {
	rows, err := q.QueryContext(ctx, "SELECT OBJECTPROPERTY(OBJECT_ID(@p1), 'TableHasIdentity')", table)
	if err != nil {
		return fmt.Errorf("check identity of %s: %w", table, err)
	}
	var hasIdentity sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&hasIdentity); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()

	if hasIdentity.Int64 != 1 {
		return insert()
	}

	quoted := d.QuoteIdent(table)
	if _, err := q.ExecContext(ctx, "SET IDENTITY_INSERT "+quoted+" ON"); err != nil {
		return fmt.Errorf("enable identity insert on %s: %w", table, err)
	}
	insertErr := insert()
	if _, err := q.ExecContext(ctx, "SET IDENTITY_INSERT "+quoted+" OFF"); err != nil && insertErr == nil {
		return fmt.Errorf("disable identity insert on %s: %w", table, err)
	}
	return insertErr
}

func (Dialect) Normalize(dbType string, v any) db.Value {
	x, ok := v.([]byte)
	if !ok {
		return db.FromDriver(v)
	}
	switch dbType {
	case "uniqueidentifier":
		return db.String(formatUniqueIdentifier(x))
	case "decimal", "numeric", "money", "smallmoney":
		return db.String(string(x))
	default:
		// NEVER string() binary; keep it raw
		return db.Bytes(x)
	}
}

func formatUniqueIdentifier(b []byte) string {
	if len(b) != 16 {
		return fmt.Sprintf("%x", b)
	}

	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[3], b[2], b[1], b[0],
		b[5], b[4],
		b[7], b[6],
		b[8], b[9],
		b[10], b[11], b[12], b[13], b[14], b[15],
	)
}

func (Dialect) Arg(v db.Value) any { return v.Any() }
