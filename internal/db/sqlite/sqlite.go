package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // register driver

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

const pragmas = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

type Dialect struct{}

var _ db.Dialect = Dialect{}

func (Dialect) Name() db.Driver { return db.DriverSqlite }

// DSN turns cfg.Database into a URI filename with foreign keys enabled.
// An empty database means a private in-memory database.
func DSN(cfg db.Config) string {
	path := cfg.Database
	if path == "" {
		path = ":memory:"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + pragmas

	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += "&" + url.QueryEscape(k) + "=" + url.QueryEscape(cfg.Params[k])
	}
	return dsn
}

func (Dialect) Open(cfg db.Config) (*sql.DB, error) {
	return sql.Open("sqlite", DSN(cfg))
}

// very basic identifier quoting, enough for sqlite
func (Dialect) QuoteIdent(name string) string {
	return db.QuoteQualified(name, quote)
}

func quote(p string) string {
	return `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) MaxParams() int { return 32766 }

// TruncateSQL: sqlite has no TRUNCATE; an unqualified DELETE uses the
// truncate optimization.
func (d Dialect) TruncateSQL(table string, _ bool) string {
	return "DELETE FROM " + d.QuoteIdent(table)
}

func (Dialect) VersionSQL() string { return "SELECT sqlite_version()" }

// timeTypes are the declared types the driver parses into time.Time.
var timeTypes = map[string]bool{
	"DATE":      true,
	"DATETIME":  true,
	"TIMESTAMP": true,
}

// SelectSQL reads date and time columns through a unary plus. The expression
// has no declared type, so the driver returns the stored text or number
// instead of a reparsed time.Time.
func (d Dialect) SelectSQL(ctx context.Context, q db.Querier, table string) (string, error) {
	cols, err := d.DescribeTable(ctx, q, table)
	if err != nil {
		return "", err
	}

	wrapped := false
	parts := make([]string, len(cols))
	for i, c := range cols {
		name := quote(c.Name)
		if timeTypes[strings.ToUpper(c.Type)] {
			parts[i] = "+" + name + " AS " + name
			wrapped = true
			continue
		}
		parts[i] = name
	}
	if !wrapped {
		return db.SelectAllSQL(d, table), nil
	}
	return "SELECT " + strings.Join(parts, ", ") + " FROM " + d.QuoteIdent(table), nil
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY lower(name);
	`
	return db.ScanStrings(ctx, q, query)
}

func (d Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s);", d.QuoteIdent(table))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []db.Column
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, db.Column{
			Name: name,
			Type: ctype,
		})
	}
	return cols, rows.Err()
}

func (Dialect) WrapInsert(_ context.Context, _ db.Querier, _ string, insert func() error) error {
	return insert()
}

func (Dialect) Normalize(_ string, v any) db.Value {
	return db.FromDriver(v)
}

const timeLayout = "2006-01-02 15:04:05.999999999"

// Arg writes times in the layout SQLite's date functions read. The driver
// would otherwise store time.Time.String().
func (Dialect) Arg(v db.Value) any {
	t, ok := v.Time()
	if !ok {
		return v.Any()
	}
	if _, off := t.Zone(); off == 0 {
		return t.Format(timeLayout)
	}
	return t.Format(timeLayout + "-07:00")
}
