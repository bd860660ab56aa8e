package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

const defaultPort = 3306

type Dialect struct{}

var _ db.Dialect = Dialect{}

func (Dialect) Name() db.Driver { return db.DriverMysql }

// DSNConfig builds the driver configuration for cfg. Times are parsed into
// time.Time so captured DATETIME values reinsert unchanged.
func DSNConfig(cfg db.Config) *gomysql.Config {
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	c.Addr = host + ":" + strconv.Itoa(port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	if len(cfg.Params) > 0 {
		c.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			c.Params[k] = v
		}
	}
	return c
}

func (Dialect) Open(cfg db.Config) (*sql.DB, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("empty mysql database name")
	}
	connector, err := gomysql.NewConnector(DSNConfig(cfg))
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

func (Dialect) QuoteIdent(name string) string {
	return db.QuoteQualified(name, func(p string) string {
		return "`" + strings.ReplaceAll(p, "`", "``") + "`"
	})
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) MaxParams() int { return 65535 }

// TruncateSQL avoids TRUNCATE inside a transaction: it is DDL in MySQL and
// commits implicitly.
func (d Dialect) TruncateSQL(table string, inTx bool) string {
	if inTx {
		return "DELETE FROM " + d.QuoteIdent(table)
	}
	return "TRUNCATE TABLE " + d.QuoteIdent(table)
}

func (Dialect) VersionSQL() string { return "SELECT VERSION()" }

func (d Dialect) SelectSQL(_ context.Context, _ db.Querier, table string) (string, error) {
	return db.SelectAllSQL(d, table), nil
}

func (Dialect) ListTables(ctx context.Context, q db.Querier) ([]string, error) {
	const query = `
SELECT table_name
FROM information_schema.tables
WHERE table_type = 'BASE TABLE'
  AND table_schema = DATABASE()
ORDER BY table_name;
`
	return db.ScanStrings(ctx, q, query)
}

func (Dialect) DescribeTable(ctx context.Context, q db.Querier, table string) ([]db.Column, error) {
	const query = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_schema = DATABASE()
  AND table_name = ?
ORDER BY ordinal_position;
`
	return db.ScanColumns(ctx, q, query, table)
}

func (Dialect) WrapInsert(_ context.Context, _ db.Querier, _ string, insert func() error) error {
	return insert()
}

var binaryTypes = map[string]bool{
	"binary":     true,
	"varbinary":  true,
	"blob":       true,
	"tinyblob":   true,
	"mediumblob": true,
	"longblob":   true,
	"bit":        true,
	"geometry":   true,
}

func (Dialect) Normalize(dbType string, v any) db.Value {
	if x, ok := v.([]byte); ok && !binaryTypes[dbType] {
		// MySQL returns TEXT/VARCHAR/DECIMAL as []byte
		return db.String(string(x))
	}
	return db.FromDriver(v)
}

func (Dialect) Arg(v db.Value) any { return v.Any() }
