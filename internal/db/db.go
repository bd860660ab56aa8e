package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type Driver string

const (
	DriverSqlite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMssql    Driver = "mssql"
	DriverMysql    Driver = "mysql"
)

// ParseDriver accepts the driver names used in configuration, including a
// few common aliases.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mysql", "mariadb":
		return DriverMysql, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSqlite, nil
	case "mssql", "sqlserver":
		return DriverMssql, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", s)
	}
}

// Config describes how to reach a database. Password may be a vault token.
type Config struct {
	Driver   Driver
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Params are appended to the DSN verbatim (sslmode, encrypt, ...).
	Params map[string]string
}

// Address returns host:port, or the database path for file-based drivers.
func (c Config) Address() string {
	if c.Driver == DriverSqlite {
		return c.Database
	}
	if c.Port == 0 {
		return c.Host
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Column struct {
	Name string
	Type string
}

// Field is one column of a Row.
type Field struct {
	Name  string
	Value Value
}

// Row keeps result-set column order.
type Row []Field

// Get returns the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null(), false
}

func (r Row) Columns() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Name
	}
	return out
}

// Args returns the row values as driver arguments, in column order.
func (r Row) Args() []any {
	out := make([]any, len(r))
	for i, f := range r {
		out[i] = f.Value.Any()
	}
	return out
}

// ArgsFor is Args with every value bound through d.Arg.
func (r Row) ArgsFor(d Dialect) []any {
	out := make([]any, len(r))
	for i, f := range r {
		out[i] = d.Arg(f.Value)
	}
	return out
}

type Rows struct {
	Columns []Column
	Data    []Row
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Data)
}

// Querier is satisfied by *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Dialect captures everything that differs between the supported servers.
type Dialect interface {
	Name() Driver
	// Open returns a pool for cfg. The password must already be plaintext.
	Open(cfg Config) (*sql.DB, error)
	QuoteIdent(name string) string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// MaxParams is the bind-parameter limit of a single statement.
	MaxParams() int
	// TruncateSQL empties a table. When inTx is set the statement must not
	// implicitly commit.
	TruncateSQL(table string, inTx bool) string
	VersionSQL() string
	// SelectSQL returns the statement that reads every row of table with
	// column values exactly as stored.
	SelectSQL(ctx context.Context, q Querier, table string) (string, error)
	ListTables(ctx context.Context, q Querier) ([]string, error)
	DescribeTable(ctx context.Context, q Querier, table string) ([]Column, error)
	// WrapInsert runs insert with any per-table setup the server needs to
	// accept explicit key values.
	WrapInsert(ctx context.Context, q Querier, table string, insert func() error) error
	Normalize(dbType string, v any) Value
	// Arg converts v into the argument the driver stores unchanged.
	Arg(v Value) any
}

// MultiTruncater is implemented by dialects that must empty a set of related
// tables in one statement.
type MultiTruncater interface {
	TruncateAllSQL(tables []string) string
}

// SelectAllSQL is the plain SELECT * used by most dialects.
func SelectAllSQL(d Dialect, table string) string {
	return "SELECT * FROM " + d.QuoteIdent(table)
}

// ScanRows drains rows into ordered Rows, normalizing every value through d.
func ScanRows(d Dialect, rows *sql.Rows) (*Rows, error) {
	colNames, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	header := make([]Column, len(colNames))
	for i, name := range colNames {
		typ := ""
		if i < len(colTypes) && colTypes[i] != nil {
			typ = strings.ToLower(colTypes[i].DatabaseTypeName())
		}
		header[i] = Column{
			Name: name,
			Type: typ,
		}
	}

	out := &Rows{Columns: header, Data: []Row{}}
	for rows.Next() {
		raw := make([]any, len(colNames))
		ptrs := make([]any, len(colNames))
		for i := range raw {
			ptrs[i] = &raw[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(colNames))
		for i, v := range raw {
			row[i] = Field{Name: colNames[i], Value: d.Normalize(header[i].Type, v)}
		}
		out.Data = append(out.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// QuoteQualified quotes each dot-separated part of name with quote.
func QuoteQualified(name string, quote func(string) string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}

// SplitQualified splits "schema.table" into its parts, using def when no
// schema is given.
func SplitQualified(name, def string) (schema, table string) {
	if dot := strings.Index(name, "."); dot != -1 {
		return name[:dot], name[dot+1:]
	}
	return def, name
}

// ScanStrings collects a single string column.
func ScanStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanColumns collects (name, type) pairs.
func ScanColumns(ctx context.Context, q Querier, query string, args ...any) ([]Column, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var colName, dataType string
		if err := rows.Scan(&colName, &dataType); err != nil {
			return nil, err
		}
		cols = append(cols, Column{
			Name: colName,
			Type: dataType,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// InsertSQL builds a multi-row INSERT for rows rows of the given columns,
// numbering placeholders row by row.
func InsertSQL(d Dialect, table string, columns []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.QuoteIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
