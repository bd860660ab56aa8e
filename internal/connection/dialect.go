package connection

import (
	"fmt"

	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/db/mssql"
	"github.com/bgunnarsson/sqlfixture/internal/db/mysql"
	"github.com/bgunnarsson/sqlfixture/internal/db/postgres"
	"github.com/bgunnarsson/sqlfixture/internal/db/sqlite"
)

// DialectFor is the central driver factory.
func DialectFor(driver db.Driver) (db.Dialect, error) {
	switch driver {
	case db.DriverSqlite:
		return sqlite.Dialect{}, nil
	case db.DriverPostgres:
		return postgres.Dialect{}, nil
	case db.DriverMssql:
		return mssql.Dialect{}, nil
	case "", db.DriverMysql:
		return mysql.Dialect{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, driver)
	}
}
