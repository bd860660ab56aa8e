// Package testutil provides in-memory SQLite fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
)

// OrdersSchema is the table used by most fixture tests.
const OrdersSchema = `CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	order_number TEXT NOT NULL,
	amount REAL NOT NULL,
	status TEXT NOT NULL
)`

// SQLiteConfig returns a config for a named shared in-memory database.
// The name is derived from t.Name() so parallel tests stay isolated.
func SQLiteConfig(t testing.TB) db.Config {
	t.Helper()

	// Percent-encode the test name so it cannot be misread as query
	// parameters in the "file:%s?..." DSN.
	return db.Config{
		Driver:   db.DriverSqlite,
		Database: fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name())),
	}
}

// NewSQLite connects a Manager to a fresh in-memory database and closes it
// when the test ends.
func NewSQLite(t testing.TB) *connection.Manager {
	t.Helper()

	m, err := connection.Connect(context.Background(), SQLiteConfig(t), connection.WithLogger(logger.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Disconnect() })
	return m
}

// Exec runs statements strictly, failing the test on the first error.
func Exec(t testing.TB, m *connection.Manager, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := m.ExecuteStrict(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// SeedOrders creates the orders table with two rows.
func SeedOrders(t testing.TB, m *connection.Manager) {
	t.Helper()
	Exec(t, m,
		OrdersSchema,
		`INSERT INTO orders (id, order_number, amount, status) VALUES
			(1, 'ORD001', 100.00, 'pending'),
			(2, 'ORD002', 200.00, 'completed')`,
	)
}
