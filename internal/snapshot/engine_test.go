package snapshot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/db/sqlite"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
	"github.com/bgunnarsson/sqlfixture/internal/testutil"
)

const itemsSchema = `CREATE TABLE items (
	id INTEGER PRIMARY KEY,
	label TEXT,
	qty INTEGER,
	price REAL,
	payload BLOB,
	created_at DATETIME
)`

const eventsSchema = `CREATE TABLE events (
	id INTEGER PRIMARY KEY,
	created_at DATETIME,
	day DATE
)`

const insertOrder = "INSERT INTO orders (id, order_number, amount, status) VALUES (?, ?, ?, ?)"

func newEngine(t *testing.T, opts ...EngineOption) (*Engine, *connection.Manager) {
	t.Helper()
	m := testutil.NewSQLite(t)
	return NewEngine(m, append([]EngineOption{WithLogger(logger.Nop())}, opts...)...), m
}

// tester is satisfied by *testing.T and *rapid.T.
type tester interface {
	require.TestingT
	Helper()
}

func readAll(t tester, m *connection.Manager, table string) []db.Row {
	t.Helper()
	rows, err := m.QueryStrict(context.Background(), "SELECT * FROM "+table)
	require.NoError(t, err)
	return rows.Data
}

// storedText reads column as the text SQLite stores, ordered by id.
func storedText(t tester, m *connection.Manager, table, column string) []string {
	t.Helper()
	rows, err := m.QueryStrict(context.Background(),
		"SELECT COALESCE(CAST("+column+" AS TEXT), 'NULL') FROM "+table+" ORDER BY id")
	require.NoError(t, err)
	out := make([]string, rows.Len())
	for i, r := range rows.Data {
		out[i] = r[0].Value.String()
	}
	return out
}

func assertRowsEqual(t testing.TB, want, got []db.Row) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		reason, ok := diffRow(want[i], got[i])
		assert.True(t, ok, "row %d: %s", i, reason)
	}
}

func TestCaptureRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	assert.Equal(t, []string{"id", "order_number", "amount", "status"}, snap.Tables[0].ColumnNames())
	before := readAll(t, m, "orders")

	testutil.Exec(t, m,
		"UPDATE orders SET status = 'cancelled'",
		"DELETE FROM orders WHERE id = 2",
		"INSERT INTO orders VALUES (3, 'ORD003', 300, 'new')",
	)

	require.NoError(t, e.Restore(ctx, snap))
	assertRowsEqual(t, before, readAll(t, m, "orders"))
}

func TestRestore_Twice(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)

	require.NoError(t, e.Restore(ctx, snap))
	require.NoError(t, e.Restore(ctx, snap))
	assert.Equal(t, int64(2), m.RowCount(ctx, "orders", ""))
}

func TestRestore_EmptyCaptureTruncates(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.Exec(t, m, testutil.OrdersSchema)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	assert.Empty(t, snap.Tables[0].Rows)
	assert.Len(t, snap.Tables[0].Columns, 4)

	testutil.Exec(t, m, "INSERT INTO orders VALUES (1, 'ORD001', 100, 'pending')")
	require.NoError(t, e.Restore(ctx, snap))
	assert.Equal(t, int64(0), m.RowCount(ctx, "orders", ""))
}

func TestCapture_MissingTable(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Capture(context.Background(), []string{"nope"})
	var qe *connection.QueryError
	require.ErrorAs(t, err, &qe)
}

func TestCapture_DeduplicatesAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)
	testutil.Exec(t, m, itemsSchema)

	e.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	snap, err := e.Capture(ctx, []string{"items", "orders", "items"})
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "orders"}, snap.TableNames())
	assert.Equal(t, 2, snap.RowCount())
	assert.Equal(t, 2024, snap.CapturedAt.Year())

	_, ok := snap.Table("orders")
	assert.True(t, ok)
	_, ok = snap.Table("customers")
	assert.False(t, ok)
}

func TestRestore_RollsBackAllTablesOnFailure(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)
	testutil.Exec(t, m, itemsSchema, "INSERT INTO items (id, label) VALUES (1, 'a')")

	snap, err := e.Capture(ctx, []string{"orders", "items"})
	require.NoError(t, err)

	testutil.Exec(t, m, "UPDATE orders SET status = 'cancelled'", "DROP TABLE items")
	mutated := readAll(t, m, "orders")

	err = e.Restore(ctx, snap)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore items")
	assertRowsEqual(t, mutated, readAll(t, m, "orders"))
}

func TestRestore_WithoutTransactionIsPerTable(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)
	testutil.Exec(t, m, itemsSchema)

	snap, err := e.Capture(ctx, []string{"orders", "items"})
	require.NoError(t, err)
	before := readAll(t, m, "orders")

	testutil.Exec(t, m, "UPDATE orders SET status = 'cancelled'", "DROP TABLE items")

	err = e.Restore(ctx, snap, WithoutTransaction())
	require.Error(t, err)
	assertRowsEqual(t, before, readAll(t, m, "orders"))
}

func TestRestore_Batches(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t, WithBatchRows(2))
	testutil.Exec(t, m, testutil.OrdersSchema)

	var args [][]any
	for i := 1; i <= 5; i++ {
		args = append(args, []any{i, fmt.Sprintf("ORD%03d", i), float64(i) * 10, "new"})
	}
	_, err := m.ExecuteManyStrict(ctx, insertOrder, args)
	require.NoError(t, err)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)
	testutil.Exec(t, m, "DELETE FROM orders WHERE id > 1")

	require.NoError(t, e.Restore(ctx, snap))
	assertRowsEqual(t, snap.Tables[0].Rows, readAll(t, m, "orders"))
}

func TestRestore_NilSnapshot(t *testing.T) {
	e, _ := newEngine(t)
	assert.Error(t, e.Restore(context.Background(), nil))
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)
	testutil.Exec(t, m, itemsSchema, "INSERT INTO items (id, label) VALUES (1, 'a'), (2, 'b'), (3, 'c')")

	n := e.Cleanup(ctx, []string{"orders"}, "status = ?", "pending")
	assert.Equal(t, int64(1), n)

	n = e.Cleanup(ctx, []string{"orders", "missing", "items"}, "")
	assert.Equal(t, int64(4), n)
	assert.Equal(t, int64(0), m.RowCount(ctx, "items", ""))
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)

	mismatches, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	testutil.Exec(t, m, "UPDATE orders SET status = 'cancelled' WHERE id = 2")
	mismatches, err = e.Verify(ctx, snap)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 1, mismatches[0].Row)
	assert.Contains(t, mismatches[0].String(), "status")

	testutil.Exec(t, m, "DELETE FROM orders WHERE id = 1")
	mismatches, err = e.Verify(ctx, snap)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, -1, mismatches[0].Row)
	assert.Equal(t, 1, mismatches[0].Actual)
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 1000, batchSize(1000, 65535, 4))
	assert.Equal(t, 500, batchSize(1000, 2000, 4))
	assert.Equal(t, 1, batchSize(1000, 2000, 5000))
}

func TestRowArgs_ReordersByName(t *testing.T) {
	row := db.Row{
		{Name: "b", Value: db.Int(2)},
		{Name: "a", Value: db.String("x")},
	}
	d := sqlite.Dialect{}
	assert.Equal(t, []any{int64(2), "x"}, rowArgs(d, row, []string{"b", "a"}))
	assert.Equal(t, []any{"x", int64(2)}, rowArgs(d, row, []string{"a", "b"}))
}

func TestRowArgs_SQLiteTimeText(t *testing.T) {
	row := db.Row{
		{Name: "at", Value: db.Time(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))},
	}
	assert.Equal(t, []any{"2024-01-01 10:00:00"}, rowArgs(sqlite.Dialect{}, row, []string{"at"}))
}

func TestRoundTrip_DateTimeKeepsStoredText(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.Exec(t, m, eventsSchema,
		"INSERT INTO events VALUES (1, '2024-01-01 10:00:00', '2024-01-01')",
		"INSERT INTO events VALUES (2, '2024-02-03T04:05:06.5Z', '2024-02-03')",
		"INSERT INTO events VALUES (3, NULL, NULL)",
	)
	wantAt := storedText(t, m, "events", "created_at")
	wantDay := storedText(t, m, "events", "day")

	snap, err := e.Capture(ctx, []string{"events"})
	require.NoError(t, err)

	testutil.Exec(t, m, "UPDATE events SET created_at = '1999-12-31 00:00:00'", "DELETE FROM events WHERE id = 3")
	require.NoError(t, e.Restore(ctx, snap))

	assert.Equal(t, wantAt, storedText(t, m, "events", "created_at"))
	assert.Equal(t, wantDay, storedText(t, m, "events", "day"))

	rows, err := m.QueryStrict(ctx, "SELECT date(created_at) FROM events WHERE id = 1")
	require.NoError(t, err)
	require.Equal(t, 1, rows.Len())
	assert.Equal(t, "2024-01-01", rows.Data[0][0].Value.String())

	mismatches, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerify_DetectsReformattedTime(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.Exec(t, m, eventsSchema, "INSERT INTO events VALUES (1, '2024-01-01 10:00:00', '2024-01-01')")

	snap, err := e.Capture(ctx, []string{"events"})
	require.NoError(t, err)

	// same instant, different stored text
	testutil.Exec(t, m, "UPDATE events SET created_at = '2024-01-01 10:00:00 +0000 UTC'")
	mismatches, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, 0, mismatches[0].Row)
	assert.Contains(t, mismatches[0].Reason, "created_at")
}

func TestVerify_RepeatedTable(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.SeedOrders(t, m)

	snap, err := e.Capture(ctx, []string{"orders"})
	require.NoError(t, err)
	snap.Tables = append(snap.Tables, snap.Tables[0])

	mismatches, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	testutil.Exec(t, m, "DELETE FROM orders WHERE id = 2")
	mismatches, err = e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Len(t, mismatches, 2)
}

func TestRestore_ParentsBeforeChildren(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t)
	testutil.Exec(t, m,
		"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)",
		"CREATE TABLE purchases (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL REFERENCES customers(id))",
		"INSERT INTO customers VALUES (1, 'ada')",
		"INSERT INTO purchases VALUES (10, 1)",
	)

	snap, err := e.Capture(ctx, []string{"customers", "purchases"})
	require.NoError(t, err)

	testutil.Exec(t, m, "INSERT INTO customers VALUES (2, 'bob')", "INSERT INTO purchases VALUES (11, 2)")
	require.NoError(t, e.Restore(ctx, snap))
	assert.Equal(t, int64(1), m.RowCount(ctx, "customers", ""))
	assert.Equal(t, int64(1), m.RowCount(ctx, "purchases", ""))
}

type item struct {
	id      int64
	label   *string
	qty     *int64
	price   *float64
	payload []byte
	created *string
}

func itemGen() *rapid.Generator[item] {
	return rapid.Custom(func(t *rapid.T) item {
		it := item{}
		if rapid.Bool().Draw(t, "hasLabel") {
			s := rapid.StringMatching(`[a-zA-Z0-9 ';,-]{0,20}`).Draw(t, "label")
			it.label = &s
		}
		if rapid.Bool().Draw(t, "hasQty") {
			q := rapid.Int64().Draw(t, "qty")
			it.qty = &q
		}
		if rapid.Bool().Draw(t, "hasPrice") {
			p := rapid.Float64Range(-1e9, 1e9).Draw(t, "price")
			it.price = &p
		}
		if rapid.Bool().Draw(t, "hasPayload") {
			it.payload = rapid.SliceOfN(rapid.Byte(), 1, 16).Draw(t, "payload")
		}
		if rapid.Bool().Draw(t, "hasCreated") {
			sec := rapid.Int64Range(0, 4102444800).Draw(t, "createdSec")
			ts := time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
			if rapid.Bool().Draw(t, "createdFrac") {
				ts += fmt.Sprintf(".%03d", rapid.IntRange(0, 999).Draw(t, "createdMillis"))
			}
			it.created = &ts
		}
		return it
	})
}

func (it item) args() []any {
	args := []any{it.id, nil, nil, nil, nil, nil}
	if it.label != nil {
		args[1] = *it.label
	}
	if it.qty != nil {
		args[2] = *it.qty
	}
	if it.price != nil {
		args[3] = *it.price
	}
	if it.payload != nil {
		args[4] = it.payload
	}
	if it.created != nil {
		args[5] = *it.created
	}
	return args
}

func TestRoundTrip_Property(t *testing.T) {
	ctx := context.Background()
	e, m := newEngine(t, WithBatchRows(3))
	testutil.Exec(t, m, itemsSchema)

	rapid.Check(t, func(rt *rapid.T) {
		_, err := m.ExecuteStrict(ctx, "DELETE FROM items")
		require.NoError(rt, err)

		items := rapid.SliceOfN(itemGen(), 0, 12).Draw(rt, "items")
		var args [][]any
		for i, it := range items {
			it.id = int64(i + 1)
			args = append(args, it.args())
		}
		_, err = m.ExecuteManyStrict(ctx, "INSERT INTO items VALUES (?, ?, ?, ?, ?, ?)", args)
		require.NoError(rt, err)

		want := readAll(rt, m, "items")
		wantCreated := storedText(rt, m, "items", "created_at")
		snap, err := e.Capture(ctx, []string{"items"})
		require.NoError(rt, err)

		mutations := rapid.SliceOfN(rapid.IntRange(0, 2), 0, 5).Draw(rt, "mutations")
		for i, op := range mutations {
			switch op {
			case 0:
				_, err = m.ExecuteStrict(ctx, "DELETE FROM items WHERE id = ?", i+1)
			case 1:
				_, err = m.ExecuteStrict(ctx, "UPDATE items SET label = 'changed', qty = qty + 1")
			case 2:
				_, err = m.ExecuteStrict(ctx, "INSERT INTO items (id, label) VALUES (?, 'extra')", 1000+i)
			}
			require.NoError(rt, err)
		}

		require.NoError(rt, e.Restore(ctx, snap))
		got := readAll(rt, m, "items")
		require.Len(rt, got, len(want))
		for i := range want {
			if reason, ok := diffRow(want[i], got[i]); !ok {
				rt.Fatalf("row %d: %s", i, reason)
			}
		}
		require.Equal(rt, wantCreated, storedText(rt, m, "items", "created_at"))

		// restoring again changes nothing
		require.NoError(rt, e.Restore(ctx, snap))
		require.Equal(rt, int64(len(want)), m.RowCount(ctx, "items", ""))
	})
}
