package fixture

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
	"github.com/bgunnarsson/sqlfixture/internal/testutil"
)

func newManager(t *testing.T) (*Manager, *connection.Manager) {
	t.Helper()
	conn := testutil.NewSQLite(t)
	return NewManager(conn, WithLogger(logger.Nop())), conn
}

func TestScenario_SaveUpdateRestore(t *testing.T) {
	ctx := context.Background()
	fm, conn := newManager(t)
	testutil.SeedOrders(t, conn)

	require.NoError(t, fm.SaveSnapshot(ctx, "s1", []string{"orders"}))
	testutil.Exec(t, conn, "UPDATE orders SET status = 'cancelled'")
	require.NoError(t, fm.RestoreSnapshot(ctx, "s1"))

	rows, err := conn.QueryStrict(ctx, "SELECT * FROM orders")
	require.NoError(t, err)
	require.Equal(t, 2, rows.Len())

	want := []struct {
		id     int64
		number string
		amount float64
		status string
	}{
		{1, "ORD001", 100.00, "pending"},
		{2, "ORD002", 200.00, "completed"},
	}
	for i, w := range want {
		row := rows.Data[i]
		id, _ := row.Get("id")
		number, _ := row.Get("order_number")
		amount, _ := row.Get("amount")
		status, _ := row.Get("status")
		assert.True(t, id.Equal(db.Int(w.id)), "id %s", id)
		assert.True(t, number.Equal(db.String(w.number)), "order_number %s", number)
		assert.True(t, amount.Equal(db.Float(w.amount)), "amount %s", amount)
		assert.True(t, status.Equal(db.String(w.status)), "status %s", status)
	}
}

func TestRestoreSnapshot_UnknownNameWarns(t *testing.T) {
	conn := testutil.NewSQLite(t)
	var buf bytes.Buffer
	fm := NewManager(conn, WithLogger(logger.New(logger.Options{Level: "warn", Format: "logfmt", Output: &buf})))

	require.NoError(t, fm.RestoreSnapshot(context.Background(), "missing"))
	assert.Contains(t, buf.String(), "snapshot not found")
	assert.Contains(t, buf.String(), "missing")
}

func TestSaveSnapshot_Overwrites(t *testing.T) {
	ctx := context.Background()
	fm, conn := newManager(t)
	testutil.SeedOrders(t, conn)

	require.NoError(t, fm.SaveSnapshot(ctx, "s", []string{"orders"}))
	testutil.Exec(t, conn, "DELETE FROM orders WHERE id = 2")
	require.NoError(t, fm.SaveSnapshot(ctx, "s", []string{"orders"}))

	snap, err := fm.Snapshot("s")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RowCount())
}

func TestSaveSnapshot_CaptureFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	fm, conn := newManager(t)
	testutil.SeedOrders(t, conn)

	require.NoError(t, fm.SaveSnapshot(ctx, "s", []string{"orders"}))
	require.Error(t, fm.SaveSnapshot(ctx, "s", []string{"orders", "nope"}))

	snap, err := fm.Snapshot("s")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RowCount())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	fm, conn := newManager(t)
	testutil.SeedOrders(t, conn)

	_, err := fm.Snapshot("b")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	require.NoError(t, fm.SaveSnapshot(ctx, "b", []string{"orders"}))
	require.NoError(t, fm.SaveSnapshot(ctx, "a", []string{"orders"}))
	assert.Equal(t, []string{"a", "b"}, fm.Names())
	assert.True(t, fm.Has("a"))

	assert.True(t, fm.Delete("a"))
	assert.False(t, fm.Delete("a"))
	assert.False(t, fm.Has("a"))
	assert.Equal(t, []string{"b"}, fm.Names())
}

func TestCleanupAllTestData(t *testing.T) {
	ctx := context.Background()
	fm, conn := newManager(t)
	testutil.SeedOrders(t, conn)

	assert.Equal(t, int64(2), fm.CleanupAllTestData(ctx, []string{"orders"}))
	assert.Equal(t, int64(0), conn.RowCount(ctx, "orders", ""))
}
