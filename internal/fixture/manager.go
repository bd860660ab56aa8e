// Package fixture keeps named table snapshots for a test run.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/snapshot"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
)

var ErrSnapshotNotFound = errors.New("fixture: snapshot not found")

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithEngineOptions configures the snapshot engine built by NewManager.
func WithEngineOptions(opts ...snapshot.EngineOption) Option {
	return func(m *Manager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// Manager stores snapshots by name in memory.
type Manager struct {
	engine     *snapshot.Engine
	engineOpts []snapshot.EngineOption
	log        logger.Logger

	mu        sync.Mutex
	snapshots map[string]*snapshot.Snapshot
}

func NewManager(conn *connection.Manager, opts ...Option) *Manager {
	m := &Manager{
		log:       conn.Logger(),
		snapshots: make(map[string]*snapshot.Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	engineOpts := append([]snapshot.EngineOption{snapshot.WithLogger(m.log)}, m.engineOpts...)
	m.engine = snapshot.NewEngine(conn, engineOpts...)
	return m
}

func (m *Manager) Engine() *snapshot.Engine { return m.engine }

// SaveSnapshot captures tables and stores the result under name, replacing
// any snapshot already stored there.
func (m *Manager) SaveSnapshot(ctx context.Context, name string, tables []string) error {
	snap, err := m.engine.Capture(ctx, tables)
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", name, err)
	}

	m.mu.Lock()
	m.snapshots[name] = snap
	m.mu.Unlock()

	m.log.Info("snapshot saved", "name", name, "tables", len(snap.Tables))
	return nil
}

// RestoreSnapshot restores the named snapshot. An unknown name is logged
// as a warning and is not an error.
func (m *Manager) RestoreSnapshot(ctx context.Context, name string, opts ...snapshot.RestoreOption) error {
	m.mu.Lock()
	snap, ok := m.snapshots[name]
	m.mu.Unlock()

	if !ok {
		m.log.Warn("snapshot not found", "name", name)
		return nil
	}
	if err := m.engine.Restore(ctx, snap, opts...); err != nil {
		return fmt.Errorf("restore snapshot %q: %w", name, err)
	}
	m.log.Info("snapshot restored", "name", name)
	return nil
}

// CleanupAllTestData deletes every row from each table.
func (m *Manager) CleanupAllTestData(ctx context.Context, tables []string) int64 {
	n := m.engine.Cleanup(ctx, tables, "")
	m.log.Info("test data cleaned", "tables", len(tables), "rows", n)
	return n
}

func (m *Manager) Snapshot(name string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, name)
	}
	return snap, nil
}

func (m *Manager) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[name]
	return ok
}

// Names returns the stored snapshot names, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete removes the named snapshot and reports whether it existed.
func (m *Manager) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.snapshots[name]
	delete(m.snapshots, name)
	return ok
}
