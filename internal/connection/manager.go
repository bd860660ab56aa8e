// Package connection owns the single database connection used by the
// snapshot engine and the CLI.
//
// A Manager pins one *sql.Conn so that session state (temporary tables,
// IDENTITY_INSERT, in-memory SQLite databases) survives between calls.
// It is not safe for concurrent use.
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"time"

	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
	"github.com/bgunnarsson/sqlfixture/internal/vault"
)

const pingTimeout = 5 * time.Second

type options struct {
	vault *vault.Vault
	log   logger.Logger
}

type Option func(*options)

// WithVault sets the vault used to decrypt an encrypted password.
func WithVault(v *vault.Vault) Option {
	return func(o *options) { o.vault = v }
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

type Manager struct {
	cfg     db.Config
	dialect db.Dialect
	log     logger.Logger

	pool    *sql.DB
	conn    *sql.Conn
	lastErr error
}

// New validates cfg and resolves its password. A tagged password that
// cannot be decrypted is returned as an error wrapping
// *vault.DecryptionError.
func New(cfg db.Config, opts ...Option) (*Manager, error) {
	o := options{log: logger.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	cfg.Driver = d.Name()
	cfg.Params = maps.Clone(cfg.Params)

	if vault.IsEncrypted(cfg.Password) {
		v := o.vault
		if v == nil {
			v, err = vault.New(vault.WithLogger(o.log))
			if err != nil {
				return nil, err
			}
		}
		plain, err := v.DecryptIfNeeded(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("connection: resolve password: %w", err)
		}
		cfg.Password = plain
	}

	return &Manager{
		cfg:     cfg,
		dialect: d,
		log:     o.log.With("driver", string(d.Name())),
	}, nil
}

// Connect is New followed by Manager.Connect.
func Connect(ctx context.Context, cfg db.Config, opts ...Option) (*Manager, error) {
	m, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Connect opens the pool and pins a verified connection. It does not
// retry. Calling it on a connected Manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if m.conn != nil {
		return nil
	}

	addr := m.cfg.Address()
	fail := func(op string, err error) error {
		m.log.Error("connection failed", "op", op, "addr", addr, "err", err)
		return &ConnectionError{Op: op, Driver: m.cfg.Driver, Addr: addr, Err: err}
	}

	pool, err := m.dialect.Open(m.cfg)
	if err != nil {
		return fail("open", err)
	}
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := pool.Conn(pingCtx)
	if err != nil {
		_ = pool.Close()
		return fail("connect", err)
	}
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		_ = pool.Close()
		return fail("ping", err)
	}

	m.pool = pool
	m.conn = conn
	m.log.Info("connected", "addr", addr, "database", m.cfg.Database)
	return nil
}

// Disconnect releases the connection. It is safe to call more than once.
func (m *Manager) Disconnect() error {
	if m.pool == nil {
		return nil
	}
	var err error
	if m.conn != nil {
		err = m.conn.Close()
	}
	if cerr := m.pool.Close(); err == nil {
		err = cerr
	}
	m.conn = nil
	m.pool = nil
	m.log.Info("disconnected")
	return err
}

func (m *Manager) Connected() bool { return m.conn != nil }

func (m *Manager) Dialect() db.Dialect { return m.dialect }

// Config returns the configuration with the password removed.
func (m *Manager) Config() db.Config {
	cfg := m.cfg
	cfg.Password = ""
	cfg.Params = maps.Clone(cfg.Params)
	return cfg
}

// LastError returns the failure recorded by the most recent lenient call,
// or nil when it succeeded.
func (m *Manager) LastError() error { return m.lastErr }

func (m *Manager) Logger() logger.Logger { return m.log }

func (m *Manager) querier() (db.Querier, error) {
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

func (m *Manager) record(op, query string, err error) {
	m.lastErr = err
	if err != nil {
		m.log.Error(op+" failed", "query", excerpt(query), "err", err)
	}
}
