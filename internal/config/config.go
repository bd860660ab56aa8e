// Package config loads sqlfixture configuration.
//
// Sources, later overriding earlier:
//  1. Built-in defaults
//  2. YAML file (--config)
//  3. Legacy variables (MYSQL_HOST, MYSQL_PASSWORD, ENCRYPTION_KEY, ...)
//  4. SQLFIXTURE_* environment variables
//
// A .env file is read into the process environment first; variables that
// are already set win over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bgunnarsson/sqlfixture/internal/db"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
	"github.com/bgunnarsson/sqlfixture/internal/vault"
)

const (
	DefaultEnvPrefix = "SQLFIXTURE_"
	DefaultEnvFile   = ".env"
)

// legacyEnv maps the variable names used by older test suites to keys.
var legacyEnv = map[string]string{
	"MYSQL_HOST":        "db.host",
	"MYSQL_PORT":        "db.port",
	"MYSQL_USER":        "db.user",
	"MYSQL_PASSWORD":    "db.password",
	"MYSQL_DATABASE":    "db.name",
	vault.EnvPassphrase: "vault.passphrase",
}

type DB struct {
	Driver   string            `koanf:"driver"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Name     string            `koanf:"name"`
	Params   map[string]string `koanf:"params"`
}

type Vault struct {
	Passphrase string `koanf:"passphrase"`
	Iterations int    `koanf:"iterations"`
	Cipher     string `koanf:"cipher"`
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Config struct {
	DB    DB    `koanf:"db"`
	Vault Vault `koanf:"vault"`
	Log   Log   `koanf:"log"`
}

// Defaults returns the built-in configuration as a nested map.
func Defaults() map[string]any {
	return map[string]any{
		"db": map[string]any{
			"driver": "mysql",
			"host":   "localhost",
			"user":   "root",
		},
		"vault": map[string]any{
			"iterations": vault.DefaultIterations,
			"cipher":     string(vault.CipherAESGCM),
		},
		"log": map[string]any{
			"level":  "info",
			"format": "text",
		},
	}
}

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	envFile   string
}

// Option is a function that configures the Loader.
type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithEnvFile sets the dotenv file. A missing DefaultEnvFile is ignored; any
// other missing file is an error.
func WithEnvFile(path string) Option {
	return func(l *Loader) { l.envFile = path }
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every source and returns the merged configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFile(); err != nil {
		return nil, err
	}
	if err := l.k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	if err := l.loadLegacyEnv(); err != nil {
		return nil, err
	}
	if err := l.loadEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Load is NewLoader(opts...).Load().
func Load(opts ...Option) (*Config, error) {
	return NewLoader(opts...).Load()
}

func (l *Loader) loadEnvFile() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) && l.envFile == DefaultEnvFile {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", l.envFile, err)
	}
	return nil
}

func (l *Loader) loadLegacyEnv() error {
	flat := map[string]any{}
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			flat[key] = v
		}
	}
	if len(flat) == 0 {
		return nil
	}
	if err := l.k.Load(mapProvider(maps.Unflatten(flat, ".")), nil); err != nil {
		return fmt.Errorf("load legacy env: %w", err)
	}
	return nil
}

// loadEnv reads prefixed variables.
// SQLFIXTURE_DB_HOST -> db.host
func (l *Loader) loadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// DBConfig converts the db section into a connection config.
func (c *Config) DBConfig() (db.Config, error) {
	driver, err := db.ParseDriver(c.DB.Driver)
	if err != nil {
		return db.Config{}, err
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		return db.Config{}, fmt.Errorf("invalid db.port %d", c.DB.Port)
	}
	params := make(map[string]string, len(c.DB.Params))
	for k, v := range c.DB.Params {
		params[k] = v
	}
	return db.Config{
		Driver:   driver,
		Host:     c.DB.Host,
		Port:     c.DB.Port,
		User:     c.DB.User,
		Password: c.DB.Password,
		Database: c.DB.Name,
		Params:   params,
	}, nil
}

// VaultOptions returns the options for vault.New. An empty passphrase is
// left out so the vault falls back to its own defaults.
func (c *Config) VaultOptions(passphrase string) []vault.Option {
	var opts []vault.Option
	switch {
	case passphrase != "":
		opts = append(opts, vault.WithPassphrase(passphrase))
	case c.Vault.Passphrase != "":
		opts = append(opts, vault.WithPassphrase(c.Vault.Passphrase))
	}
	if c.Vault.Iterations != 0 {
		opts = append(opts, vault.WithIterations(c.Vault.Iterations))
	}
	if c.Vault.Cipher != "" {
		opts = append(opts, vault.WithCipher(vault.CipherType(c.Vault.Cipher)))
	}
	return opts
}

func (c *Config) LoggerOptions() logger.Options {
	opts := logger.DefaultOptions()
	if c.Log.Level != "" {
		opts.Level = c.Log.Level
	}
	if c.Log.Format != "" {
		opts.Format = c.Log.Format
	}
	return opts
}
