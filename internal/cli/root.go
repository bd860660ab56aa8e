// Package cli implements the sqlfixture command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bgunnarsson/sqlfixture/internal/config"
	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/telemetry/logger"
	"github.com/bgunnarsson/sqlfixture/internal/vault"
)

type rootFlags struct {
	configFile string
	envFile    string
	driver     string
	host       string
	port       int
	user       string
	password   string
	database   string
	logLevel   string
}

// app carries state shared by the subcommands of one invocation.
type app struct {
	flags rootFlags
	cfg   *config.Config
	log   logger.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sqlfixture",
		Short: "Database fixture snapshots and credential tooling",
		Long: `sqlfixture captures and restores table contents for destructive tests and
manages encrypted database credentials.

Connection settings come from --config, a .env file, MYSQL_* variables and
SQLFIXTURE_* variables, in increasing priority. Flags override all of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.configFile, "config", "", "YAML configuration file")
	f.StringVar(&a.flags.envFile, "env-file", config.DefaultEnvFile, "dotenv file to load")
	f.StringVar(&a.flags.driver, "driver", "", "database driver (mysql, postgres, sqlite, mssql)")
	f.StringVar(&a.flags.host, "host", "", "database host")
	f.IntVar(&a.flags.port, "port", 0, "database port")
	f.StringVarP(&a.flags.user, "user", "u", "", "database user")
	f.StringVar(&a.flags.password, "password", "", "database password, plain or encrypted")
	f.StringVarP(&a.flags.database, "database", "d", "", "database name, or file path for sqlite")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newGenerateKeyCmd(),
		newEncryptCmd(a),
		newDecryptCmd(a),
		newQueryCmd(a),
		newInfoCmd(a),
		newDescribeCmd(a),
		newCleanupCmd(a),
		newExecFileCmd(a),
		newSnapshotCheckCmd(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(
		config.WithConfigFile(a.flags.configFile),
		config.WithEnvFile(a.flags.envFile),
	)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.DB.Driver = a.flags.driver
	}
	if flags.Changed("host") {
		cfg.DB.Host = a.flags.host
	}
	if flags.Changed("port") {
		cfg.DB.Port = a.flags.port
	}
	if flags.Changed("user") {
		cfg.DB.User = a.flags.user
	}
	if flags.Changed("password") {
		cfg.DB.Password = a.flags.password
	}
	if flags.Changed("database") {
		cfg.DB.Name = a.flags.database
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.flags.logLevel
	}

	opts := cfg.LoggerOptions()
	opts.Output = cmd.ErrOrStderr()
	a.log = logger.New(opts)
	logger.SetDefault(a.log)
	a.cfg = cfg
	return nil
}

func (a *app) vault(passphrase string) (*vault.Vault, error) {
	return vault.New(append(a.cfg.VaultOptions(passphrase), vault.WithLogger(a.log))...)
}

// connect opens a Manager for the configured database. The caller must
// Disconnect it.
func (a *app) connect(ctx context.Context) (*connection.Manager, error) {
	dbCfg, err := a.cfg.DBConfig()
	if err != nil {
		return nil, err
	}

	opts := []connection.Option{connection.WithLogger(a.log)}
	if vault.IsEncrypted(dbCfg.Password) {
		v, err := a.vault("")
		if err != nil {
			return nil, err
		}
		opts = append(opts, connection.WithVault(v))
	}
	return connection.Connect(ctx, dbCfg, opts...)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
