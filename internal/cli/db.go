package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgunnarsson/sqlfixture/internal/connection"
	"github.com/bgunnarsson/sqlfixture/internal/fixture"
	"github.com/bgunnarsson/sqlfixture/internal/print"
	"github.com/bgunnarsson/sqlfixture/internal/snapshot"
)

// withConn connects, runs fn and disconnects.
func (a *app) withConn(cmd *cobra.Command, fn func(*connection.Manager) error) error {
	m, err := a.connect(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = m.Disconnect() }()
	return fn(m)
}

func newQueryCmd(a *app) *cobra.Command {
	var exec bool
	var maxWidth int

	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run a SQL statement and print the result",
		Long: `Run a SQL statement. Extra arguments are bound to the statement's
placeholders in order. With --exec the statement runs in a transaction and
the affected row count is printed instead of a table.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]any, len(args)-1)
			for i, v := range args[1:] {
				params[i] = v
			}

			return a.withConn(cmd, func(m *connection.Manager) error {
				ctx := cmd.Context()
				out := cmd.OutOrStdout()
				if exec {
					n, err := m.ExecuteStrict(ctx, args[0], params...)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%d rows affected\n", n)
					return nil
				}

				rows, err := m.QueryStrict(ctx, args[0], params...)
				if err != nil {
					return err
				}
				print.RenderTable(out, rows, print.Options{MaxWidth: maxWidth, Color: isTerminal(out)})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&exec, "exec", false, "execute a write statement")
	cmd.Flags().IntVar(&maxWidth, "max-width", 60, "maximum column width")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server version and tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withConn(cmd, func(m *connection.Manager) error {
				info := m.Info(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "driver:   %s\n", info.Driver)
				if info.Host != "" {
					fmt.Fprintf(out, "host:     %s\n", info.Host)
				}
				if info.Port != 0 {
					fmt.Fprintf(out, "port:     %d\n", info.Port)
				}
				fmt.Fprintf(out, "database: %s\n", info.Database)
				fmt.Fprintf(out, "version:  %s\n", info.Version)
				fmt.Fprintf(out, "tables:   %d\n", len(info.Tables))
				for _, t := range info.Tables {
					fmt.Fprintf(out, "  %s\n", t)
				}
				return nil
			})
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "List the columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConn(cmd, func(m *connection.Manager) error {
				cols, err := m.DescribeTable(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(cols) == 0 {
					return fmt.Errorf("table %s not found", args[0])
				}
				out := cmd.OutOrStdout()
				print.RenderTable(out, print.ColumnsTable(cols), print.Options{Color: isTerminal(out)})
				return nil
			})
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var where string
	var whereArgs []string

	cmd := &cobra.Command{
		Use:   "cleanup <table>...",
		Short: "Delete test data from tables",
		Long: `Delete rows from each table, all of them unless --where restricts the
delete. --arg values are bound to placeholders in the condition.

	Examples:
	  sqlfixture cleanup orders order_items
	  sqlfixture cleanup orders --where "status = ?" --arg test`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConn(cmd, func(m *connection.Manager) error {
				fm := fixture.NewManager(m, fixture.WithLogger(a.log))

				var n int64
				if where == "" {
					n = fm.CleanupAllTestData(cmd.Context(), args)
				} else {
					params := make([]any, len(whereArgs))
					for i, v := range whereArgs {
						params[i] = v
					}
					n = fm.Engine().Cleanup(cmd.Context(), args, where, params...)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows deleted\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "condition appended as WHERE")
	cmd.Flags().StringArrayVar(&whereArgs, "arg", nil, "value bound to a placeholder in --where (repeatable)")
	return cmd
}

func newExecFileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec-file <path>",
		Short: "Execute a SQL script statement by statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConn(cmd, func(m *connection.Manager) error {
				if err := m.ExecuteFile(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "executed %s\n", args[0])
				return nil
			})
		},
	}
}

func newSnapshotCheckCmd(a *app) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "snapshot-check <table>...",
		Short: "Capture, restore and verify tables",
		Long: `Capture the given tables, restore them from the capture and verify that
the contents are unchanged. Use this to check that a schema round-trips
before relying on snapshots in tests.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConn(cmd, func(m *connection.Manager) error {
				ctx := cmd.Context()
				fm := fixture.NewManager(m, fixture.WithLogger(a.log))

				const name = "snapshot-check"
				if err := fm.SaveSnapshot(ctx, name, args); err != nil {
					return err
				}
				snap, err := fm.Snapshot(name)
				if err != nil {
					return err
				}

				var ropts []snapshot.RestoreOption
				if legacy {
					ropts = append(ropts, snapshot.WithoutTransaction())
				}
				if err := fm.RestoreSnapshot(ctx, name, ropts...); err != nil {
					return err
				}

				mismatches, err := fm.Engine().Verify(ctx, snap)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, mm := range mismatches {
					fmt.Fprintln(out, mm.String())
				}
				if len(mismatches) > 0 {
					return errors.New("snapshot mismatch in " + strings.Join(mismatchTables(mismatches), ", "))
				}
				fmt.Fprintf(out, "ok: %d tables, %d rows\n", len(snap.Tables), snap.RowCount())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&legacy, "no-tx", false, "restore table by table without a transaction")
	return cmd
}

func mismatchTables(mm []snapshot.Mismatch) []string {
	names := make([]string, len(mm))
	for i, m := range mm {
		names[i] = m.Table
	}
	return names
}
