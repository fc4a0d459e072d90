package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tasktide/internal/config"
	"tasktide/internal/db"
	"tasktide/pkg/audit"
	"tasktide/pkg/lifecycle"
	"tasktide/pkg/task"
)

var Version = "dev"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "tasktide",
		Short:         "tasktide - personal task lifecycle tracker",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TASKTIDE_CONFIG"), "path to YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the store handles for one command invocation. It is the only
// owner of the underlying connections.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tasks  task.Store
	audit  audit.Store
	close  func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.tasks = task.NewPgStore(pool)
		a.audit = audit.NewPgStore(pool)
		a.close = pool.Close
	default:
		conn, err := db.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.tasks = task.NewSQLiteStore(conn)
		a.audit = audit.NewSQLiteStore(conn)
		a.close = func() { conn.Close() }
	}

	if err := a.tasks.EnsureTable(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure tasks table: %w", err)
	}
	if err := a.audit.EnsureTable(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure audit table: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.close != nil {
		a.close()
	}
}

func (a *app) engine(sink audit.Sink) *lifecycle.Engine {
	return lifecycle.New(a.tasks, sink,
		lifecycle.WithWorkers(a.cfg.Sweep.Workers),
		lifecycle.WithStoreTimeout(a.cfg.Sweep.StoreTimeout),
		lifecycle.WithWriteInterval(a.cfg.Sweep.WriteInterval),
		lifecycle.WithLogger(a.logger),
	)
}

// withApp opens the stores, runs fn and closes them again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("tasktide", Version)
		},
	}
}
