package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tasktide/internal/api"
	"tasktide/pkg/audit"
	"tasktide/pkg/trigger"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(cmd, func(_ context.Context, a *app) error {
				if addr != "" {
					a.cfg.Server.Addr = addr
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := audit.NewBus(a.audit)
	engine := a.engine(bus)
	sweeps, err := trigger.New(engine, a.cfg.Sweep.Schedule, trigger.WithLogger(a.logger))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.New(a.tasks, bus, engine, sweeps, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	trigDone := make(chan error, 1)
	go func() { trigDone <- sweeps.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() {
		a.logger.Info("tasktide listening", "addr", srv.Addr, "store", a.cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("tasktide: shutting down")
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("listen: %w", err)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("tasktide: http shutdown", "error", err)
	}
	if err := <-trigDone; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
