package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/copydeck/internal/api"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Stdout:  a.cfg.OTelStdout,
		Writer:  os.Stdout,
		Version: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			a.log.Warn("tracing shutdown", "error", err)
		}
	}()

	go a.cache.RunPruner(ctx, a.cfg.CachePruneInterval)

	w := worker.New(a.store, a.orch, a.cfg.WorkerInterval,
		worker.WithLogger(a.log.With("component", "worker")),
		worker.WithMetrics(a.metrics),
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Start(ctx)
	}()

	srv := api.New(api.Deps{
		Jobs:       a.store,
		Generator:  a.orch,
		Cache:      a.cache,
		Guard:      a.guard,
		Metrics:    a.metrics,
		Logger:     a.log.With("component", "api"),
		CORSOrigin: a.cfg.CORSOrigin,
	})
	httpServer := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("copydeck listening", "addr", "http://localhost:"+a.cfg.Port, "version", version)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	stop()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown", "error", err)
	}
	<-workerDone
	if err := a.cache.Flush(sctx); err != nil {
		a.log.Warn("cache flush", "error", err)
	}
	return nil
}
