package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/scheduler"
	"github.com/jo-hoe/reelcaster/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, task queue and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}

			lock, err := acquireLock(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Unlock() }()

			a, err := openApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("close resources", "err", err)
				}
			}()

			rootCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// The queue gets its own context so a signal lets the running task finish within the grace period.
			queueCtx, cancelQueue := context.WithCancel(context.Background())
			defer cancelQueue()
			queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, a.runs)
			if err := queue.Start(queueCtx, a.worker); err != nil {
				return err
			}

			sched, err := scheduler.New(logger, cfg.Schedule, queue)
			if err != nil {
				queue.Shutdown(0)
				return err
			}
			sched.Start()

			svc := &server.Service{
				Log:      logger,
				Cfg:      cfg,
				Progress: a.progress,
				Runs:     a.runs,
				Queue:    queue,
			}
			if a.local != nil {
				svc.Media = a.local
			}
			httpSrv := server.NewHTTPServer(svc)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server starting", "address", cfg.Server.Addr, "stream", cfg.Store.Stream)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-rootCtx.Done():
				logger.Info("shutdown signal received")
			case serveErr = <-errCh:
				if serveErr != nil {
					logger.Error("server error", "err", serveErr)
				}
			}

			// Stop triggers first, then drain HTTP, then let the running task finish.
			sched.Stop()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
			defer cancelShutdown()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "err", err)
			}
			queue.Shutdown(cfg.Server.ShutdownGrace)
			logger.Info("server stopped")
			return serveErr
		},
	}
}
