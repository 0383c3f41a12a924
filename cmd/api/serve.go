package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/InahHwang/d-care-console-sub007/internal/infra/httpserver"
	"github.com/InahHwang/d-care-console-sub007/internal/middleware"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the pipeline workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		port := cfg.Server.Port
		if servePort > 0 {
			port = servePort
		}
		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: httpserver.NewRouter(httpserver.Options{
				Calls:          a.service,
				Identity:       a.resolver,
				Phones:         a.stores.directory,
				Metrics:        a.metrics,
				Health:         a.health,
				APIKeys:        cfg.Auth.APIKeys,
				RateLimiter:    middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Logger:         logger.Named("http"),
			}),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		// workers outlive ctx by the run budget so in-flight calls can finish
		workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelWorkers()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("pipeline workers started", zap.Int("workers", cfg.Pipeline.Workers))
			return a.queue.Run(workerCtx, cfg.Pipeline.Workers, a.orch.Handle)
		})
		g.Go(func() error {
			logger.Info("server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown error", zap.Error(err))
			}

			a.queue.Close()
			drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.orch.Budget())
			defer cancelDrain()
			if err := a.queue.Drain(drainCtx); err != nil {
				logger.Warn("pipeline drain timed out, runs left for retrigger", zap.Int("pending", a.queue.Pending()))
			}
			cancelWorkers()
			return nil
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
}
