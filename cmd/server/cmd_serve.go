package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/meetscribe/cmd/server/internal/api"
	"github.com/houzhh15/meetscribe/cmd/server/internal/jobs"
	"github.com/houzhh15/meetscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/meetscribe/cmd/server/internal/summary"
)

const cacheSweepInterval = time.Hour

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetString("port")
			}
			appLogger := l.With("component", "web-server")
			appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
			appLogger.Debug(cfg.PrintConfig())

			if cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}

			baseCtx, cancelJobs := context.WithCancel(context.Background())
			defer cancelJobs()

			st, err := buildStack(cfg, l)
			if err != nil {
				return err
			}
			if hc := st.provider.HealthChecker(); hc != nil {
				go hc.Start(baseCtx)
				defer hc.Stop()
			}
			if st.cache != nil {
				go sweepCache(baseCtx, st, appLogger)
			}

			reg, err := jobs.NewRegistry(st.pipeline, cfg.WorkDir, l)
			if err != nil {
				return err
			}
			if err := reg.Load(); err != nil {
				appLogger.Warn("failed to load jobs", "error", err)
			}

			opts := []api.Option{
				api.WithLogger(l),
				api.WithProvider(st.provider),
				api.WithEnvironment(orchestrator.NewEnvironmentChecker(cfg.Provider, st.provider.Primary, cfg.WorkDir, cacheDir(cfg))),
			}
			if sum, err := summary.New(cfg.Summary, nil, l); err != nil {
				appLogger.Warn("summarization disabled", "error", err)
			} else {
				opts = append(opts, api.WithSummarizer(sum))
			}

			server := api.NewServer(baseCtx, api.Config{
				JWTSecret:      []byte(cfg.Server.JWTSecret),
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			}, reg, opts...)
			if cfg.Server.JWTSecret == "" {
				appLogger.Warn("jwt secret not set, API authentication disabled")
			}

			// Create HTTP server with graceful shutdown
			srv := &http.Server{
				Addr:              cfg.GetServerAddr(),
				Handler:           server.Router(),
				ReadHeaderTimeout: 30 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			// Wait for interrupt signal to gracefully shut down the server
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer signal.Stop(quit)
			select {
			case err := <-serveErr:
				appLogger.Error("server failed", "error", err)
				return err
			case <-quit:
			}
			appLogger.Info("shutdown signal received, shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				appLogger.Error("server forced to shutdown", "error", err)
			}
			// 运行中的任务会被取消，已派发的切片在 drain 时限内完成
			if err := reg.Shutdown(ctx); err != nil {
				appLogger.Error("jobs did not drain", "error", err)
				return err
			}
			appLogger.Info("server shutdown complete")
			return nil
		},
	}
	c.Flags().String("port", "", "监听端口 (覆盖配置)")
	return c
}

func sweepCache(ctx context.Context, st *stack, l *slog.Logger) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.cache.CleanExpired()
			if err != nil {
				l.Warn("cache sweep failed", "error", err)
				continue
			}
			if n > 0 {
				l.Info("expired cache entries removed", "count", n)
			}
		}
	}
}
