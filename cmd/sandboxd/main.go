// Command sandboxd runs the Code Interpreter Service: a warm pool of
// firecracker microVMs, one bound per active conversation, exposed over
// the /v1 HTTP facade in front of it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentplatform/core/internal/observability"
	"github.com/agentplatform/core/internal/sandboxapi"
	"github.com/agentplatform/core/internal/tools/sandbox/firecracker"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		addr          string
		bearerToken   string
		poolSize      int
		maxSessions   int
		idleTimeout   time.Duration
		podURLs       string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "Run the code interpreter sandbox service",
		Long: `sandboxd exposes a pool of firecracker microVMs over HTTP.
Each conversation is bound to exactly one VM until it is idle for
longer than --idle-timeout.`,
		Example: `  sandboxd --addr :8081 --pool-size 5 --idle-timeout 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.NewLogger(observability.LogConfig{Level: logLevel, Format: "json"})
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			poolCfg := firecracker.DefaultPoolConfig()
			poolCfg.InitialSize = poolSize
			poolCfg.MaxSize = poolSize

			pool, err := firecracker.NewVMPool(poolCfg)
			if err != nil {
				return fmt.Errorf("create vm pool: %w", err)
			}
			if err := pool.Start(ctx); err != nil {
				return fmt.Errorf("start vm pool: %w", err)
			}
			defer pool.Close()

			sessionCfg := firecracker.DefaultSessionManagerConfig()
			sessionCfg.IdleTimeout = idleTimeout
			sessionCfg.MaxSessions = maxSessions
			sessions := firecracker.NewSessionManager(pool, sessionCfg)
			sessions.StartIdleSweeper(ctx)

			apiCfg := sandboxapi.DefaultConfig()
			apiCfg.BearerToken = bearerToken
			apiCfg.Metrics = observability.NewMetrics()
			srv := sandboxapi.New(sessions, apiCfg)

			httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

			if pods := strings.TrimSpace(podURLs); pods != "" {
				if _, err := firecracker.NewRoutingClient(strings.Split(pods, ",")); err != nil {
					return fmt.Errorf("parse --pods: %w", err)
				}
			}

			logger.Info(ctx, "sandboxd listening", "addr", addr, "pool_size", poolSize)
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()

			select {
			case <-ctx.Done():
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				return httpSrv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8081", "listen address")
	cmd.Flags().StringVar(&bearerToken, "bearer-token", os.Getenv("SANDBOXD_BEARER_TOKEN"), "shared bearer token required on non-health routes")
	cmd.Flags().IntVar(&poolSize, "pool-size", envInt("SANDBOXD_POOL_SIZE", 3), "warm pool size")
	cmd.Flags().IntVar(&maxSessions, "max-sessions", envInt("SANDBOXD_MAX_SESSIONS", 50), "max concurrent session bindings on this pod")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "session idle eviction timeout")
	cmd.Flags().StringVar(&podURLs, "pods", os.Getenv("SANDBOXD_PODS"), "comma-separated list of pod URLs for consistent-hash routing")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error")

	return cmd
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
