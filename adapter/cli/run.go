package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/beacon/internal/agent/core"
	"github.com/felixgeelhaar/beacon/pkg/config"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long: `Run the agent until interrupted.

The agent serves /healthz, /readyz, /metrics and read-only state under /v1
on BEACON_HEALTH_ADDR. When BEACON_METRICS_ADDR is set and differs, /metrics
is served there as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runAgent(cmd.Context(), cfg)
	},
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	agent, err := core.NewAgent(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer agent.Close()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	var servers []*http.Server
	if cfg.HealthAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.HealthAddr,
			Handler:           agent.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != cfg.HealthAddr {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", agent.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http server shutdown", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	logger.Info("agent running", "data_dir", cfg.DataDir)
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
