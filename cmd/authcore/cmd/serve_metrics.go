package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	metricsAddr       string
	metricsPurgeEvery time.Duration
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics while purging expired records",
	Long: `Runs an engine that purges expired sessions and tokens on an interval
and exposes its counters on /metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, log, cleanup, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		handler, err := prometheus.NewCollector(engine).Handler()
		if err != nil {
			return fmt.Errorf("metrics handler: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := engine.Ping(r.Context()); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("OK"))
		})
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go purgeLoop(ctx, engine.Purge, metricsPurgeEvery, log)

		errCh := make(chan error, 1)
		go func() {
			log.Info("serving metrics", zap.String("addr", metricsAddr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveMetricsCmd.Flags().StringVar(&metricsAddr, "addr", ":9464", "Listen address")
	serveMetricsCmd.Flags().DurationVar(&metricsPurgeEvery, "purge-interval", 5*time.Minute, "Interval between purges; 0 disables")
	rootCmd.AddCommand(serveMetricsCmd)
}

func purgeLoop[R any](ctx context.Context, purge func(context.Context) (R, error), every time.Duration, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := purge(ctx); err != nil && ctx.Err() == nil {
				log.Warn("purge failed", zap.Error(err))
			}
		}
	}
}
