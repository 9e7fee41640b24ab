package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autopilot/internal/infra/config"
	"autopilot/internal/infra/middleware"
)

// Handler returns the ops mux: /metrics and /healthz behind the security
// headers and a per-client rate limit.
func Handler(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	var h http.Handler = mux
	if cfg.RatePerMinute > 0 {
		h = middleware.RateLimit(ctx, cfg.RatePerMinute, max(cfg.RatePerMinute/10, 1))(h)
	}
	return middleware.AccessLog(logger)(middleware.SecurityHeaders(h))
}

// Serve runs the ops listener until ctx is cancelled.
func Serve(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(ctx, cfg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listener started", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
