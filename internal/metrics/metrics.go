package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "primp_requests_total",
			Help: "Total number of requests sent, by outcome",
		},
		[]string{"host", "method", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "primp_request_duration_seconds",
			Help:    "Time from send to response headers in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	BodyBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "primp_body_bytes_total",
			Help: "Total response body bytes materialized",
		},
		[]string{"host"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "primp_proxy_failures_total",
			Help: "Total number of requests that failed through a proxy",
		},
		[]string{"proxy_url"},
	)
)

// RecordRequest counts one exchange. A status of 0 means the send failed.
func RecordRequest(host, method string, status int, d time.Duration) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	RequestsTotal.WithLabelValues(host, method, statusStr).Inc()
	RequestDuration.WithLabelValues(host).Observe(d.Seconds())
}

// RecordBody adds n materialized body bytes for host.
func RecordBody(host string, n int) {
	BodyBytesTotal.WithLabelValues(host).Add(float64(n))
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv *http.Server
}

// Start listens on port in the background.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop shuts the server down, waiting at most 5s.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
