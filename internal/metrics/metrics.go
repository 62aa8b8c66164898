// Package metrics exposes a prometheus /metrics endpoint shared by the
// server and discovery-service binaries: client counts, evictions,
// mixer tick duration, and process resource usage.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ascii-chat/ascii-chat/internal/logging"
)

var log = logging.L("metrics")

// Server gauges/counters, registered with the default registry at package init.
var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ascii_chat_server_clients_connected",
		Help: "Number of clients currently connected to this server.",
	})
	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ascii_chat_server_evictions_total",
		Help: "Total client evictions, labeled by reason.",
	}, []string{"reason"})
	VideoMixerTickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ascii_chat_server_video_mixer_tick_seconds",
		Help:    "Wall time spent compositing one video mixer tick.",
		Buckets: prometheus.DefBuckets,
	})
	AudioMixerTickSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ascii_chat_server_audio_mixer_tick_seconds",
		Help:    "Wall time spent compositing one audio mixer tick.",
		Buckets: prometheus.DefBuckets,
	})
	ServerResidentMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ascii_chat_server_resident_memory_bytes",
		Help: "Resident memory of the server process, sampled via gopsutil.",
	})
	ServerCPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ascii_chat_server_cpu_percent",
		Help: "Process CPU utilization percent, sampled via gopsutil.",
	})
)

// Discovery-service gauges/counters.
var (
	DiscoverySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ascii_chat_discovery_sessions_active",
		Help: "Number of live discovery sessions currently registered.",
	})
	DiscoveryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ascii_chat_discovery_requests_total",
		Help: "Total discovery-service HTTP requests, labeled by route and status class.",
	}, []string{"route", "status_class"})
	DiscoveryRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ascii_chat_discovery_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter.",
	})
)

// Server wraps an http.Server exposing /metrics and a basic /healthz,
// started and stopped alongside the binary's other long-running
// components.
type Server struct {
	httpSrv *http.Server
}

// NewServer builds (but does not start) a metrics endpoint serving
// /metrics and /healthz; Serve binds it to a listener. ListenAndServe
// treats an empty addr as disabled.
func NewServer() *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{httpSrv: &http.Server{Handler: mux, ReadTimeout: 5 * time.Second}}
}

// Serve accepts on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// ListenAndServe is a convenience wrapper for binaries that don't need
// to pre-construct their own listener.
func ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("metrics listen failed", "addr", addr, "error", err)
		return err
	}
	log.Info("metrics endpoint listening", "addr", addr)
	return NewServer().Serve(ctx, ln)
}
