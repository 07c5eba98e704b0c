// Package metrics exports node-level counters and gauges for the hunt
// engine, cron engine, peer proxy, and expiry engine on /metrics,
// adapted from internal/pkg/voip/monitoring's Prometheus exporter shape
// (a registry plus named CounterVec/GaugeVec maps, served via
// promhttp.Handler).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/endorses/packhound/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this node exports.
type Registry struct {
	reg *prometheus.Registry

	HuntSessionsSearched prometheus.Counter
	HuntSessionsMatched  prometheus.Counter
	HuntFailedSessions   prometheus.Gauge
	HuntRunning          prometheus.Gauge

	CronBatches  prometheus.Counter
	CronTagged   prometheus.Counter
	CronForwarded prometheus.Counter
	CronErrors   *prometheus.CounterVec

	PeerProxyRequests *prometheus.CounterVec
	PeerProxyErrors   *prometheus.CounterVec

	ExpiryBytesFreed prometheus.Counter
	ExpiryFilesDeleted prometheus.Counter

	server *http.Server
}

// New builds and registers every collector.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,
		HuntSessionsSearched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "hunt", Name: "sessions_searched_total",
			Help: "Sessions searched by the hunt engine across all hunts.",
		}),
		HuntSessionsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "hunt", Name: "sessions_matched_total",
			Help: "Sessions matched by the hunt engine across all hunts.",
		}),
		HuntFailedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huntview", Subsystem: "hunt", Name: "failed_sessions",
			Help: "Sessions currently in the running hunt's failedSessionIds.",
		}),
		HuntRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "huntview", Subsystem: "hunt", Name: "running",
			Help: "1 if this process currently holds the hunt singleton.",
		}),
		CronBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "cron", Name: "batches_total",
			Help: "Scroll batches processed by the cron engine.",
		}),
		CronTagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "cron", Name: "sessions_tagged_total",
			Help: "Sessions tagged by cron tag actions.",
		}),
		CronForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "cron", Name: "sessions_forwarded_total",
			Help: "Sessions forwarded to remote clusters by cron forward actions.",
		}),
		CronErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "cron", Name: "errors_total",
			Help: "Cron tick errors by query id.",
		}, []string{"query_id"}),
		PeerProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "peerproxy", Name: "requests_total",
			Help: "Requests forwarded to peer nodes.",
		}, []string{"node"}),
		PeerProxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "peerproxy", Name: "errors_total",
			Help: "Failed peer forward attempts.",
		}, []string{"node"}),
		ExpiryBytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "expiry", Name: "bytes_freed_total",
			Help: "Bytes freed by the expiry engine deleting PCAP files.",
		}),
		ExpiryFilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "huntview", Subsystem: "expiry", Name: "files_deleted_total",
			Help: "PCAP files deleted by the expiry engine.",
		}),
	}

	reg.MustRegister(
		r.HuntSessionsSearched, r.HuntSessionsMatched, r.HuntFailedSessions, r.HuntRunning,
		r.CronBatches, r.CronTagged, r.CronForwarded, r.CronErrors,
		r.PeerProxyRequests, r.PeerProxyErrors,
		r.ExpiryBytesFreed, r.ExpiryFilesDeleted,
	)
	return r
}

// Serve starts an HTTP server exposing /metrics on addr.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: addr, Handler: mux}

	logger.Info("metrics server listening", "addr", addr)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the metrics HTTP server.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}
