package core

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// coreStateLabel names the CoValueCore lifecycle states tracked by the
// Metrics surface's population gauge (spec.md §2 item 7, §4.3). There is
// no "errored" label: a CoValue that has exhausted all peers is counted
// in the unavailable bucket rather than as a separate top-level state —
// see DESIGN.md's Open Question resolution.
type coreStateLabel string

const (
	labelUnknown     coreStateLabel = "unknown"
	labelLoading     coreStateLabel = "loading"
	labelAvailable   coreStateLabel = "available"
	labelUnavailable coreStateLabel = "unavailable"
)

// MetricsSnapshot is a point-in-time rendering of the Metrics surface,
// written to the JSON health log alongside the Prometheus gauges.
type MetricsSnapshot struct {
	StateCounts   map[coreStateLabel]int `json:"state_counts"`
	Transitions   uint64                 `json:"transitions"`
	VerifyFailed  uint64                 `json:"verify_failed"`
	SyncBroadcast uint64                 `json:"sync_broadcasts"`
	PeerCount     int                    `json:"peer_count"`
	MemAlloc      uint64                 `json:"mem_alloc"`
	NumGoroutines int                    `json:"goroutines"`
	Timestamp     int64                  `json:"timestamp"`
}

// Metrics is the Metrics surface named in spec.md §2/§4.3: a state
// population gauge plus counters for transitions, verification
// failures, and sync broadcasts. It never reports a value the registry
// contents don't sum to — stateGauge's values always sum to the total
// number of CoValueCores LocalNode has registered.
type Metrics struct {
	node *LocalNode

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry      *prometheus.Registry
	stateGauge    *prometheus.GaugeVec
	transitions   prometheus.Counter
	verifyFailed  prometheus.Counter
	syncBroadcast prometheus.Counter
}

// NewMetrics configures a Metrics surface writing JSON logs to path,
// appending to the file if it already exists. It builds its own logrus
// logger with a JSON formatter for that file.
func NewMetrics(node *LocalNode, path string) (*Metrics, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	m := &Metrics{node: node, log: lg, file: f, registry: reg}

	m.stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cosync_covalue_state",
		Help: "Number of CoValueCores currently in each lifecycle state",
	}, []string{"state"})
	m.transitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosync_state_transitions_total",
		Help: "Total number of CoValueCore state transitions",
	})
	m.verifyFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosync_verification_failures_total",
		Help: "Total number of transaction batches rejected during verification",
	})
	m.syncBroadcast = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosync_sync_broadcasts_total",
		Help: "Total number of known-state broadcasts sent on availability",
	})

	reg.MustRegister(m.stateGauge, m.transitions, m.verifyFailed, m.syncBroadcast)
	return m, nil
}

// Close releases the underlying log file.
func (m *Metrics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// RecordTransition increments the transition counter and updates the
// state population gauge, called by CoValueCore on every state change.
func (m *Metrics) RecordTransition(from, to coreStateLabel) {
	m.transitions.Inc()
	if from != "" {
		m.stateGauge.WithLabelValues(string(from)).Dec()
	}
	m.stateGauge.WithLabelValues(string(to)).Inc()
}

// RecordVerificationFailure increments the verification-failure counter.
func (m *Metrics) RecordVerificationFailure() {
	m.verifyFailed.Inc()
}

// RecordSyncBroadcast increments the sync-broadcast counter.
func (m *Metrics) RecordSyncBroadcast() {
	m.syncBroadcast.Inc()
}

// Snapshot gathers current metrics for the JSON health log.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Timestamp:     time.Now().Unix(),
		NumGoroutines: runtime.NumGoroutine(),
		StateCounts:   make(map[coreStateLabel]int),
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.MemAlloc = mem.Alloc

	if m.node != nil {
		s.StateCounts = m.node.stateCounts()
		s.PeerCount = m.node.peerCount()
	}
	return s
}

// LogSnapshot writes the current Snapshot to the JSON health log.
func (m *Metrics) LogSnapshot() {
	s := m.Snapshot()
	m.mu.Lock()
	m.log.WithFields(logrus.Fields{
		"state_counts":    s.StateCounts,
		"peer_count":      s.PeerCount,
		"mem_alloc":       s.MemAlloc,
		"goroutines":      s.NumGoroutines,
	}).Info("metrics snapshot")
	m.mu.Unlock()
}

// RunCollector periodically logs a snapshot until ctx is canceled,
// mirroring core/system_health_logging.go's RunMetricsCollector loop.
func (m *Metrics) RunCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.LogSnapshot()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes the Prometheus metrics endpoint on addr.
func (m *Metrics) StartServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.mu.Lock()
			m.log.WithError(err).Error("metrics server stopped")
			m.mu.Unlock()
		}
	}()
	return srv, nil
}

// ShutdownServer gracefully stops the metrics HTTP server.
func (m *Metrics) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

// Registry exposes the underlying prometheus.Registry for tests and for
// chi-based debug servers that want to mount it alongside other routes.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
