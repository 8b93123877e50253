// Package metrics exposes the broker's Prometheus counters and gauges,
// plus a cheap locally-mirrored atomic snapshot used for periodic text
// summaries (sent/recv/lost counters adapted from the reference server).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/mac-can/rocketcan-go/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters / gauges.
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_frames_sent_total",
		Help: "Total wire records fanned out to clients.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_frames_received_total",
		Help: "Total wire records received from clients.",
	})
	FramesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_frames_lost_total",
		Help: "Total wire records lost (fanned out with no client connected, or rejected by the receive callback).",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rocketcan_active_clients",
		Help: "Current number of connected broker clients.",
	})
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_checksum_errors_total",
		Help: "Total wire records rejected for a CRC mismatch.",
	})
	ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_protocol_errors_total",
		Help: "Total wire records rejected for a protocol violation (bad length, reserved bits, unknown ctrlchar).",
	})
	AbortsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rocketcan_aborts_sent_total",
		Help: "Total server-initiated abort records sent.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rocketcan_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrChecksum       = "checksum"
	ErrProtocol       = "protocol"
	ErrDriverWrite    = "driver_write"
	ErrDriverRead     = "driver_read"
	ErrDriverOverflow = "driver_tx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, read back through Snap by the periodic metrics
// logger without scraping Prometheus in-process.
var (
	localSent     uint64
	localReceived uint64
	localLost     uint64
	localErrors   uint64
	localClients  uint64
	localAborts   uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Sent     uint64
	Received uint64
	Lost     uint64
	Errors   uint64
	Clients  uint64
	Aborts   uint64
}

func Snap() Snapshot {
	return Snapshot{
		Sent:     atomic.LoadUint64(&localSent),
		Received: atomic.LoadUint64(&localReceived),
		Lost:     atomic.LoadUint64(&localLost),
		Errors:   atomic.LoadUint64(&localErrors),
		Clients:  atomic.LoadUint64(&localClients),
		Aborts:   atomic.LoadUint64(&localAborts),
	}
}

func IncSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncReceived() {
	FramesReceived.Inc()
	atomic.AddUint64(&localReceived, 1)
}

func AddLost(n int) {
	FramesLost.Add(float64(n))
	atomic.AddUint64(&localLost, uint64(n))
}

func SetActiveClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func IncChecksumError() {
	ChecksumErrors.Inc()
	Errors.WithLabelValues(ErrChecksum).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncProtocolError() {
	ProtocolErrors.Inc()
	Errors.WithLabelValues(ErrProtocol).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncAbortSent() {
	AbortsSent.Inc()
	atomic.AddUint64(&localAborts, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers common error
// label series so the first occurrence of each doesn't pay registration
// latency (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTransportRead, ErrTransportWrite, ErrChecksum, ErrProtocol,
		ErrDriverWrite, ErrDriverRead, ErrDriverOverflow,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
