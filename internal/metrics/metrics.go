// Package metrics exposes the controller's Prometheus instrumentation
// (spec §4.6): frame ingest counters, FSM state/transition gauges and
// counters, retry counters for the three order loops, and registry gauges,
// served over HTTP alongside a /ready probe.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/visuvia/mctp-controller/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters and gauges
var (
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mctp_frames_received_total",
		Help: "Total MCTP frames successfully parsed from the serial link during Transfer.",
	})
	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mctp_bytes_received_total",
		Help: "Total payload bytes (sum of data_size) across received frames.",
	})
	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mctp_parse_errors_total",
		Help: "Frames rejected during parsing, by error kind.",
	}, []string{"kind"})
	FSMState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mctp_fsm_state",
		Help: "Current FSM state as an integer (0=Idle,1=Sync,2=Connected,3=Transfer).",
	})
	FSMTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mctp_fsm_transitions_total",
		Help: "FSM state transitions, labeled by from/to state name.",
	}, []string{"from", "to"})
	SyncRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mctp_sync_retries_total",
		Help: "Sync frames re-sent while waiting for SyncResp.",
	})
	StopRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mctp_stop_retries_total",
		Help: "Stop frames re-sent while waiting for the performer's Stop echo.",
	})
	DropRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mctp_drop_retries_total",
		Help: "Drop frames re-sent while waiting for the performer's Drop echo.",
	})
	RegistryChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mctp_registry_channels",
		Help: "Number of channels currently enrolled in the data registry.",
	})
	RegistrySamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mctp_registry_samples_total",
		Help: "Numeric samples appended to the registry, by channel.",
	}, []string{"channel"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTransportRead   = "transport_read"
	ErrTransportWrite  = "transport_write"
	ErrTransportClosed = "transport_closed"
	ErrSyncTimeout     = "sync_timeout"
	ErrOrderRejected   = "order_rejected"
)

// parseErrorKinds lists every label value ParseErrors is pre-registered
// with, matching internal/mctp.ErrorKind's String values.
var parseErrorKinds = []string{
	"TooShort", "SizeMismatch", "BadKind", "BadDataType", "BadData", "TooManyChannels", "BadUTF8",
}

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process).
var (
	localFramesReceived uint64
	localBytesReceived  uint64
	localErrors         uint64
	localSyncRetries    uint64
	localStopRetries    uint64
	localDropRetries    uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FramesReceived uint64
	BytesReceived  uint64
	Errors         uint64 // sum across error labels
	SyncRetries    uint64
	StopRetries    uint64
	DropRetries    uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesReceived: atomic.LoadUint64(&localFramesReceived),
		BytesReceived:  atomic.LoadUint64(&localBytesReceived),
		Errors:         atomic.LoadUint64(&localErrors),
		SyncRetries:    atomic.LoadUint64(&localSyncRetries),
		StopRetries:    atomic.LoadUint64(&localStopRetries),
		DropRetries:    atomic.LoadUint64(&localDropRetries),
	}
}

// IncFramesReceived records one parsed frame and its payload size.
func IncFramesReceived(dataSize int) {
	FramesReceived.Inc()
	BytesReceived.Add(float64(dataSize))
	atomic.AddUint64(&localFramesReceived, 1)
	atomic.AddUint64(&localBytesReceived, uint64(dataSize))
}

// IncParseError records one rejected frame, labeled by ErrorKind.
func IncParseError(kind string) { ParseErrors.WithLabelValues(kind).Inc() }

// SetFSMState records the FSM's current state as an integer.
func SetFSMState(n int) { FSMState.Set(float64(n)) }

// IncFSMTransition records one state transition.
func IncFSMTransition(from, to string) { FSMTransitions.WithLabelValues(from, to).Inc() }

func IncSyncRetry() {
	SyncRetries.Inc()
	atomic.AddUint64(&localSyncRetries, 1)
}

func IncStopRetry() {
	StopRetries.Inc()
	atomic.AddUint64(&localStopRetries, 1)
}

func IncDropRetry() {
	DropRetries.Inc()
	atomic.AddUint64(&localDropRetries, 1)
}

func SetRegistryChannels(n int) { RegistryChannels.Set(float64(n)) }

func AddRegistrySamples(channel string, n int) { RegistrySamples.WithLabelValues(channel).Add(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers bounded label
// series (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, kind := range parseErrorKinds {
		ParseErrors.WithLabelValues(kind).Add(0)
	}
	for _, lbl := range []string{ErrTransportRead, ErrTransportWrite, ErrTransportClosed, ErrSyncTimeout, ErrOrderRejected} {
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
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
