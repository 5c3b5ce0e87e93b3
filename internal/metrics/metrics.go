package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-chatlog/internal/logging"
)

// Prometheus counters
var (
	EnqueuedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_enqueued_messages_total",
		Help: "Total messages accepted into the outbound queue.",
	})
	EvictedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_evicted_messages_total",
		Help: "Total oldest messages evicted because the queue was full.",
	})
	TruncatedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_truncated_messages_total",
		Help: "Total messages cut to the line size limit.",
	})
	SentMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_sent_messages_total",
		Help: "Total messages delivered to the chat endpoint.",
	})
	SendAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_send_attempts_total",
		Help: "Total send attempts (successful or not).",
	})
	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_dropped_messages_total",
		Help: "Total messages dropped after exhausting retries or permanent rejection.",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_reconnect_attempts_total",
		Help: "Total non-blocking link probes started.",
	})
	MirrorDroppedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_mirror_dropped_chunks_total",
		Help: "Total mirror writes dropped because the mirror buffer was full.",
	})
	SourceRxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatlog_source_rx_bytes_total",
		Help: "Total bytes read from the input source.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlog_queue_depth",
		Help: "Current number of pending outbound messages.",
	})
	LinkState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatlog_link_state",
		Help: "Link state: 0 disconnected, 1 connecting, 2 connected.",
	})
	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatlog_send_duration_seconds",
		Help:    "Duration of single send attempts.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
	})
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
	statusFn    func() any
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSendNetwork  = "send_network"
	ErrSendAPI      = "send_api"
	ErrSendTimeout  = "send_timeout"
	ErrLinkProbe    = "link_probe"
	ErrSourceRead   = "source_read"
	ErrMirrorWrite  = "mirror_write"
	ErrMirrorOver   = "mirror_overflow"
	ErrQueueRejects = "queue_reject"
)

// StartHTTP serves /metrics, /ready and /status on addr.
func StartHTTP(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		readinessMu.RLock()
		fn := statusFn
		readinessMu.RUnlock()
		var body any = Snap()
		if fn != nil {
			body = fn()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localEnqueued  uint64
	localEvicted   uint64
	localTruncated uint64
	localSent      uint64
	localAttempts  uint64
	localDropped   uint64
	localReconnect uint64
	localMirrorDrp uint64
	localSourceRx  uint64
	localErrors    uint64
	localDepth     uint64
	localLinkState uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Enqueued      uint64 `json:"enqueued"`
	Evicted       uint64 `json:"evicted"`
	Truncated     uint64 `json:"truncated"`
	Sent          uint64 `json:"sent"`
	Attempts      uint64 `json:"attempts"`
	Dropped       uint64 `json:"dropped"`
	Reconnects    uint64 `json:"reconnects"`
	MirrorDropped uint64 `json:"mirror_dropped"`
	SourceRx      uint64 `json:"source_rx_bytes"`
	Errors        uint64 `json:"errors"` // sum across error labels
	QueueDepth    uint64 `json:"queue_depth"`
	LinkState     uint64 `json:"link_state"`
}

func Snap() Snapshot {
	return Snapshot{
		Enqueued:      atomic.LoadUint64(&localEnqueued),
		Evicted:       atomic.LoadUint64(&localEvicted),
		Truncated:     atomic.LoadUint64(&localTruncated),
		Sent:          atomic.LoadUint64(&localSent),
		Attempts:      atomic.LoadUint64(&localAttempts),
		Dropped:       atomic.LoadUint64(&localDropped),
		Reconnects:    atomic.LoadUint64(&localReconnect),
		MirrorDropped: atomic.LoadUint64(&localMirrorDrp),
		SourceRx:      atomic.LoadUint64(&localSourceRx),
		Errors:        atomic.LoadUint64(&localErrors),
		QueueDepth:    atomic.LoadUint64(&localDepth),
		LinkState:     atomic.LoadUint64(&localLinkState),
	}
}

// Wrapper helpers to keep call sites simple.
func IncEnqueued() {
	EnqueuedMessages.Inc()
	atomic.AddUint64(&localEnqueued, 1)
}

func IncEvicted() {
	EvictedMessages.Inc()
	atomic.AddUint64(&localEvicted, 1)
}

func IncTruncated() {
	TruncatedMessages.Inc()
	atomic.AddUint64(&localTruncated, 1)
}

// ObserveAttempt counts one send attempt and records its duration.
func ObserveAttempt(d time.Duration) {
	SendAttempts.Inc()
	SendLatency.Observe(d.Seconds())
	atomic.AddUint64(&localAttempts, 1)
}

func IncSent() {
	SentMessages.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncDropped() {
	DroppedMessages.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncReconnectAttempt() {
	ReconnectAttempts.Inc()
	atomic.AddUint64(&localReconnect, 1)
}

func IncMirrorDrop() {
	MirrorDroppedChunks.Inc()
	atomic.AddUint64(&localMirrorDrp, 1)
}

func AddSourceRx(n int) {
	SourceRxBytes.Add(float64(n))
	atomic.AddUint64(&localSourceRx, uint64(n))
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
	atomic.StoreUint64(&localDepth, uint64(n))
}

func SetLinkState(s int) {
	LinkState.Set(float64(s))
	atomic.StoreUint64(&localLinkState, uint64(s))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSendNetwork, ErrSendAPI, ErrSendTimeout, ErrLinkProbe,
		ErrSourceRead, ErrMirrorWrite, ErrMirrorOver, ErrQueueRejects,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// SetStatusFunc registers the /status body producer. It must be safe to call
// from the HTTP goroutine.
func SetStatusFunc(fn func() any) { readinessMu.Lock(); statusFn = fn; readinessMu.Unlock() }

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
