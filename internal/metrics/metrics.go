package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/canlink/go-can-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	PackedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_packed_frames_total",
		Help: "Total CAN frames packed into the outbound host byte stream.",
	})
	AssembledFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_assembled_frames_total",
		Help: "Total CAN frames reassembled from the inbound host byte stream.",
	})
	ChunkBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_chunk_bytes_out_total",
		Help: "Total bytes emitted to host-bound transport chunks.",
	})
	ChunkBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_chunk_bytes_in_total",
		Help: "Total bytes consumed from host-supplied transport chunks.",
	})
	ReadOverflowStash = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_read_overflow_stash_total",
		Help: "Times a popped frame straddled a chunk boundary and its tail was buffered.",
	})
	WriteOverflowStash = promauto.NewCounter(prometheus.CounterOpts{
		Name: "assembly_write_overflow_stash_total",
		Help: "Times an inbound chunk ended mid-frame and the partial was buffered.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (invalid length class, truncated).",
	})
	TxResumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_resume_signals_total",
		Help: "Admission resume signals sent to paused transports, by kind.",
	}, []string{"kind"})
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial adapter link.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial adapter link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	HostRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_rx_frames_total",
		Help: "Total CAN frames received from host sessions.",
	})
	HostTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "host_tx_frames_total",
		Help: "Total CAN frames sent to host sessions.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow sessions.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total sessions disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total session connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active host sessions.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of sessions targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued frames among sessions since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued frames per session in last sample.",
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
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrHostRead       = "host_read"
	ErrHostWrite      = "host_write"
	ErrHandshake      = "handshake"
	ErrCorruptStream  = "corrupt_stream"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
)

// Resume kind label values.
const (
	KindUSB = "usb"
	KindSPI = "spi"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localPacked      uint64
	localAssembled   uint64
	localBytesOut    uint64
	localBytesIn     uint64
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANRx uint64
	localSocketCANTx uint64
	localHostRx      uint64
	localHostTx      uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localErrors      uint64
	localHubClients  uint64
	localFanout      uint64
	localMalformed   uint64
	localResumes     uint64
	localQDMax       uint64
	localQDAvg       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Packed        uint64
	Assembled     uint64
	BytesOut      uint64
	BytesIn       uint64
	SerialRx      uint64
	SerialTx      uint64
	SocketCANRx   uint64
	SocketCANTx   uint64
	HostRx        uint64
	HostTx        uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	Errors        uint64 // sum across error labels
	HubClients    uint64
	Fanout        uint64
	Malformed     uint64
	Resumes       uint64
	QueueDepthMax uint64
	QueueDepthAvg uint64
}

func Snap() Snapshot {
	return Snapshot{
		Packed:        atomic.LoadUint64(&localPacked),
		Assembled:     atomic.LoadUint64(&localAssembled),
		BytesOut:      atomic.LoadUint64(&localBytesOut),
		BytesIn:       atomic.LoadUint64(&localBytesIn),
		SerialRx:      atomic.LoadUint64(&localSerialRx),
		SerialTx:      atomic.LoadUint64(&localSerialTx),
		SocketCANRx:   atomic.LoadUint64(&localSocketCANRx),
		SocketCANTx:   atomic.LoadUint64(&localSocketCANTx),
		HostRx:        atomic.LoadUint64(&localHostRx),
		HostTx:        atomic.LoadUint64(&localHostTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		Errors:        atomic.LoadUint64(&localErrors),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Fanout:        atomic.LoadUint64(&localFanout),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Resumes:       atomic.LoadUint64(&localResumes),
		QueueDepthMax: atomic.LoadUint64(&localQDMax),
		QueueDepthAvg: atomic.LoadUint64(&localQDAvg),
	}
}

// Wrapper helpers to keep call sites simple.
func IncPacked() {
	PackedFrames.Inc()
	atomic.AddUint64(&localPacked, 1)
}

func IncAssembled() {
	AssembledFrames.Inc()
	atomic.AddUint64(&localAssembled, 1)
}

func AddChunkBytesOut(n int) {
	ChunkBytesOut.Add(float64(n))
	atomic.AddUint64(&localBytesOut, uint64(n))
}

func AddChunkBytesIn(n int) {
	ChunkBytesIn.Add(float64(n))
	atomic.AddUint64(&localBytesIn, uint64(n))
}

func IncReadOverflow()  { ReadOverflowStash.Inc() }
func IncWriteOverflow() { WriteOverflowStash.Inc() }

func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncHostRx() {
	HostRxFrames.Inc()
	atomic.AddUint64(&localHostRx, 1)
}

func AddHostTx(n int) {
	HostTxFrames.Add(float64(n))
	atomic.AddUint64(&localHostTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// IncTxResume records an admission resume signal for a transport kind.
func IncTxResume(kind string) {
	TxResumes.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localResumes, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrHostRead, ErrHostWrite, ErrHandshake, ErrCorruptStream,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, kind := range []string{KindUSB, KindSPI} {
		TxResumes.WithLabelValues(kind).Add(0)
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
