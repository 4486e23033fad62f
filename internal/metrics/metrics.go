package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "pricescope"

// Metrics holds the process-wide Prometheus collectors.
type Metrics struct {
	// Scan progress
	currentBlock  prometheus.Gauge
	blocksScanned prometheus.Counter
	logsFetched   prometheus.Counter
	chunksRetried prometheus.Counter

	// Decode pipeline
	eventsDecoded *prometheus.CounterVec
	decodeErrors  prometheus.Counter

	// Reorg monitor
	reorgsDetected prometheus.Counter
	reorgDepth     prometheus.Histogram

	// Oracle buffer
	oracleEntries prometheus.Gauge
	oracleEvicted prometheus.Counter
}

// New registers all collectors with the given registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		currentBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "current_block",
			Help:      "Highest block released by the scanner",
		}),
		blocksScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "blocks_scanned_total",
			Help:      "Total blocks covered by released chunks",
		}),
		logsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logs_fetched_total",
			Help:      "Total raw logs fetched from the RPC node",
		}),
		chunksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "chunks_retried_total",
			Help:      "Total chunk fetches retried after transient failures",
		}),
		eventsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_decoded_total",
			Help:      "Total events decoded by event name",
		}, []string{"event"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Total logs that failed structural decoding",
		}),
		reorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reorgs_detected_total",
			Help:      "Total chain reorganizations detected",
		}),
		reorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "reorg_depth_blocks",
			Help:      "Depth of detected reorganizations in blocks",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		oracleEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "oracle_entries",
			Help:      "Number of price entries currently buffered",
		}),
		oracleEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "oracle_evicted_total",
			Help:      "Total price entries evicted after finality",
		}),
	}

	err := errors.Join(
		reg.Register(m.currentBlock),
		reg.Register(m.blocksScanned),
		reg.Register(m.logsFetched),
		reg.Register(m.chunksRetried),
		reg.Register(m.eventsDecoded),
		reg.Register(m.decodeErrors),
		reg.Register(m.reorgsDetected),
		reg.Register(m.reorgDepth),
		reg.Register(m.oracleEntries),
		reg.Register(m.oracleEvicted),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ChunkReleased records a chunk leaving the reorder buffer in order.
func (m *Metrics) ChunkReleased(currentBlock uint64, blocks uint64, logs int) {
	m.currentBlock.Set(float64(currentBlock))
	m.blocksScanned.Add(float64(blocks))
	m.logsFetched.Add(float64(logs))
}

// ChunkRetried records a transient chunk fetch failure.
func (m *Metrics) ChunkRetried() {
	m.chunksRetried.Inc()
}

// EventDecoded records a successfully decoded event.
func (m *Metrics) EventDecoded(event string) {
	m.eventsDecoded.WithLabelValues(event).Inc()
}

// DecodeFailed records a structurally invalid log payload.
func (m *Metrics) DecodeFailed() {
	m.decodeErrors.Inc()
}

// ReorgDetected records a divergence and its depth in blocks.
func (m *Metrics) ReorgDetected(depth uint64) {
	m.reorgsDetected.Inc()
	m.reorgDepth.Observe(float64(depth))
}

// OracleSize updates the buffered entry gauge.
func (m *Metrics) OracleSize(entries int) {
	m.oracleEntries.Set(float64(entries))
}

// OracleEvicted records entries removed after finality.
func (m *Metrics) OracleEvicted(count int) {
	m.oracleEvicted.Add(float64(count))
}
