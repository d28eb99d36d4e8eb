// Package metrics holds the prometheus collectors exported by every layer
// of the streaming pipeline: the Reader Manager, the Data Interface
// Manager, and the Session.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReaderRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_reader_records_total",
			Help: "Records emitted by the Reader Manager, by status.",
		},
		[]string{"status"},
	)

	ReaderDumpStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_reader_dump_status_total",
			Help: "Dumps opened by the Reader Manager, by terminal status.",
		},
		[]string{"status"},
	)

	ReaderMergeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bgpstream_reader_merge_queue_depth",
			Help: "Number of Readers currently holding a pending record.",
		},
	)

	RIBPeriodSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_rib_period_suppressed_total",
			Help: "RIB dumps suppressed by the RIB-period filter.",
		},
		[]string{"project", "collector"},
	)

	DataInterfaceBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpstream_data_interface_batch_size",
			Help:    "Metadata items enqueued per NextBatch call.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"interface"},
	)

	DataInterfaceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpstream_data_interface_errors_total",
			Help: "NextBatch calls that returned an error, by interface.",
		},
		[]string{"interface"},
	)

	SessionNextRecordDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bgpstream_session_next_record_duration_seconds",
			Help:    "NextRecord call latency, including any blocking wait.",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 30},
		},
	)
)

// Register registers every collector in this package with the default
// registry. Callers embedding this module in their own process may instead
// register selectively with a private registry.
func Register() {
	prometheus.MustRegister(
		ReaderRecordsTotal,
		ReaderDumpStatusTotal,
		ReaderMergeQueueDepth,
		RIBPeriodSuppressedTotal,
		DataInterfaceBatchSize,
		DataInterfaceErrorsTotal,
		SessionNextRecordDuration,
	)
}
