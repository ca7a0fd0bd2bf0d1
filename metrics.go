package docsync

import "github.com/prometheus/client_golang/prometheus"

var SinkRetryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "sink",
	Name:      "retries",
}, []string{"object"})

var SinkAckCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "sink",
	Name:      "acks",
}, []string{"object"})

var SinkRetryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "sink",
	Name:      "retry_exhausted",
}, []string{"object"})

var SyncSkippedUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "sync",
	Name:      "skipped_updates",
}, []string{"object"})

var TranslatorDroppedDeltas = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "docsync",
	Subsystem: "translator",
	Name:      "dropped_deltas",
}, []string{"key"})

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		SinkRetryCount,
		SinkAckCount,
		SinkRetryExhausted,
		SyncSkippedUpdates,
		TranslatorDroppedDeltas,
	)
}
