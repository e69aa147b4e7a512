// Package metrics exposes the operational gauges and counters called out in
// the concurrency design: ingest queue depth, worker busy counts, and RPC
// call totals. Mirrors the teacher's grpc_prometheus wiring in
// cmd/headers/download/downloader.go, minus the gRPC interceptor plumbing
// we don't need for the abstracted RPC surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spatialfs",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Current number of BlockOperation items waiting in the ingest queue.",
	}, []string{"node"})

	WorkersBusy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "spatialfs",
		Subsystem: "pipeline",
		Name:      "workers_busy",
		Help:      "Number of ingest workers currently processing a stage.",
	}, []string{"node"})

	StageCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spatialfs",
		Subsystem: "pipeline",
		Name:      "stage_completions_total",
		Help:      "Completed stage transitions, by stage and outcome.",
	}, []string{"stage", "outcome"})

	RPCCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spatialfs",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "RPC calls served, by protocol/method/outcome.",
	}, []string{"protocol", "method", "outcome"})

	BlockReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spatialfs",
		Subsystem: "blockstore",
		Name:      "reads_total",
		Help:      "Local block reads served, by kind (plain/indexed).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(IngestQueueDepth, WorkersBusy, StageCompletions, RPCCalls, BlockReads)
}
