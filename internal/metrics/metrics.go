package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Ingestion
	Requests      *prometheus.CounterVec
	KeysGenerated prometheus.Counter
	PublishSec    prometheus.Histogram

	// Load
	Units          *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec
	RowsInserted   prometheus.Counter
	RowsSkipped    prometheus.Counter
	UpsertSec      prometheus.Histogram
	Redeliveries   prometheus.Counter
	DeadLettered   prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesflow_ingest_requests_total",
		Help: "Ingestion requests by outcome.",
	}, []string{"outcome"})
	keys := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salesflow_ingest_keys_generated_total",
		Help: "Idempotency keys generated for records that arrived without one.",
	})
	publish := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesflow_ingest_publish_seconds",
		Buckets: prometheus.DefBuckets,
	})

	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesflow_load_units_total",
		Help: "Transport units handled by the loader, by outcome.",
	}, []string{"outcome"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "salesflow_load_records_dropped_total",
	}, []string{"reason"})
	inserted := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesflow_load_rows_inserted_total"})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesflow_load_rows_skipped_total"})
	upsert := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "salesflow_load_upsert_seconds",
		Buckets: prometheus.DefBuckets,
	})
	redeliveries := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesflow_load_redeliveries_total"})
	deadLettered := prometheus.NewCounter(prometheus.CounterOpts{Name: "salesflow_load_dead_lettered_total"})

	r.MustRegister(requests, keys, publish, units, dropped, inserted, skipped, upsert, redeliveries, deadLettered)
	return &Registry{
		reg:            r,
		Requests:       requests,
		KeysGenerated:  keys,
		PublishSec:     publish,
		Units:          units,
		RecordsDropped: dropped,
		RowsInserted:   inserted,
		RowsSkipped:    skipped,
		UpsertSec:      upsert,
		Redeliveries:   redeliveries,
		DeadLettered:   deadLettered,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
