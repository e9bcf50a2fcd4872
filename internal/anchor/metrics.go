package anchor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditanchor_records_submitted_total",
		Help: "Total log records accepted into the pending batch buffer.",
	})

	recordsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditanchor_records_rejected_total",
		Help: "Total log records rejected at ingestion (encoding/validation).",
	})

	batchesAnchoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditanchor_batches_anchored_total",
		Help: "Total batches anchored to the store.",
	})

	batchSizeHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditanchor_batch_size",
		Help:    "Number of records per anchored batch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	anchorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auditanchor_anchor_duration_seconds",
		Help:    "Wall time spent anchoring one batch, including the oracle call.",
		Buckets: prometheus.DefBuckets,
	})

	oracleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auditanchor_oracle_failures_total",
		Help: "Total failed oracle reference queries.",
	})

	verificationChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auditanchor_verification_checks_total",
		Help: "Total verification checks by result.",
	}, []string{"result"})
)
