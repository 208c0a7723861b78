package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Work units accepted into the verification queue.",
	}, []string{"kind"})

	metricRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "rejected_total",
		Help:      "Enqueue attempts rejected because the queue was full.",
	})

	metricCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "completed_total",
		Help:      "Work units that finished with a verification result.",
	})

	metricFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "failed_total",
		Help:      "Work units that exhausted their attempts.",
	})

	metricDuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "duplicates_skipped_total",
		Help:      "Work units resolved from a canonical record without a provider call.",
	})

	metricRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "retries_total",
		Help:      "Provider call attempts that were re-queued for retry.",
	})

	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Work units currently waiting for dispatch.",
	})

	metricActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kycgate",
		Subsystem: "queue",
		Name:      "active_workers",
		Help:      "Workers currently processing a work unit.",
	})
)
