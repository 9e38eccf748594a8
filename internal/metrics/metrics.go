package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockgate_admission_checks_total",
		Help: "Total number of canRun evaluations.",
	})

	Blockages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgate_blockages_total",
		Help: "Total number of blocked evaluations, labelled by direction.",
	}, []string{"direction"})

	ReachableJobs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockgate_reachable_jobs",
		Help:    "Size of the transitive job set inspected per check.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"direction"})

	LiveSetUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockgate_live_set_unavailable_total",
		Help: "Checks that proceeded with an empty live set because the registry could not provide one.",
	})

	ConfigRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgate_config_rewrites_total",
		Help: "Pipeline configs rewritten after job changes, labelled by event and status.",
	}, []string{"event", "status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blockgate_queue_depth",
		Help: "Number of items waiting in the build queue.",
	})

	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgate_admissions_total",
		Help: "Queue items evaluated per admission pass, labelled by outcome.",
	}, []string{"outcome"})

	CatalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockgate_catalog_reloads_total",
		Help: "Job catalog reloads, labelled by status.",
	}, []string{"status"})
)
