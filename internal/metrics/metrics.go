package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostsMirrored counts mirror posts created in the destination.
	PostsMirrored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frontpage_mirror_posts_mirrored_total",
		Help: "Number of mirror posts created.",
	})

	// MirrorsDeleted counts mirrors deleted because their original disappeared.
	MirrorsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frontpage_mirror_mirrors_deleted_total",
		Help: "Number of mirror posts deleted by the cleanup runner.",
	})

	// RemovalChecks counts individual post removal checks.
	RemovalChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frontpage_mirror_removal_checks_total",
		Help: "Number of posts checked for moderator removal.",
	})

	// Requeues counts inconclusive checks pushed back into the queue.
	Requeues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frontpage_mirror_requeues_total",
		Help: "Number of posts requeued for a later removal check.",
	})

	// QueueDepth tracks the pending-review queue size after each reconciliation.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "frontpage_mirror_queue_depth",
		Help: "Current size of the pending-review queue.",
	})
)
