package domain

// Sorted sets shared between the jobs. Ownership is by key: the reconciler
// writes the rank registry and enqueues, the checker dequeues, the cleanup
// runner owns the cleanup log.
const (
	// SetCurrentRanks maps post fullname -> current 1-based rank in the
	// monitored window at last reconciliation.
	SetCurrentRanks = "currentRanks"

	// SetPendingQueue maps post fullname -> next eligible check time
	// (unix milliseconds).
	SetPendingQueue = "postQueue"

	// SetCleanup maps "{mirrorID}:{originalID}" -> cleanup due time
	// (unix milliseconds).
	SetCleanup = "cleanupLog"
)

// Job names registered with the scheduler.
const (
	JobReconcile     = "reconcile-feed"
	JobCheckRemovals = "check-removals"
	JobCleanup       = "cleanup-sweep"
)

func subredditNSFWKey(name string) string {
	return "subNSFW:" + name
}

func postMadeKey(fullname string) string {
	return "postMade:" + fullname
}
