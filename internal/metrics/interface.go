package metrics

// Metrics defines the interface for collecting application metrics.
// The hub and the booking handlers depend on this, not on Prometheus.
type Metrics interface {
	SessionJoined()
	SessionLeft()
	SetActiveLocks(n int)
	IncLockIntent(result string)
	IncBookingCommitted()
	IncBookingConflict()
	IncBookingRejected(reason string)
	ObserveCommitDuration(seconds float64)
}

// Lock intent results.
const (
	LockAccepted = "accepted"
	LockIgnored  = "ignored"
	LockReleased = "released"
	LockExpired  = "expired"
)
