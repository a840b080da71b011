package models

import "time"

// QueueState represents the lifecycle state of an intake queue entry.
// Transitions are monotonic: Pending -> Selected -> InFlight -> Done.
type QueueState string

const (
	QueueStatePending  QueueState = "pending"
	QueueStateSelected QueueState = "selected"
	QueueStateInFlight QueueState = "in_flight"
	QueueStateDone     QueueState = "done"
)

// QueueEntry is one detected export file awaiting processing. A given
// canonical path appears at most once in the queue.
type QueueEntry struct {
	ID            string     `json:"id"`
	Path          string     `json:"path"`
	LastSeenMtime time.Time  `json:"lastSeenMtime"`
	State         QueueState `json:"state"`
	DetectedAt    time.Time  `json:"detectedAt"`
}
