// Package domain defines the types for the events service
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is one stored occurrence. IngestedAt is when the envelope arrived,
// DigestedAt when it was accepted into the store; ServerSideTimestamp is
// the authoritative ordering timestamp used for counter warmup.
//
// DigestOrder and ProjectDigestOrder are monotonically increasing sequence
// numbers assigned at digestion time, per issue and per project. They never
// shrink when events are evicted, which is what makes them usable as a
// cheap approximate count: last − first + 1 over a window counts the
// events digested in it, gaps from eviction included.
type Event struct {
	ID        uuid.UUID
	EventID   string // client-supplied hex id, unique per project
	ProjectID uuid.UUID
	IssueID   uuid.UUID

	IngestedAt          time.Time
	DigestedAt          time.Time
	ServerSideTimestamp time.Time

	DigestOrder        int64
	ProjectDigestOrder int64

	IrrelevanceForRetention int
	NeverEvict              bool

	// StorageBackend points at an out-of-database blob store holding the
	// full payload, nil when Data holds everything.
	StorageBackend *string

	CalculatedType  string
	CalculatedValue string
	Data            string // raw JSON payload
}

// WindowStats summarizes the digested events of one scope (project or
// issue) inside a time window, via the digest-order sequence rather than a
// row count.
type WindowStats struct {
	First         int64
	Last          int64
	MinDigestedAt time.Time
	Found         bool
}

// ApproximateCount is last − first + 1: the number of events digested in
// the window regardless of how many were since evicted.
func (w WindowStats) ApproximateCount() int64 {
	if !w.Found {
		return 0
	}
	return w.Last - w.First + 1
}
