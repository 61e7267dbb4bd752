// Package domain defines the types for the retention service
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Epoch is the number of whole hours since 1970. Hourly is granular enough
// for eviction and keeps the numbers human-readable when debugging; the
// choice of epoch size only shifts the age-based irrelevance by a constant,
// which the cutoff search corrects for anyway.
type Epoch int64

// EpochOf returns the epoch containing t. Panics on a non-UTC timestamp:
// every stored timestamp in the system is UTC and anything else is a
// caller bug.
func EpochOf(t time.Time) Epoch {
	if t.Location() != time.UTC {
		panic("retention: timestamp must be UTC")
	}
	return Epoch(t.Unix() / 3600)
}

// TimeOf is the inverse of EpochOf: the UTC start of the epoch.
func TimeOf(e Epoch) time.Time {
	return time.Unix(int64(e)*3600, 0).UTC()
}

// Bucket is one age window of the eviction histogram. LB (inclusive) and
// UB (exclusive) are epoch bounds, nil for unbounded; AgeIrrelevance is the
// single age-based irrelevance value associated with every event in the
// window, and MaxItemIrrelevance the highest observed item irrelevance of
// qualifying events in it (0 when the window is empty).
type Bucket struct {
	LB                 *Epoch
	UB                 *Epoch
	AgeIrrelevance     int
	MaxItemIrrelevance int
}

// TotalIrrelevance is the upper bound on total irrelevance any event in
// the bucket can reach.
func (b Bucket) TotalIrrelevance() int { return b.AgeIrrelevance + b.MaxItemIrrelevance }

// Victim is one event selected for eviction.
type Victim struct {
	ID             uuid.UUID
	IssueID        uuid.UUID
	StorageBackend *string
}

// EvictionCounts reports what an eviction pass removed, broken down per
// issue so the denormalized stored_event_count fields can be discounted.
type EvictionCounts struct {
	Total    int
	PerIssue map[uuid.UUID]int
}

// Add folds other into c.
func (c *EvictionCounts) Add(other EvictionCounts) {
	c.Total += other.Total
	for id, n := range other.PerIssue {
		if c.PerIssue == nil {
			c.PerIssue = make(map[uuid.UUID]int)
		}
		c.PerIssue[id] += n
	}
}

// CleanupTodo is a deferred deletion of an event's out-of-database blob,
// recorded in the eviction transaction and drained after commit.
type CleanupTodo struct {
	ID             int64
	EventID        uuid.UUID
	StorageBackend string
}
