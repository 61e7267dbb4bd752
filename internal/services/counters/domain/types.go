// Package domain defines the types for the counters service
package domain

import (
	"time"

	"github.com/google/uuid"
)

// WarmupEvent is the slice of an event row the registry needs to rebuild
// its rolling counts, streamed in server-side-timestamp order.
type WarmupEvent struct {
	ProjectID uuid.UUID
	IssueID   uuid.UUID
	Timestamp time.Time
}

// IssueRef carries what warmup needs to know about an issue: muted issues
// get their volume-based unmute conditions installed after the bulk load.
type IssueRef struct {
	ID               uuid.UUID
	IsMuted          bool
	UnmuteConditions string // JSON list of volume-based conditions
}
