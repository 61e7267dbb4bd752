// Package domain defines the types for the ingest service
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/core/periods"
)

// DigestInput is one event accepted at the ingestion endpoint, reduced to
// what digestion needs. IngestedAt is the wall clock at the point of
// ingestion; digestion assigns its own (serialized, non-decreasing)
// digested_at inside the write transaction.
type DigestInput struct {
	ProjectID uuid.UUID
	EventID   string // client-supplied hex id
	Timestamp time.Time

	IngestedAt time.Time

	CalculatedType  string
	CalculatedValue string
	GroupingKey     string

	Data string // raw JSON payload
	Tags map[string]string

	// StorageBackend names an out-of-database blob store already holding
	// the full payload, nil when Data is everything.
	StorageBackend *string
}

// DigestResult reports what one digestion did.
type DigestResult struct {
	// Accepted is false when the project was over quota and the event was
	// dropped without further processing.
	Accepted bool
	// QuotaUntil echoes the project's quota_exceeded_until when Accepted
	// is false, so transports can emit a Retry-After.
	QuotaUntil   *time.Time
	EventPK      uuid.UUID
	IssueID      uuid.UUID
	IssueCreated bool
	Evicted      int
}

// Threshold is one quota or unmute condition: at least GTE events within
// the last NrOfPeriods periods.
type Threshold struct {
	Period      periods.Period
	NrOfPeriods int
	GTE         int64
}

// ThresholdState is the evaluation of one Threshold.
type ThresholdState struct {
	Exceeded bool
	// BelowFrom is the earliest time the condition no longer holds, nil
	// when not exceeded.
	BelowFrom *time.Time
	// CheckAgainAfter is how many more events may be digested before the
	// threshold needs re-evaluation; no period's count can grow faster
	// than total ingestion, so skipping checks until then is safe.
	CheckAgainAfter int64
	Spec            Threshold
}

// DigesterPort digests ingested events.
type DigesterPort interface {
	Digest(ctx context.Context, in DigestInput) (DigestResult, error)
}

// BlobStore deletes out-of-database event payloads during the post-commit
// cleanup drain.
type BlobStore interface {
	Delete(ctx context.Context, storageBackend string, eventID uuid.UUID) error
}
