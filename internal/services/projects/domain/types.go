// Package domain defines the types for the projects service
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Project is the retention-relevant slice of a project record.
//
// StoredEventCount counts the events currently on disk for the project;
// DigestedEventCount counts every event ever accepted, evicted or not, and
// doubles as the clock for the amortized quota check: NextQuotaCheck is the
// DigestedEventCount at which the expensive threshold evaluation runs again.
type Project struct {
	ID                     uuid.UUID
	Name                   string
	PublicKey              string
	RetentionMaxEventCount int
	StoredEventCount       int
	DigestedEventCount     int64
	NextQuotaCheck         int64
	QuotaExceededUntil     *time.Time
}

// QuotaExceededAt reports whether the project is inside a quota-exceeded
// window at the given instant.
func (p *Project) QuotaExceededAt(now time.Time) bool {
	return p.QuotaExceededUntil != nil && now.Before(*p.QuotaExceededUntil)
}
