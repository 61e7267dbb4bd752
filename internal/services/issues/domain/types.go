// Package domain defines the types for the issues service
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Issue is one grouped problem within a project. Mute/unmute state and the
// per-issue counters live here; the amortization fields mirror the project
// quota ones: NextUnmuteCheck is the DigestedEventCount at which the
// volume-based unmute conditions are evaluated again.
type Issue struct {
	ID                 uuid.UUID
	ProjectID          uuid.UUID
	DigestOrder        int64
	FirstSeen          time.Time
	LastSeen           time.Time
	DigestedEventCount int64
	StoredEventCount   int

	IsResolved bool
	IsMuted    bool

	// UnmuteOnVolumeBasedConditions is a JSON list of VolumeBasedCondition,
	// "[]" when none are set.
	UnmuteOnVolumeBasedConditions string
	UnmuteAfter                   *time.Time
	NextUnmuteCheck               int64
}

// Grouping maps a raw grouping key (and its hash, which is what gets
// indexed) to the issue events with that key digest into.
type Grouping struct {
	ID              uuid.UUID
	ProjectID       uuid.UUID
	IssueID         uuid.UUID
	GroupingKey     string
	GroupingKeyHash string // sha256 hex of GroupingKey
}

// VolumeBasedCondition unmutes an issue once Volume events arrive within
// NrOfPeriods periods of the named granularity.
type VolumeBasedCondition struct {
	Period      string `json:"period"`
	NrOfPeriods int    `json:"nr_of_periods"`
	Volume      int    `json:"volume"`
}

// ParseVolumeBasedConditions parses a JSON list of conditions; the empty
// string counts as none.
func ParseVolumeBasedConditions(s string) ([]VolumeBasedCondition, error) {
	if s == "" {
		return nil, nil
	}
	var vbcs []VolumeBasedCondition
	if err := json.Unmarshal([]byte(s), &vbcs); err != nil {
		return nil, fmt.Errorf("volume based conditions: %w", err)
	}
	return vbcs, nil
}

// TurningPointKind classifies issue state transitions.
type TurningPointKind int

// Turning point kinds, in the order the states were introduced.
const (
	KindFirstSeen TurningPointKind = 1
	KindResolved  TurningPointKind = 2
	KindMuted     TurningPointKind = 3
	KindRegressed TurningPointKind = 4
	KindUnmuted   TurningPointKind = 5
)

// TurningPoint records a state transition of an issue, optionally pinned to
// the event that triggered it. Triggering events are flagged never_evict so
// the record keeps pointing at a live row; eviction may still null the
// reference as a last resort.
type TurningPoint struct {
	ID                uuid.UUID
	ProjectID         uuid.UUID
	IssueID           uuid.UUID
	TriggeringEventID *uuid.UUID
	Timestamp         time.Time
	Kind              TurningPointKind
	Metadata          string // JSON, "{}" when empty
}
