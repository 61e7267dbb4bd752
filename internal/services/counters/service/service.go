// Package service implements the period-counter registry.
//
// The registry keeps one rolling PeriodCounter per project and per issue,
// rebuilt from the event store on first use. It is long-lived shared
// mutable state: a mutex serializes all access, because unlike the
// database the in-memory maps get no protection from the single-writer
// transaction discipline.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/core/periodcounter"
	"bugsink/internal/core/periods"
	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/logger"
	"bugsink/internal/services/counters/domain"
	"bugsink/internal/services/counters/repo"
	idom "bugsink/internal/services/issues/domain"
)

// UnmutePurpose labels the outcomes of volume-based unmute thresholds.
const UnmutePurpose periodcounter.Purpose = "unmute"

// Registry owns the per-project and per-issue counters. Construct it once
// at process start and inject it into the digest path; Reset exists for
// tests only.
type Registry struct {
	log    logger.Logger
	db     repokit.TxRunner
	binder repokit.Binder[repo.Storage]

	mu        sync.Mutex
	warmed    bool
	byProject map[uuid.UUID]*periodcounter.PeriodCounter
	byIssue   map[uuid.UUID]*periodcounter.PeriodCounter
	// unmute threshold specs per muted issue, evaluated on every issue inc
	unmuteSpecs map[uuid.UUID][]periodcounter.ThresholdSpec
}

// New constructs a new registry; warmup is postponed to the first use so
// construction stays free of database work.
func New(log logger.Logger, db repokit.TxRunner, b repokit.Binder[repo.Storage]) *Registry {
	return &Registry{log: log, db: db, binder: b}
}

// warm rebuilds all counters from the event store, reporting whether a
// rebuild actually ran. Caller holds the mutex. The unmute specs are
// installed only after the bulk load, so backfill can never fire a
// spurious state transition (and skipping the per-event threshold
// evaluation keeps the load fast).
func (r *Registry) warm(ctx context.Context) (bool, error) {
	if r.warmed {
		return false, nil
	}
	started := time.Now()

	r.byProject = make(map[uuid.UUID]*periodcounter.PeriodCounter)
	r.byIssue = make(map[uuid.UUID]*periodcounter.PeriodCounter)
	r.unmuteSpecs = make(map[uuid.UUID][]periodcounter.ThresholdSpec)

	events := 0
	err := r.db.Tx(ctx, func(q repokit.Queryer) error {
		s := r.binder.Bind(q)

		projectIDs, err := s.ProjectIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range projectIDs {
			r.byProject[id] = periodcounter.New()
		}

		issues, err := s.Issues(ctx)
		if err != nil {
			return err
		}
		for _, iss := range issues {
			r.byIssue[iss.ID] = periodcounter.New()
		}

		if err := s.StreamEvents(ctx, func(ev domain.WarmupEvent) error {
			events++
			r.counterFor(r.byProject, ev.ProjectID).Inc(ev.Timestamp, 1, nil)
			r.counterFor(r.byIssue, ev.IssueID).Inc(ev.Timestamp, 1, nil)
			return nil
		}); err != nil {
			return err
		}

		for _, iss := range issues {
			if !iss.IsMuted {
				continue
			}
			specs, err := unmuteSpecs(iss.UnmuteConditions)
			if err != nil {
				return err
			}
			r.unmuteSpecs[iss.ID] = specs
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	r.warmed = true
	r.log.Info().
		Int("projects", len(r.byProject)).
		Int("issues", len(r.byIssue)).
		Int("events", events).
		Dur("took", time.Since(started)).
		Msg("period counter registry warmed")
	return true, nil
}

// Warm eagerly rebuilds the counters; call it once at process start so
// the first digestion does not pay for the full event scan.
func (r *Registry) Warm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.warm(ctx)
	return err
}

func (r *Registry) counterFor(
	m map[uuid.UUID]*periodcounter.PeriodCounter, id uuid.UUID,
) *periodcounter.PeriodCounter {
	pc, ok := m[id]
	if !ok {
		pc = periodcounter.New()
		m[id] = pc
	}
	return pc
}

// IncEvent records one digested event on both the project and issue
// counters and returns the issue's unmute outcomes, if any thresholds are
// installed for it.
func (r *Registry) IncEvent(
	ctx context.Context, projectID, issueID uuid.UUID, at time.Time,
) ([]periodcounter.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rebuilt, err := r.warm(ctx)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		// IncEvent runs after the event's commit, so a rebuild inside
		// this call read a snapshot that already contains it; adding it
		// again would count it twice
		return nil, nil
	}

	r.counterFor(r.byProject, projectID).Inc(at, 1, nil)

	var thresholds map[periodcounter.Purpose][]periodcounter.ThresholdSpec
	if specs := r.unmuteSpecs[issueID]; len(specs) > 0 {
		thresholds = map[periodcounter.Purpose][]periodcounter.ThresholdSpec{
			UnmutePurpose: specs,
		}
	}
	outcomes := r.counterFor(r.byIssue, issueID).Inc(at, 1, thresholds)
	return outcomes[UnmutePurpose], nil
}

// SetUnmuteThresholds installs (or, with empty JSON, removes) the
// volume-based unmute conditions for an issue, typically right after a
// mute or unmute state change.
func (r *Registry) SetUnmuteThresholds(ctx context.Context, issueID uuid.UUID, conditionsJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.warm(ctx); err != nil {
		return err
	}

	specs, err := unmuteSpecs(conditionsJSON)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		delete(r.unmuteSpecs, issueID)
		return nil
	}
	r.unmuteSpecs[issueID] = specs
	return nil
}

// Reset drops all state so the next use warms from scratch. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warmed = false
	r.byProject = nil
	r.byIssue = nil
	r.unmuteSpecs = nil
}

// unmuteSpecs converts a JSON list of volume-based conditions into typed
// threshold specs; the condition itself rides along as metadata so unmute
// turning points can record their cause.
func unmuteSpecs(conditionsJSON string) ([]periodcounter.ThresholdSpec, error) {
	vbcs, err := idom.ParseVolumeBasedConditions(conditionsJSON)
	if err != nil {
		return nil, err
	}
	specs := make([]periodcounter.ThresholdSpec, 0, len(vbcs))
	for _, vbc := range vbcs {
		p, err := periods.Parse(vbc.Period)
		if err != nil {
			return nil, err
		}
		specs = append(specs, periodcounter.ThresholdSpec{
			Period:      p,
			NrOfPeriods: vbc.NrOfPeriods,
			GTE:         int64(vbc.Volume),
			Metadata:    vbc,
		})
	}
	return specs, nil
}
