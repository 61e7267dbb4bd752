// Package service implements the eviction engine.
//
// Eviction keeps each project at or under its retention quota by deleting
// the least relevant events first. Instead of computing a total
// irrelevance per event, the engine partitions the project's history into
// age buckets (one age-based irrelevance value per bucket), asks each
// bucket for its maximum observed item irrelevance, and then searches
// downward for a total-irrelevance cutoff that frees enough rows. All of
// this runs inside the caller's exclusive write transaction; the lease
// parameter makes that requirement part of the signature.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/core/irrelevance"
	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/logger"
	"bugsink/internal/services/retention/domain"
	"bugsink/internal/services/retention/repo"
)

// Config for the retention service
type Config struct {
	// MaxPerPass caps how many events one eviction pass may delete;
	// defaults to 500 if <=0.
	MaxPerPass int
}

// Evictor implements the eviction engine against a bound repository.
type Evictor struct {
	Log    logger.Logger
	Binder repokit.Binder[repo.Storage]
	Cfg    Config
}

// New constructs a new evictor
func New(log logger.Logger, b repokit.Binder[repo.Storage], cfg Config) *Evictor {
	if cfg.MaxPerPass <= 0 {
		cfg.MaxPerPass = 500
	}
	return &Evictor{Log: log, Binder: b, Cfg: cfg}
}

// ShouldEvict reports whether the project is over quota: strictly over,
// because action is only needed once the max is exceeded.
func ShouldEvict(maxEventCount, storedEventCount int) bool {
	return storedEventCount > maxEventCount
}

// EvictionTarget is how many events one pass should remove: at least 5% of
// the quota so the next few digests don't immediately re-trigger the
// relatively expensive eviction, at least the number of events over quota
// (covers downward-adjusted quotas, and tiny quotas where 5% rounds to 0),
// and at most the per-pass cap so a single transaction never blocks for
// long. An unfinished pass resumes on a later digest.
func (e *Evictor) EvictionTarget(maxEventCount, storedEventCount int) int {
	target := int(float64(maxEventCount) * 0.05)
	if over := storedEventCount - maxEventCount; over > target {
		target = over
	}
	if target > e.Cfg.MaxPerPass {
		target = e.Cfg.MaxPerPass
	}
	return target
}

// EvictForMaxEvents runs one eviction pass for the project and returns
// what it removed, per issue. storedEventCount must include the event
// currently being digested. Requires the write lease of the surrounding
// immediate transaction.
func (e *Evictor) EvictForMaxEvents(
	ctx context.Context,
	q repokit.Queryer,
	lease repokit.Exclusive,
	projectID uuid.UUID,
	maxEventCount int,
	now time.Time,
	storedEventCount int,
) (domain.EvictionCounts, error) {
	_ = lease
	return e.evictForMaxEvents(ctx, q, projectID, maxEventCount, now, storedEventCount, false)
}

func (e *Evictor) evictForMaxEvents(
	ctx context.Context,
	q repokit.Queryer,
	projectID uuid.UUID,
	maxEventCount int,
	now time.Time,
	storedEventCount int,
	includeNeverEvict bool,
) (domain.EvictionCounts, error) {
	phase0 := newPhase(q)
	s := e.Binder.Bind(phase0)

	buckets, err := e.epochBuckets(ctx, s, projectID, now, includeNeverEvict)
	if err != nil {
		return domain.EvictionCounts{}, err
	}

	// the currently observed max total irrelevance is the starting cutoff
	origCutoff := buckets[0].TotalIrrelevance()
	for _, b := range buckets[1:] {
		if t := b.TotalIrrelevance(); t > origCutoff {
			origCutoff = t
		}
	}
	phase0.stop()

	phase1 := newPhase(q)
	s = e.Binder.Bind(phase1)

	var evicted domain.EvictionCounts
	cutoff := origCutoff
	target := e.EvictionTarget(maxEventCount, storedEventCount)
	for evicted.Total < target {
		// decrement up front so the observed max is precisely the first
		// thing evicted (eviction is strictly-greater-than the cutoff)
		cutoff--

		counts, err := e.evictForIrrelevance(
			ctx, s, projectID, cutoff, filterForWork(buckets, cutoff),
			includeNeverEvict, target-evicted.Total)
		if err != nil {
			return domain.EvictionCounts{}, err
		}
		evicted.Add(counts)

		if cutoff < -1 { // < -1: as in evictForIrrelevance
			if !includeNeverEvict {
				// everything that remains is never_evict; "never say
				// never" and evict those as a last measure
				rest, err := e.evictForMaxEvents(ctx, q, projectID, maxEventCount, now,
					storedEventCount-evicted.Total, true)
				if err != nil {
					return domain.EvictionCounts{}, err
				}
				evicted.Add(rest)
				return evicted, nil
			}
			return domain.EvictionCounts{}, fmt.Errorf(
				"no more effective eviction possible but target not reached")
		}
	}
	phase1.stop()

	// phase 0: SELECTs building the per-bucket irrelevance histogram
	// phase 1: the DELETEs and their bookkeeping
	e.Log.Info().
		Str("project_id", projectID.String()).
		Int("evicted", evicted.Total).
		Int("down_to", storedEventCount-evicted.Total-1).
		Int("max_irrelevance_from", origCutoff).
		Int("max_irrelevance_to", cutoff).
		Dur("phase0", phase0.took).
		Dur("phase1", phase1.took).
		Int("phase0_queries", phase0.queries).
		Int("phase1_queries", phase1.queries).
		Msg("evicted for max events")

	return evicted, nil
}

// epochBuckets builds the age histogram: starting from the oldest
// evictable event it partitions the history into windows whose widths grow
// as powers of the age-irrelevance base, newest first, each annotated
// with its single age-based irrelevance value and the max observed item
// irrelevance inside it.
func (e *Evictor) epochBuckets(
	ctx context.Context, s repo.Storage, projectID uuid.UUID, now time.Time, includeNeverEvict bool,
) ([]domain.Bucket, error) {
	currentEpoch := domain.EpochOf(now)

	oldest, err := s.OldestDigestedAt(ctx, projectID, includeNeverEvict)
	if err != nil {
		return nil, err
	}
	firstEpoch := currentEpoch
	if oldest != nil {
		firstEpoch = domain.EpochOf(*oldest)
	}
	difference := int(currentEpoch - firstEpoch)

	// edges, newest to oldest: open, then current_epoch - age for each age
	// 4^k - 1 while it stays under the full span, then open again
	edges := []*domain.Epoch{nil}
	for n := 0; ; n++ {
		age := irrelevance.AgeForIrrelevance(n)
		if age >= difference {
			break
		}
		edge := currentEpoch - domain.Epoch(age)
		edges = append(edges, &edge)
	}
	edges = append(edges, nil)

	buckets := make([]domain.Bucket, 0, len(edges)-1)
	for i := 0; i+1 < len(edges); i++ {
		b := domain.Bucket{UB: edges[i], LB: edges[i+1], AgeIrrelevance: i}
		if b.MaxItemIrrelevance, err = s.MaxItemIrrelevance(
			ctx, projectID, b.LB, b.UB, includeNeverEvict); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// filterForWork drops buckets that cannot contain anything above the
// cutoff, per the histogram gathered up front. It only uses already
// available information, so it is not a complete filter, but it puts the
// queries already done to full use.
func filterForWork(buckets []domain.Bucket, cutoff int) []domain.Bucket {
	var work []domain.Bucket
	for _, b := range buckets {
		if b.TotalIrrelevance() > cutoff { // strictly: only then is anything evictable
			work = append(work, b)
		}
	}
	return work
}

// evictForIrrelevance deletes events whose total irrelevance exceeds the
// cutoff, walking the buckets newest-first and splitting the cutoff into a
// per-bucket item-irrelevance bound. Only each bucket's upper epoch bound
// is applied: older buckets are visited later with an even lower item
// bound, which would delete the same rows anyway.
func (e *Evictor) evictForIrrelevance(
	ctx context.Context,
	s repo.Storage,
	projectID uuid.UUID,
	cutoff int,
	buckets []domain.Bucket,
	includeNeverEvict bool,
	budget int,
) (domain.EvictionCounts, error) {
	var evicted domain.EvictionCounts

	for _, b := range buckets {
		maxItemIrrelevance := cutoff - b.AgeIrrelevance

		counts, err := e.evictForEpochAndIrrelevance(ctx, s, repo.Selection{
			ProjectID:         projectID,
			MaxIrrelevance:    maxItemIrrelevance,
			Before:            epochTime(b.UB),
			IncludeNeverEvict: includeNeverEvict,
		}, budget-evicted.Total)
		if err != nil {
			return domain.EvictionCounts{}, err
		}
		evicted.Add(counts)

		if maxItemIrrelevance <= -1 {
			// the irrelevance test is exclusive and the minimal occurring
			// value is 0, so a bound of -1 evicts everything that
			// qualifies; after that there is nothing left in any older
			// bucket either
			break
		}
		if evicted.Total >= budget {
			// budget reached; not everything above the cutoff is gone
			// yet, and because buckets are visited newest-first the older
			// rows are the ones spared
			break
		}
	}
	return evicted, nil
}

// evictForEpochAndIrrelevance is the leaf deletion: materialize the ids of
// up to budget qualifying rows, record cleanup work for their out-of-DB
// blobs, drop their tags, delete them. In include-never-evict mode any
// turning points referencing the selection lose their event reference
// first so the delete cannot be blocked.
func (e *Evictor) evictForEpochAndIrrelevance(
	ctx context.Context, s repo.Storage, sel repo.Selection, budget int,
) (domain.EvictionCounts, error) {
	if sel.IncludeNeverEvict {
		if err := s.ClearTriggeringEventRefs(ctx, sel); err != nil {
			return domain.EvictionCounts{}, err
		}
	}

	victims, err := s.SelectVictims(ctx, sel, budget)
	if err != nil {
		return domain.EvictionCounts{}, err
	}
	if len(victims) == 0 {
		return domain.EvictionCounts{}, nil
	}

	if err := s.InsertCleanupTodos(ctx, victims); err != nil {
		return domain.EvictionCounts{}, err
	}

	ids := make([]uuid.UUID, len(victims))
	counts := domain.EvictionCounts{PerIssue: make(map[uuid.UUID]int)}
	for i, v := range victims {
		ids[i] = v.ID
		counts.PerIssue[v.IssueID]++
	}
	if err := s.DeleteTags(ctx, ids); err != nil {
		return domain.EvictionCounts{}, err
	}
	if counts.Total, err = s.Delete(ctx, ids); err != nil {
		return domain.EvictionCounts{}, err
	}
	return counts, nil
}

func epochTime(e *domain.Epoch) *time.Time {
	if e == nil {
		return nil
	}
	t := domain.TimeOf(*e)
	return &t
}
