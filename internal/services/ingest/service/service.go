// Package service implements the digestion pipeline.
//
// One digestion is one immediate (exclusive-write) transaction: quota
// gate, grouping, eviction, the event insert and all issue state changes
// commit or roll back together, so no event is ever half-digested.
// Digestions are thereby serialized, which also makes digested_at
// non-decreasing; quota, eviction and unmuting all run on digested_at for
// that reason, while user-facing timestamps stay on ingested_at.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/core/irrelevance"
	"bugsink/internal/core/periods"
	"bugsink/internal/modkit/repokit"
	perr "bugsink/internal/platform/errors"
	"bugsink/internal/platform/logger"
	"bugsink/internal/services/ingest/domain"

	csvc "bugsink/internal/services/counters/service"
	evdom "bugsink/internal/services/events/domain"
	erepo "bugsink/internal/services/events/repo"
	idom "bugsink/internal/services/issues/domain"
	irepo "bugsink/internal/services/issues/repo"
	isvc "bugsink/internal/services/issues/service"
	pdom "bugsink/internal/services/projects/domain"
	prepo "bugsink/internal/services/projects/repo"
	rrepo "bugsink/internal/services/retention/repo"
	rsvc "bugsink/internal/services/retention/service"
)

// Config for the ingest service
type Config struct {
	// Project-level rate quotas, 0 disables the respective threshold.
	MaxPer5Minutes int64
	MaxPerHour     int64
	// CleanupBatch caps how many storage-cleanup todos one post-commit
	// drain handles; defaults to 100 if <=0.
	CleanupBatch int
}

// Service implements domain.DigesterPort.
type Service struct {
	Log logger.Logger
	DB  repokit.TxRunner

	Projects  repokit.Binder[prepo.Storage]
	Issues    repokit.Binder[irepo.Storage]
	Events    repokit.Binder[erepo.Storage]
	Retention repokit.Binder[rrepo.Storage]

	Evictor  *rsvc.Evictor
	Registry *csvc.Registry
	Rand     irrelevance.Source
	Blobs    domain.BlobStore // optional

	// Now is the digestion clock, swappable in tests; defaults to UTC now.
	Now func() time.Time

	Cfg Config
}

// New constructs a new ingest service
func New(
	log logger.Logger,
	db repokit.TxRunner,
	evictor *rsvc.Evictor,
	registry *csvc.Registry,
	rand irrelevance.Source,
	cfg Config,
) *Service {
	if cfg.CleanupBatch <= 0 {
		cfg.CleanupBatch = 100
	}
	return &Service{
		Log:       log,
		DB:        db,
		Projects:  prepo.New(),
		Issues:    irepo.New(),
		Events:    erepo.New(),
		Retention: rrepo.New(),
		Evictor:   evictor,
		Registry:  registry,
		Rand:      rand,
		Now:       func() time.Time { return time.Now().UTC() },
		Cfg:       cfg,
	}
}

// GroupingKeyHash is the indexed form of a grouping key.
func GroupingKeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// txState carries what a digestion decides inside the transaction but
// acts on only after commit.
type txState struct {
	res            domain.DigestResult
	timestamp      time.Time
	unmutedIssueID *uuid.UUID
	evictedAny     bool
}

// Digest implements domain.DigesterPort.
func (s *Service) Digest(ctx context.Context, in domain.DigestInput) (domain.DigestResult, error) {
	var st txState
	err := s.DB.Immediate(ctx, func(q repokit.Queryer, lease repokit.Exclusive) error {
		return s.digest(ctx, q, lease, in, &st)
	})
	if err != nil {
		return domain.DigestResult{}, err
	}

	if st.res.Accepted {
		// the in-memory counters track committed state only; a rolled
		// back digestion must leave no trace in them
		if _, err := s.Registry.IncEvent(ctx, in.ProjectID, st.res.IssueID, st.timestamp); err != nil {
			s.Log.Warn().Err(err).Msg("period counter increment failed")
		}
		if st.unmutedIssueID != nil {
			if err := s.Registry.SetUnmuteThresholds(ctx, *st.unmutedIssueID, "[]"); err != nil {
				s.Log.Warn().Err(err).Msg("unmute threshold removal failed")
			}
		}
		if st.evictedAny {
			s.DrainCleanupTodos(ctx)
		}
	}
	return st.res, nil
}

func (s *Service) digest(
	ctx context.Context,
	q repokit.Queryer,
	lease repokit.Exclusive,
	in domain.DigestInput,
	st *txState,
) error {
	digestedAt := s.Now().UTC()
	ingestedAt := in.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = digestedAt
	}
	st.timestamp = digestedAt

	projects := s.Projects.Bind(q)
	issues := s.Issues.Bind(q)
	events := s.Events.Bind(q)

	project, err := projects.Get(ctx, in.ProjectID)
	if err != nil {
		return fmt.Errorf("project %s: %w", in.ProjectID, err)
	}

	ok, err := s.applyProjectQuota(ctx, events, &project, digestedAt)
	if err != nil {
		return err
	}
	if !ok {
		// over quota: drop silently, nothing to update
		st.res.QuotaUntil = project.QuotaExceededUntil
		return nil
	}

	keyHash := GroupingKeyHash(in.GroupingKey)
	issue, found, err := issues.GetByGrouping(ctx, in.ProjectID, keyHash)
	if err != nil {
		return err
	}
	issueCreated := !found
	if found {
		issue.LastSeen = ingestedAt
		issue.DigestedEventCount++
	} else {
		maxOrder, err := issues.MaxDigestOrder(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		// a new grouping key implies a new issue: manual regrouping can by
		// definition not have been specified yet
		issue = idom.Issue{
			ID:                            uuid.New(),
			ProjectID:                     in.ProjectID,
			DigestOrder:                   maxOrder + 1,
			FirstSeen:                     ingestedAt,
			LastSeen:                      ingestedAt,
			DigestedEventCount:            1,
			StoredEventCount:              0, // incremented below
			UnmuteOnVolumeBasedConditions: "[]",
		}
		if err := issues.Create(ctx, issue); err != nil {
			return err
		}
		if err := issues.CreateGrouping(ctx, idom.Grouping{
			ID:              uuid.New(),
			ProjectID:       in.ProjectID,
			IssueID:         issue.ID,
			GroupingKey:     in.GroupingKey,
			GroupingKeyHash: keyHash,
		}); err != nil {
			return err
		}
	}

	// +1 because we're about to add one event
	projectStored := project.StoredEventCount + 1

	var evicted struct {
		total    int
		perIssue map[uuid.UUID]int
	}
	if rsvc.ShouldEvict(project.RetentionMaxEventCount, projectStored) {
		counts, err := s.Evictor.EvictForMaxEvents(
			ctx, q, lease, project.ID, project.RetentionMaxEventCount, digestedAt, projectStored)
		if err != nil {
			return err
		}
		evicted.total = counts.Total
		evicted.perIssue = counts.PerIssue

		// the current issue is held open here, so its count is adjusted
		// on the struct below rather than with the others
		others := make(map[uuid.UUID]int, len(counts.PerIssue))
		for id, n := range counts.PerIssue {
			if id != issue.ID {
				others[id] = n
			}
		}
		if err := issues.DiscountStored(ctx, others); err != nil {
			return err
		}
		st.evictedAny = true
	}

	issue.StoredEventCount = issue.StoredEventCount + 1 - evicted.perIssue[issue.ID]
	project.StoredEventCount = projectStored - evicted.total
	if err := projects.Save(ctx, project); err != nil {
		return err
	}

	event := evdom.Event{
		ID:                      uuid.New(),
		EventID:                 in.EventID,
		ProjectID:               in.ProjectID,
		IssueID:                 issue.ID,
		IngestedAt:              ingestedAt,
		DigestedAt:              digestedAt,
		ServerSideTimestamp:     digestedAt,
		DigestOrder:             issue.DigestedEventCount,
		ProjectDigestOrder:      project.DigestedEventCount,
		IrrelevanceForRetention: irrelevance.Random(s.Rand, issue.StoredEventCount),
		StorageBackend:          in.StorageBackend,
		CalculatedType:          in.CalculatedType,
		CalculatedValue:         in.CalculatedValue,
		Data:                    in.Data,
	}

	// all turning points are known before the insert, so the never_evict
	// flag can be final on the row from the start; only the volume-based
	// unmute below needs a second write
	var turningPoints []idom.TurningPoint
	if issueCreated {
		turningPoints = append(turningPoints, idom.TurningPoint{
			ID: uuid.New(), ProjectID: project.ID, IssueID: issue.ID,
			TriggeringEventID: &event.ID, Timestamp: ingestedAt,
			Kind: idom.KindFirstSeen, Metadata: "{}",
		})
		event.NeverEvict = true
	} else {
		if issue.IsResolved {
			// new issues cannot be regressions by definition
			turningPoints = append(turningPoints, idom.TurningPoint{
				ID: uuid.New(), ProjectID: project.ID, IssueID: issue.ID,
				TriggeringEventID: &event.ID, Timestamp: ingestedAt,
				Kind: idom.KindRegressed, Metadata: "{}",
			})
			event.NeverEvict = true
			isvc.Reopen(&issue)
		}
		if issue.IsMuted && issue.UnmuteAfter != nil && digestedAt.After(*issue.UnmuteAfter) {
			// unmuting on-digest means issues that stop occurring stay
			// muted, which is the point: what no longer happens should
			// not draw attention. "Unmute after" really reads "I suppose
			// this self-resolves in x time; tell me if not"
			meta := unmuteAfterMetadata(*issue.UnmuteAfter)
			if isvc.Unmute(&issue) {
				turningPoints = append(turningPoints, idom.TurningPoint{
					ID: uuid.New(), ProjectID: project.ID, IssueID: issue.ID,
					TriggeringEventID: &event.ID, Timestamp: ingestedAt,
					Kind: idom.KindUnmuted, Metadata: meta,
				})
				event.NeverEvict = true
				st.unmutedIssueID = &issue.ID
			}
		}
	}

	if err := events.Insert(ctx, event); err != nil {
		if isDuplicate(err) {
			if issueCreated {
				// a client reusing an event_id with different-enough data
				// to group into a fresh issue; failing the transaction
				// undoes the issue so the store stays consistent
				return fmt.Errorf("no event created, but issue created for event_id %s", in.EventID)
			}
			return perr.DuplicateKeyf("event %s already exists", in.EventID)
		}
		return err
	}
	for _, tp := range turningPoints {
		if err := issues.CreateTurningPoint(ctx, tp); err != nil {
			return err
		}
	}

	if err := s.applyUnmuteThresholds(ctx, events, issues, &issue, event, digestedAt, st); err != nil {
		return err
	}

	if err := issues.Save(ctx, issue); err != nil {
		return err
	}

	// intentionally last; candidate for moving out of the transaction
	if err := events.SetTags(ctx, event.ID, in.Tags); err != nil {
		return err
	}

	st.res = domain.DigestResult{
		Accepted:     true,
		EventPK:      event.ID,
		IssueID:      issue.ID,
		IssueCreated: issueCreated,
		Evicted:      evicted.total,
	}
	return nil
}

// applyProjectQuota is the on-digest quota gate. It returns false when the
// event must be dropped. The check also ran at ingestion, but a digestion
// backlog means quota_exceeded_until may only be written after any number
// of events already entered the pipeline, hence the re-check.
//
// The expensive threshold evaluation is amortized: it only runs every
// check_again_after digested events, because no period's count can grow
// faster than total ingestion.
func (s *Service) applyProjectQuota(
	ctx context.Context, events erepo.Storage, project *pdom.Project, now time.Time,
) (bool, error) {
	if project.QuotaExceededAt(now) {
		return false, nil
	}

	project.DigestedEventCount++

	if project.DigestedEventCount >= project.NextQuotaCheck {
		thresholds := s.projectThresholds()
		if len(thresholds) == 0 {
			return true, nil
		}

		// addForCurrent=1: the current event is not stored yet, and the
		// gte-test means it is always accepted before the door closes
		window := func(ctx context.Context, since *time.Time) (evdom.WindowStats, error) {
			return events.ProjectWindow(ctx, project.ID, since)
		}
		states, err := checkForThresholds(ctx, window, now, thresholds, 1)
		if err != nil {
			return false, err
		}

		var until *time.Time
		checkAgain := int64(1)
		haveCheck := false
		for _, state := range states {
			if state.Exceeded && (until == nil || state.BelowFrom.After(*until)) {
				until = state.BelowFrom
			}
			if !haveCheck || state.CheckAgainAfter < checkAgain {
				checkAgain = state.CheckAgainAfter
				haveCheck = true
			}
		}
		if checkAgain < 1 {
			// the next digested event moves the count, so the next check
			// cannot be due before then anyway; be explicit about it
			checkAgain = 1
		}

		project.QuotaExceededUntil = until
		project.NextQuotaCheck = project.DigestedEventCount + checkAgain
	}
	return true, nil
}

// applyUnmuteThresholds runs the amortized volume-based unmute check for
// the issue, after the event insert (the triggering event must exist for
// the turning point to reference it).
func (s *Service) applyUnmuteThresholds(
	ctx context.Context,
	events erepo.Storage,
	issues irepo.Storage,
	issue *idom.Issue,
	event evdom.Event,
	now time.Time,
	st *txState,
) error {
	vbcs, err := isvc.UnmuteThresholds(issue)
	if err != nil {
		return err
	}
	if len(vbcs) == 0 || issue.DigestedEventCount < issue.NextUnmuteCheck {
		return nil
	}

	thresholds := make([]domain.Threshold, 0, len(vbcs))
	for _, vbc := range vbcs {
		p, err := periods.Parse(vbc.Period)
		if err != nil {
			return err
		}
		thresholds = append(thresholds, domain.Threshold{
			Period: p, NrOfPeriods: vbc.NrOfPeriods, GTE: int64(vbc.Volume),
		})
	}

	window := func(ctx context.Context, since *time.Time) (evdom.WindowStats, error) {
		return events.IssueWindow(ctx, issue.ID, since)
	}
	states, err := CheckForThresholds(ctx, window, now, thresholds, 0)
	if err != nil {
		return err
	}

	checkAgain := int64(1)
	for i, state := range states {
		if i == 0 || state.CheckAgainAfter < checkAgain {
			checkAgain = state.CheckAgainAfter
		}
	}
	if checkAgain < 1 {
		checkAgain = 1
	}
	issue.NextUnmuteCheck = issue.DigestedEventCount + checkAgain

	for _, state := range states {
		if !state.Exceeded {
			continue
		}
		if !isvc.Unmute(issue) {
			break
		}
		meta, err := json.Marshal(map[string]any{"mute_until": map[string]any{
			"period":        state.Spec.Period.String(),
			"nr_of_periods": state.Spec.NrOfPeriods,
			"volume":        state.Spec.GTE,
		}})
		if err != nil {
			return err
		}
		if err := issues.CreateTurningPoint(ctx, idom.TurningPoint{
			ID: uuid.New(), ProjectID: issue.ProjectID, IssueID: issue.ID,
			TriggeringEventID: &event.ID, Timestamp: event.IngestedAt,
			Kind: idom.KindUnmuted, Metadata: string(meta),
		}); err != nil {
			return err
		}
		if err := events.SetNeverEvict(ctx, event.ID); err != nil {
			return err
		}
		st.unmutedIssueID = &issue.ID
		// several conditions can be met by a single event; one turning
		// point is enough
		break
	}
	return nil
}

func (s *Service) projectThresholds() []domain.Threshold {
	var out []domain.Threshold
	if s.Cfg.MaxPer5Minutes > 0 {
		out = append(out, domain.Threshold{Period: periods.Minute, NrOfPeriods: 5, GTE: s.Cfg.MaxPer5Minutes})
	}
	if s.Cfg.MaxPerHour > 0 {
		out = append(out, domain.Threshold{Period: periods.Minute, NrOfPeriods: 60, GTE: s.Cfg.MaxPerHour})
	}
	return out
}

// DrainCleanupTodos deletes the out-of-database blobs recorded during
// eviction. Per-item failures are logged and skipped: the DB row is
// already gone and is the source of truth, so a failed blob delete must
// not block the rest of the batch.
func (s *Service) DrainCleanupTodos(ctx context.Context) {
	err := s.DB.Immediate(ctx, func(q repokit.Queryer, _ repokit.Exclusive) error {
		r := s.Retention.Bind(q)
		todos, err := r.ListCleanupTodos(ctx, s.Cfg.CleanupBatch)
		if err != nil {
			return err
		}
		for _, todo := range todos {
			if s.Blobs != nil {
				if err := s.Blobs.Delete(ctx, todo.StorageBackend, todo.EventID); err != nil {
					s.Log.Warn().Err(err).
						Str("event_id", todo.EventID.String()).
						Str("storage_backend", todo.StorageBackend).
						Msg("storage cleanup failed")
					continue
				}
			}
			if err := r.DeleteCleanupTodo(ctx, todo.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.Log.Warn().Err(err).Msg("storage cleanup drain failed")
	}
}

func unmuteAfterMetadata(unmuteAfter time.Time) string {
	meta, _ := json.Marshal(map[string]any{"mute_for": map[string]any{
		"unmute_after": unmuteAfter.UTC().Format(time.RFC3339),
	}})
	return string(meta)
}

func isDuplicate(err error) bool {
	return perr.IsDuplicateKey(err) || perr.IsSQLiteDuplicateKey(err)
}
