package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	perr "bugsink/internal/platform/errors"
	"bugsink/internal/platform/logger"
	"bugsink/internal/platform/store"
	"bugsink/internal/services/issues/domain"
	irepo "bugsink/internal/services/issues/repo"
)

// UnmuteRegistry is the slice of the counter registry the manual actions
// need: keeping the in-memory unmute evaluators in step with the DB state.
type UnmuteRegistry interface {
	SetUnmuteThresholds(ctx context.Context, issueID uuid.UUID, conditionsJSON string) error
}

// Actions applies manual issue state transitions. Each action runs in its
// own write transaction; the registry is synced after commit so a failed
// transaction never leaves phantom evaluators behind.
type Actions struct {
	log    logger.Logger
	db     repokit.TxRunner
	issues repokit.Binder[irepo.Storage]
	reg    UnmuteRegistry

	now func() time.Time
}

// NewActions constructs the manual actions service
func NewActions(log logger.Logger, db repokit.TxRunner, reg UnmuteRegistry) *Actions {
	return &Actions{
		log:    log,
		db:     db,
		issues: irepo.New(),
		reg:    reg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Mute mutes the issue with the given volume-based unmute conditions
// (JSON, "[]" for none) and optional deadline
func (a *Actions) Mute(ctx context.Context, issueID uuid.UUID, conditionsJSON string, unmuteAfter *time.Time) error {
	if conditionsJSON == "" {
		conditionsJSON = "[]"
	}
	if _, err := domain.ParseVolumeBasedConditions(conditionsJSON); err != nil {
		return perr.InvalidArgf("unmute conditions: %v", err)
	}

	err := a.db.Immediate(ctx, func(q repokit.RowQuerier, _ repokit.Exclusive) error {
		issues := a.issues.Bind(q)

		issue, err := issues.Get(ctx, issueID)
		if store.IsNoRows(err) {
			return perr.NotFoundf("issue %s not found", issueID)
		}
		if err != nil {
			return perr.DBf("load issue: %v", err)
		}

		if err := Mute(&issue, conditionsJSON, unmuteAfter); err != nil {
			return perr.Conflictf("%v", err)
		}
		if err := issues.Save(ctx, issue); err != nil {
			return perr.DBf("save issue: %v", err)
		}
		return a.turningPoint(ctx, issues, issue, domain.KindMuted)
	})
	if err != nil {
		return err
	}

	if err := a.reg.SetUnmuteThresholds(ctx, issueID, conditionsJSON); err != nil {
		a.log.Warn().Err(err).Str("issue_id", issueID.String()).Msg("registry threshold sync failed")
	}
	return nil
}

// Unmute clears the mute state. Unmuting an issue that is not muted is a
// no-op, not an error; the action is idempotent from the caller's view.
func (a *Actions) Unmute(ctx context.Context, issueID uuid.UUID) error {
	var transitioned bool

	err := a.db.Immediate(ctx, func(q repokit.RowQuerier, _ repokit.Exclusive) error {
		issues := a.issues.Bind(q)

		issue, err := issues.Get(ctx, issueID)
		if store.IsNoRows(err) {
			return perr.NotFoundf("issue %s not found", issueID)
		}
		if err != nil {
			return perr.DBf("load issue: %v", err)
		}

		if !Unmute(&issue) {
			return nil
		}
		transitioned = true

		if err := issues.Save(ctx, issue); err != nil {
			return perr.DBf("save issue: %v", err)
		}
		return a.turningPoint(ctx, issues, issue, domain.KindUnmuted)
	})
	if err != nil {
		return err
	}

	if transitioned {
		if err := a.reg.SetUnmuteThresholds(ctx, issueID, "[]"); err != nil {
			a.log.Warn().Err(err).Str("issue_id", issueID.String()).Msg("registry threshold sync failed")
		}
	}
	return nil
}

// Resolve marks the issue resolved, unmuting it as a side effect.
// Resolving an already-resolved issue is a no-op.
func (a *Actions) Resolve(ctx context.Context, issueID uuid.UUID) error {
	var wasMuted bool

	err := a.db.Immediate(ctx, func(q repokit.RowQuerier, _ repokit.Exclusive) error {
		issues := a.issues.Bind(q)

		issue, err := issues.Get(ctx, issueID)
		if store.IsNoRows(err) {
			return perr.NotFoundf("issue %s not found", issueID)
		}
		if err != nil {
			return perr.DBf("load issue: %v", err)
		}

		if issue.IsResolved {
			return nil
		}
		wasMuted = issue.IsMuted

		Resolve(&issue)
		if err := issues.Save(ctx, issue); err != nil {
			return perr.DBf("save issue: %v", err)
		}
		return a.turningPoint(ctx, issues, issue, domain.KindResolved)
	})
	if err != nil {
		return err
	}

	if wasMuted {
		if err := a.reg.SetUnmuteThresholds(ctx, issueID, "[]"); err != nil {
			a.log.Warn().Err(err).Str("issue_id", issueID.String()).Msg("registry threshold sync failed")
		}
	}
	return nil
}

func (a *Actions) turningPoint(ctx context.Context, issues irepo.Storage, issue domain.Issue, kind domain.TurningPointKind) error {
	err := issues.CreateTurningPoint(ctx, domain.TurningPoint{
		ID:        uuid.New(),
		ProjectID: issue.ProjectID,
		IssueID:   issue.ID,
		Timestamp: a.now(),
		Kind:      kind,
		Metadata:  "{}",
	})
	if err != nil {
		return perr.DBf("create turning point: %v", err)
	}
	return nil
}
