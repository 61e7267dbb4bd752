// Package repo provides the counters warmup repository implementation.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/services/counters/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a new repo binder
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the counters warmup repository
type Storage interface {
	ProjectIDs(ctx context.Context) ([]uuid.UUID, error)
	Issues(ctx context.Context) ([]domain.IssueRef, error)
	// StreamEvents walks every event in server-side-timestamp order. Order
	// matters: the counters' pruning is not commutative.
	StreamEvents(ctx context.Context, fn func(domain.WarmupEvent) error) error
}

// ProjectIDs implements Storage
func (s *sqlRepo) ProjectIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.q.Query(ctx, `SELECT id FROM projects`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Issues implements Storage
func (s *sqlRepo) Issues(ctx context.Context) ([]domain.IssueRef, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, is_muted, unmute_on_volume_based_conditions FROM issues`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.IssueRef
	for rows.Next() {
		var (
			raw   string
			muted int
			ref   domain.IssueRef
		)
		if err := rows.Scan(&raw, &muted, &ref.UnmuteConditions); err != nil {
			return nil, err
		}
		var err error
		if ref.ID, err = uuid.Parse(raw); err != nil {
			return nil, err
		}
		ref.IsMuted = muted != 0
		out = append(out, ref)
	}
	return out, rows.Err()
}

// StreamEvents implements Storage
func (s *sqlRepo) StreamEvents(ctx context.Context, fn func(domain.WarmupEvent) error) error {
	rows, err := s.q.Query(ctx, `
		SELECT project_id, issue_id, server_side_timestamp
		FROM events ORDER BY server_side_timestamp`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawProject, rawIssue string
			ns                   int64
			ev                   domain.WarmupEvent
		)
		if err := rows.Scan(&rawProject, &rawIssue, &ns); err != nil {
			return err
		}
		if ev.ProjectID, err = uuid.Parse(rawProject); err != nil {
			return err
		}
		if ev.IssueID, err = uuid.Parse(rawIssue); err != nil {
			return err
		}
		ev.Timestamp = time.Unix(0, ns).UTC()
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}
