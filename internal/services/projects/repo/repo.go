// Package repo provides the projects repository implementation.
package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/store"
	ptime "bugsink/internal/platform/time"
	"bugsink/internal/services/projects/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a new repo binder
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the projects repository
type Storage interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Project, error)
	Create(ctx context.Context, p domain.Project) error
	// Save persists the mutable counters and quota fields.
	Save(ctx context.Context, p domain.Project) error
}

// Get implements Storage
func (s *sqlRepo) Get(ctx context.Context, id uuid.UUID) (domain.Project, error) {
	var (
		p     domain.Project
		rawID string
		until sql.NullInt64
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, name, public_key, retention_max_event_count, stored_event_count,
			digested_event_count, next_quota_check, quota_exceeded_until
		FROM projects WHERE id = $1`, id.String(),
	).Scan(&rawID, &p.Name, &p.PublicKey, &p.RetentionMaxEventCount, &p.StoredEventCount,
		&p.DigestedEventCount, &p.NextQuotaCheck, &until)
	if err != nil {
		return domain.Project{}, err
	}
	if p.ID, err = uuid.Parse(rawID); err != nil {
		return domain.Project{}, err
	}
	if until.Valid {
		t := time.Unix(0, until.Int64).UTC()
		p.QuotaExceededUntil = &t
	}
	return p, nil
}

// Create implements Storage
func (s *sqlRepo) Create(ctx context.Context, p domain.Project) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO projects
			(id, name, public_key, retention_max_event_count, stored_event_count,
			digested_event_count, next_quota_check, quota_exceeded_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID.String(), p.Name, p.PublicKey, p.RetentionMaxEventCount, p.StoredEventCount,
		p.DigestedEventCount, p.NextQuotaCheck, ptime.NullableNano(p.QuotaExceededUntil))
	return err
}

// Save implements Storage
func (s *sqlRepo) Save(ctx context.Context, p domain.Project) error {
	return store.ExecOne(ctx, s.q, `
		UPDATE projects SET
			stored_event_count = $1,
			digested_event_count = $2,
			next_quota_check = $3,
			quota_exceeded_until = $4
		WHERE id = $5`,
		p.StoredEventCount, p.DigestedEventCount, p.NextQuotaCheck,
		ptime.NullableNano(p.QuotaExceededUntil), p.ID.String())
}

