// Package repo provides the events repository implementation.
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/store"
	"bugsink/internal/services/events/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a new repo binder
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the events repository
type Storage interface {
	// Insert stores a new event; a duplicate (project_id, event_id) pair
	// surfaces as the driver's unique-violation error.
	Insert(ctx context.Context, e domain.Event) error
	// ProjectWindow aggregates the project_digest_order sequence over the
	// project's events digested at or after since (all of them when since
	// is nil).
	ProjectWindow(ctx context.Context, projectID uuid.UUID, since *time.Time) (domain.WindowStats, error)
	// IssueWindow is ProjectWindow for the per-issue digest_order sequence.
	IssueWindow(ctx context.Context, issueID uuid.UUID, since *time.Time) (domain.WindowStats, error)
	// CountForProject counts the events currently stored for a project.
	CountForProject(ctx context.Context, projectID uuid.UUID) (int, error)
	// SetNeverEvict pins an already-stored event against eviction.
	SetNeverEvict(ctx context.Context, id uuid.UUID) error
	// SetTags replaces the tags for an event.
	SetTags(ctx context.Context, eventID uuid.UUID, tags map[string]string) error
}

// Insert implements Storage
func (s *sqlRepo) Insert(ctx context.Context, e domain.Event) error {
	var backend any
	if e.StorageBackend != nil {
		backend = *e.StorageBackend
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO events
			(id, event_id, project_id, issue_id, ingested_at, digested_at,
			server_side_timestamp, digest_order, project_digest_order,
			irrelevance_for_retention, never_evict, storage_backend,
			calculated_type, calculated_value, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID.String(), e.EventID, e.ProjectID.String(), e.IssueID.String(),
		e.IngestedAt.UnixNano(), e.DigestedAt.UnixNano(),
		e.ServerSideTimestamp.UnixNano(), e.DigestOrder, e.ProjectDigestOrder,
		e.IrrelevanceForRetention, boolInt(e.NeverEvict), backend,
		e.CalculatedType, e.CalculatedValue, e.Data)
	return err
}

// ProjectWindow implements Storage
func (s *sqlRepo) ProjectWindow(
	ctx context.Context, projectID uuid.UUID, since *time.Time,
) (domain.WindowStats, error) {
	return s.window(ctx, "project_digest_order", "project_id", projectID, since)
}

// IssueWindow implements Storage
func (s *sqlRepo) IssueWindow(
	ctx context.Context, issueID uuid.UUID, since *time.Time,
) (domain.WindowStats, error) {
	return s.window(ctx, "digest_order", "issue_id", issueID, since)
}

func (s *sqlRepo) window(
	ctx context.Context, orderCol, scopeCol string, scopeID uuid.UUID, since *time.Time,
) (domain.WindowStats, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	fmt.Fprintf(&sb, `SELECT MIN(%s), MAX(%s), MIN(digested_at) FROM events WHERE %s = `,
		orderCol, orderCol, scopeCol)
	sb.WriteString(arg(scopeID.String()))
	if since != nil {
		sb.WriteString(" AND digested_at >= " + arg(since.UnixNano()))
	}

	var first, last, minAt *int64
	if err := s.q.QueryRow(ctx, sb.String(), args...).Scan(&first, &last, &minAt); err != nil {
		return domain.WindowStats{}, err
	}
	if first == nil {
		return domain.WindowStats{}, nil
	}
	return domain.WindowStats{
		First:         *first,
		Last:          *last,
		MinDigestedAt: time.Unix(0, *minAt).UTC(),
		Found:         true,
	}, nil
}

// CountForProject implements Storage
func (s *sqlRepo) CountForProject(ctx context.Context, projectID uuid.UUID) (int, error) {
	return store.Scalar[int](ctx, s.q,
		`SELECT COUNT(*) FROM events WHERE project_id = $1`, projectID.String())
}

// SetNeverEvict implements Storage
func (s *sqlRepo) SetNeverEvict(ctx context.Context, id uuid.UUID) error {
	return store.ExecOne(ctx, s.q,
		`UPDATE events SET never_evict = 1 WHERE id = $1`, id.String())
}

// SetTags implements Storage
func (s *sqlRepo) SetTags(ctx context.Context, eventID uuid.UUID, tags map[string]string) error {
	if _, err := s.q.Exec(ctx,
		`DELETE FROM event_tags WHERE event_id = $1`, eventID.String()); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO event_tags (event_id, key, value) VALUES `)
	args := make([]any, 0, len(tags)*3)
	i := 0
	for k, v := range tags {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*3 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d)", base, base+1, base+2)
		args = append(args, eventID.String(), k, v)
		i++
	}
	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
