// Package repo provides the issues repository implementation.
package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/store"
	ptime "bugsink/internal/platform/time"
	"bugsink/internal/services/issues/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a new repo binder
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Storage defines the issues repository
type Storage interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Issue, error)
	// GetByGrouping resolves a grouping-key hash to its issue; the bool
	// reports whether the grouping exists.
	GetByGrouping(ctx context.Context, projectID uuid.UUID, keyHash string) (domain.Issue, bool, error)
	Create(ctx context.Context, issue domain.Issue) error
	CreateGrouping(ctx context.Context, g domain.Grouping) error
	// MaxDigestOrder returns the highest issue digest order in the project,
	// 0 when the project has no issues yet.
	MaxDigestOrder(ctx context.Context, projectID uuid.UUID) (int64, error)
	// Save persists the mutable state and counter fields.
	Save(ctx context.Context, issue domain.Issue) error
	// DiscountStored subtracts the given per-issue counts from
	// stored_event_count after an eviction pass.
	DiscountStored(ctx context.Context, perIssue map[uuid.UUID]int) error
	CreateTurningPoint(ctx context.Context, tp domain.TurningPoint) error
}

const issueColumns = `id, project_id, digest_order, first_seen, last_seen,
	digested_event_count, stored_event_count, is_resolved, is_muted,
	unmute_on_volume_based_conditions, unmute_after, next_unmute_check`

func scanIssue(row repokit.Row) (domain.Issue, error) {
	var (
		iss               domain.Issue
		rawID, rawProject string
		firstSeen         int64
		lastSeen          int64
		resolved, muted   int
		unmuteAfter       sql.NullInt64
	)
	err := row.Scan(&rawID, &rawProject, &iss.DigestOrder, &firstSeen, &lastSeen,
		&iss.DigestedEventCount, &iss.StoredEventCount, &resolved, &muted,
		&iss.UnmuteOnVolumeBasedConditions, &unmuteAfter, &iss.NextUnmuteCheck)
	if err != nil {
		return domain.Issue{}, err
	}
	if iss.ID, err = uuid.Parse(rawID); err != nil {
		return domain.Issue{}, err
	}
	if iss.ProjectID, err = uuid.Parse(rawProject); err != nil {
		return domain.Issue{}, err
	}
	iss.FirstSeen = time.Unix(0, firstSeen).UTC()
	iss.LastSeen = time.Unix(0, lastSeen).UTC()
	iss.IsResolved = resolved != 0
	iss.IsMuted = muted != 0
	if unmuteAfter.Valid {
		t := time.Unix(0, unmuteAfter.Int64).UTC()
		iss.UnmuteAfter = &t
	}
	return iss, nil
}

// Get implements Storage
func (s *sqlRepo) Get(ctx context.Context, id uuid.UUID) (domain.Issue, error) {
	return scanIssue(s.q.QueryRow(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = $1`, id.String()))
}

// GetByGrouping implements Storage
func (s *sqlRepo) GetByGrouping(
	ctx context.Context, projectID uuid.UUID, keyHash string,
) (domain.Issue, bool, error) {
	iss, err := scanIssue(s.q.QueryRow(ctx, `
		SELECT `+prefixed("i.", issueColumns)+`
		FROM issues i
		JOIN groupings g ON g.issue_id = i.id
		WHERE g.project_id = $1 AND g.grouping_key_hash = $2`,
		projectID.String(), keyHash))
	if err != nil {
		if store.IsNoRows(err) {
			return domain.Issue{}, false, nil
		}
		return domain.Issue{}, false, err
	}
	return iss, true, nil
}

// Create implements Storage
func (s *sqlRepo) Create(ctx context.Context, iss domain.Issue) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		iss.ID.String(), iss.ProjectID.String(), iss.DigestOrder,
		iss.FirstSeen.UnixNano(), iss.LastSeen.UnixNano(),
		iss.DigestedEventCount, iss.StoredEventCount,
		boolInt(iss.IsResolved), boolInt(iss.IsMuted),
		iss.UnmuteOnVolumeBasedConditions, ptime.NullableNano(iss.UnmuteAfter),
		iss.NextUnmuteCheck)
	return err
}

// CreateGrouping implements Storage
func (s *sqlRepo) CreateGrouping(ctx context.Context, g domain.Grouping) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO groupings (id, project_id, issue_id, grouping_key, grouping_key_hash)
		VALUES ($1, $2, $3, $4, $5)`,
		g.ID.String(), g.ProjectID.String(), g.IssueID.String(),
		g.GroupingKey, g.GroupingKeyHash)
	return err
}

// MaxDigestOrder implements Storage
func (s *sqlRepo) MaxDigestOrder(ctx context.Context, projectID uuid.UUID) (int64, error) {
	return store.Scalar[int64](ctx, s.q,
		`SELECT COALESCE(MAX(digest_order), 0) FROM issues WHERE project_id = $1`,
		projectID.String())
}

// Save implements Storage
func (s *sqlRepo) Save(ctx context.Context, iss domain.Issue) error {
	return store.ExecOne(ctx, s.q, `
		UPDATE issues SET
			last_seen = $1,
			digested_event_count = $2,
			stored_event_count = $3,
			is_resolved = $4,
			is_muted = $5,
			unmute_on_volume_based_conditions = $6,
			unmute_after = $7,
			next_unmute_check = $8
		WHERE id = $9`,
		iss.LastSeen.UnixNano(), iss.DigestedEventCount, iss.StoredEventCount,
		boolInt(iss.IsResolved), boolInt(iss.IsMuted),
		iss.UnmuteOnVolumeBasedConditions, ptime.NullableNano(iss.UnmuteAfter),
		iss.NextUnmuteCheck, iss.ID.String())
}

// DiscountStored implements Storage. One UPDATE per distinct count: issues
// that lost the same number of events share a statement, so the query count
// is bounded by the number of distinct counts rather than by the number of
// issues touched.
func (s *sqlRepo) DiscountStored(ctx context.Context, perIssue map[uuid.UUID]int) error {
	byCount := make(map[int][]uuid.UUID)
	for id, n := range perIssue {
		if n == 0 {
			continue
		}
		byCount[n] = append(byCount[n], id)
	}

	for n, ids := range byCount {
		var sb strings.Builder
		var args []any
		arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

		sb.WriteString("UPDATE issues SET stored_event_count = stored_event_count - " + arg(n))
		sb.WriteString(" WHERE id IN (")
		for i, id := range ids {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(arg(id.String()))
		}
		sb.WriteString(")")

		if _, err := s.q.Exec(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

// CreateTurningPoint implements Storage
func (s *sqlRepo) CreateTurningPoint(ctx context.Context, tp domain.TurningPoint) error {
	var triggering any
	if tp.TriggeringEventID != nil {
		triggering = tp.TriggeringEventID.String()
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO turning_points
			(id, project_id, issue_id, triggering_event_id, timestamp, kind, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tp.ID.String(), tp.ProjectID.String(), tp.IssueID.String(),
		triggering, tp.Timestamp.UnixNano(), int(tp.Kind), tp.Metadata)
	return err
}

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

