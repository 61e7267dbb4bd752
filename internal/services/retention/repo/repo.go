// Package repo provides the retention repository implementation.
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/modkit/repokit"
	"bugsink/internal/platform/store"
	"bugsink/internal/services/retention/domain"
)

type (
	sqlRepo struct{ q repokit.Queryer }
	binder  struct{}
)

// New constructs a new repo binder
func New() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &sqlRepo{q: q} }

// Selection filters the evictable events of a project. Irrelevance and the
// epoch bound are both exclusive: only events with a strictly greater item
// irrelevance, digested strictly before the bound, qualify.
type Selection struct {
	ProjectID         uuid.UUID
	MaxIrrelevance    int
	Before            *time.Time // digested_at upper bound, nil for none
	IncludeNeverEvict bool
}

// Storage defines the retention repository
type Storage interface {
	// OldestDigestedAt returns the digested_at of the oldest evictable
	// event of the project, nil when there is none.
	OldestDigestedAt(ctx context.Context, projectID uuid.UUID, includeNeverEvict bool) (*time.Time, error)
	// MaxItemIrrelevance returns the highest irrelevance_for_retention of
	// qualifying events inside the given epoch bounds, 0 for an empty
	// window.
	MaxItemIrrelevance(
		ctx context.Context, projectID uuid.UUID, lb, ub *domain.Epoch, includeNeverEvict bool,
	) (int, error)
	// SelectVictims materializes up to limit evictable events, ordered by
	// digest_order. Materializing before deleting keeps the delete and the
	// cleanup bookkeeping consistent on exactly the same row set.
	SelectVictims(ctx context.Context, sel Selection, limit int) ([]domain.Victim, error)
	// ClearTriggeringEventRefs nulls turning-point references into the
	// selection (unbounded, not limited) so the rows can be deleted.
	ClearTriggeringEventRefs(ctx context.Context, sel Selection) error
	InsertCleanupTodos(ctx context.Context, victims []domain.Victim) error
	DeleteTags(ctx context.Context, ids []uuid.UUID) error
	Delete(ctx context.Context, ids []uuid.UUID) (int, error)

	ListCleanupTodos(ctx context.Context, limit int) ([]domain.CleanupTodo, error)
	DeleteCleanupTodo(ctx context.Context, id int64) error
}

// OldestDigestedAt implements Storage
func (s *sqlRepo) OldestDigestedAt(
	ctx context.Context, projectID uuid.UUID, includeNeverEvict bool,
) (*time.Time, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`SELECT MIN(digested_at) FROM events WHERE project_id = ` + arg(projectID.String()))
	if !includeNeverEvict {
		sb.WriteString(" AND never_evict = 0")
	}

	var ns *int64
	if err := s.q.QueryRow(ctx, sb.String(), args...).Scan(&ns); err != nil {
		return nil, err
	}
	if ns == nil {
		return nil, nil
	}
	t := time.Unix(0, *ns).UTC()
	return &t, nil
}

// MaxItemIrrelevance implements Storage
func (s *sqlRepo) MaxItemIrrelevance(
	ctx context.Context, projectID uuid.UUID, lb, ub *domain.Epoch, includeNeverEvict bool,
) (int, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`SELECT COALESCE(MAX(irrelevance_for_retention), 0) FROM events WHERE project_id = ` +
		arg(projectID.String()))
	if !includeNeverEvict {
		sb.WriteString(" AND never_evict = 0")
	}
	if lb != nil {
		sb.WriteString(" AND digested_at >= " + arg(domain.TimeOf(*lb).UnixNano()))
	}
	if ub != nil {
		sb.WriteString(" AND digested_at < " + arg(domain.TimeOf(*ub).UnixNano()))
	}

	var highest int
	err := s.q.QueryRow(ctx, sb.String(), args...).Scan(&highest)
	return highest, err
}

// victimWhere appends the shared WHERE clause of a Selection.
func victimWhere(sb *strings.Builder, arg func(any) string, sel Selection) {
	sb.WriteString("project_id = " + arg(sel.ProjectID.String()))
	sb.WriteString(" AND irrelevance_for_retention > " + arg(sel.MaxIrrelevance))
	if !sel.IncludeNeverEvict {
		sb.WriteString(" AND never_evict = 0")
	}
	if sel.Before != nil {
		sb.WriteString(" AND digested_at < " + arg(sel.Before.UnixNano()))
	}
}

// SelectVictims implements Storage
func (s *sqlRepo) SelectVictims(
	ctx context.Context, sel Selection, limit int,
) ([]domain.Victim, error) {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`SELECT id, issue_id, storage_backend FROM events WHERE `)
	victimWhere(&sb, arg, sel)
	sb.WriteString(" ORDER BY digest_order LIMIT " + arg(limit))

	rows, err := s.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Victim
	for rows.Next() {
		var (
			v                 domain.Victim
			rawID, rawIssueID string
		)
		if err := rows.Scan(&rawID, &rawIssueID, &v.StorageBackend); err != nil {
			return nil, err
		}
		if v.ID, err = uuid.Parse(rawID); err != nil {
			return nil, err
		}
		if v.IssueID, err = uuid.Parse(rawIssueID); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ClearTriggeringEventRefs implements Storage
func (s *sqlRepo) ClearTriggeringEventRefs(ctx context.Context, sel Selection) error {
	var sb strings.Builder
	var args []any
	arg := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	sb.WriteString(`UPDATE turning_points SET triggering_event_id = NULL
		WHERE triggering_event_id IN (SELECT id FROM events WHERE `)
	victimWhere(&sb, arg, sel)
	sb.WriteString(")")

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// InsertCleanupTodos implements Storage. Victims without a storage backend
// have nothing outside the database and are skipped.
func (s *sqlRepo) InsertCleanupTodos(ctx context.Context, victims []domain.Victim) error {
	var sb strings.Builder
	var args []any

	n := 0
	for _, v := range victims {
		if v.StorageBackend == nil {
			continue
		}
		if n == 0 {
			sb.WriteString(`INSERT INTO storage_cleanup_todos (event_id, storage_backend) VALUES `)
		} else {
			sb.WriteByte(',')
		}
		base := n*2 + 1
		fmt.Fprintf(&sb, "($%d,$%d)", base, base+1)
		args = append(args, v.ID.String(), *v.StorageBackend)
		n++
	}
	if n == 0 {
		return nil
	}
	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

// DeleteTags implements Storage
func (s *sqlRepo) DeleteTags(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args := inClause(`DELETE FROM event_tags WHERE event_id IN (`, ids)
	_, err := s.q.Exec(ctx, sql, args...)
	return err
}

// Delete implements Storage
func (s *sqlRepo) Delete(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql, args := inClause(`DELETE FROM events WHERE id IN (`, ids)
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListCleanupTodos implements Storage
func (s *sqlRepo) ListCleanupTodos(ctx context.Context, limit int) ([]domain.CleanupTodo, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, event_id, storage_backend FROM storage_cleanup_todos
		ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CleanupTodo
	for rows.Next() {
		var (
			todo     domain.CleanupTodo
			rawEvent string
		)
		if err := rows.Scan(&todo.ID, &rawEvent, &todo.StorageBackend); err != nil {
			return nil, err
		}
		if todo.EventID, err = uuid.Parse(rawEvent); err != nil {
			return nil, err
		}
		out = append(out, todo)
	}
	return out, rows.Err()
}

// DeleteCleanupTodo implements Storage
func (s *sqlRepo) DeleteCleanupTodo(ctx context.Context, id int64) error {
	return store.ExecOne(ctx, s.q, `DELETE FROM storage_cleanup_todos WHERE id = $1`, id)
}

func inClause(prefix string, ids []uuid.UUID) (string, []any) {
	var sb strings.Builder
	sb.WriteString(prefix)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "$%d", i+1)
		args = append(args, id.String())
	}
	sb.WriteString(")")
	return sb.String(), args
}
