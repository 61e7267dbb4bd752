package service

import (
	"context"
	"time"

	"bugsink/internal/modkit/repokit"
)

// phase wraps a Queryer to count queries and wall time for one stage of an
// eviction pass, mirroring the two-phase breakdown in the eviction log.
type phase struct {
	q       repokit.Queryer
	started time.Time
	took    time.Duration
	queries int
}

func newPhase(q repokit.Queryer) *phase {
	return &phase{q: q, started: time.Now()}
}

func (p *phase) stop() { p.took = time.Since(p.started) }

// Exec implements repokit.Queryer
func (p *phase) Exec(ctx context.Context, sql string, args ...any) (repokit.CommandTag, error) {
	p.queries++
	return p.q.Exec(ctx, sql, args...)
}

// Query implements repokit.Queryer
func (p *phase) Query(ctx context.Context, sql string, args ...any) (repokit.Rows, error) {
	p.queries++
	return p.q.Query(ctx, sql, args...)
}

// QueryRow implements repokit.Queryer
func (p *phase) QueryRow(ctx context.Context, sql string, args ...any) repokit.Row {
	p.queries++
	return p.q.QueryRow(ctx, sql, args...)
}
