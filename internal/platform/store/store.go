// Package store provides a unified interface to the relational backends
package store

import (
	"context"
	"errors"
	"fmt"

	"bugsink/internal/platform/logger"
)

// Store is the facade over the configured database backend
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients
	// zero means a no op zerolog logger
	Log logger.Logger

	// DB is the sql seam for the active driver, nil when disabled
	DB TxRunner
}

// Row exposes the minimal scan contract a single row needs
type Row interface {
	Scan(dest ...any) error
}

// Rows exposes the minimal iteration and scan for a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// CommandTag is a tiny interface to inspect command results
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface repos use for sql
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Exclusive witnesses that the caller holds the process-wide write lease.
// Values are only handed out inside TxRunner.Immediate, so any function
// that takes an Exclusive can rely on being the sole writer for the
// duration of the transaction.
type Exclusive interface {
	exclusiveWrite()
}

// exclusive is the only implementation of Exclusive; the unexported
// method keeps other packages from minting their own lease.
type exclusive struct{}

func (exclusive) exclusiveWrite() {}

// TxRunner wraps transaction execution around a function
type TxRunner interface {
	RowQuerier

	// Tx runs fn inside an ordinary (deferred) transaction
	Tx(ctx context.Context, fn func(q RowQuerier) error) error

	// Immediate runs fn inside a write transaction that takes the write
	// lock up front. On sqlite this is BEGIN IMMEDIATE; on postgres a
	// transaction-scoped advisory lock. fn receives the Exclusive lease.
	Immediate(ctx context.Context, fn func(q RowQuerier, lease Exclusive) error) error
}

// Pinger is any seam that can report readiness
type Pinger interface{ Ping(context.Context) error }

// Open constructs a Store for the configured driver
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	// defaults for zero logger to avoid nil checks
	s.Log = s.Log.With().Logger()

	switch cfg.Driver {
	case DriverSQLite:
		db, err := openLite(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.DB = db
	case DriverPostgres:
		db, err := openPG(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		s.DB = db
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}

	return s, nil
}

// Guard verifies the configured seam is reachable
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	if s.DB == nil {
		return nil
	}
	if p, ok := any(s.DB).(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}
	return nil
}

// Close closes the initialized backend gracefully
// a nil backend is ignored
func (s *Store) Close(ctx context.Context) error {
	if c, ok := s.DB.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
