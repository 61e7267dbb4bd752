// Package lite provides an embedded sqlite client with optional query tracing.
//
// Two pools are opened over the same file: a read pool in WAL mode, and a
// write pool capped at a single connection whose transactions take the write
// lock up front (_txlock=immediate). The single write connection is what
// makes an exclusive write lease enforceable at the process level.
package lite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config configures the sqlite client
type Config struct {
	// Path is the database file; ":memory:" opens a shared in-memory db
	Path          string
	BusyTimeoutMs int
	SlowMs        int
}

// Lite is an embedded sqlite client with split read/write pools
type Lite struct {
	Read   *sql.DB
	Write  *sql.DB
	Tracer QueryTracer
	SlowMs int
}

// Open creates a new Lite client with the given config and optional tracer
func Open(cfg Config, tracer QueryTracer) (*Lite, error) {
	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}

	path := cfg.Path
	if path == ":memory:" {
		// a plain :memory: dsn gives every pooled connection its own
		// empty database; shared cache keeps them on one
		path = "file::memory:?cache=shared"
	}

	pragmas := fmt.Sprintf("_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", busy)

	read, err := sql.Open("sqlite", dsn(path, pragmas))
	if err != nil {
		return nil, fmt.Errorf("lite: open read pool: %w", err)
	}
	read.SetMaxOpenConns(4)
	read.SetMaxIdleConns(2)
	read.SetConnMaxLifetime(30 * time.Minute)

	write, err := sql.Open("sqlite", dsn(path, pragmas+"&_txlock=immediate"))
	if err != nil {
		read.Close()
		return nil, fmt.Errorf("lite: open write pool: %w", err)
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	return &Lite{
		Read:   read,
		Write:  write,
		Tracer: tracer,
		SlowMs: cfg.SlowMs,
	}, nil
}

func dsn(path, params string) string {
	sep := "?"
	for _, r := range path {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return path + sep + params
}

// Close closes both pools
func (l *Lite) Close() error {
	if l == nil {
		return nil
	}
	var first error
	if l.Write != nil {
		if err := l.Write.Close(); err != nil {
			first = err
		}
	}
	if l.Read != nil {
		if err := l.Read.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
