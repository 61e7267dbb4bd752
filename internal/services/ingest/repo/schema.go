// Package repo owns the digestion store schema
package repo

import (
	"context"

	"bugsink/internal/modkit/repokit"
)

// Migrate creates the digestion tables when they do not exist yet. The
// DDL is written for the embedded sqlite backend; timestamps are stored
// as unix nanoseconds, uuids as text, booleans as 0/1 integers.
func Migrate(ctx context.Context, db repokit.TxRunner) error {
	return repokit.WithWrite(ctx, db, func(q repokit.Queryer, _ repokit.Exclusive) error {
		_, err := q.Exec(ctx, schema)
		return err
	})
}

const schema = `
	CREATE TABLE IF NOT EXISTS projects (
		id                        TEXT PRIMARY KEY,
		name                      TEXT NOT NULL,
		public_key                TEXT NOT NULL DEFAULT '',
		retention_max_event_count INTEGER NOT NULL,
		stored_event_count        INTEGER NOT NULL DEFAULT 0,
		digested_event_count      INTEGER NOT NULL DEFAULT 0,
		next_quota_check          INTEGER NOT NULL DEFAULT 0,
		quota_exceeded_until      INTEGER
	);

	CREATE TABLE IF NOT EXISTS issues (
		id                                TEXT PRIMARY KEY,
		project_id                        TEXT NOT NULL REFERENCES projects(id),
		digest_order                      INTEGER NOT NULL,
		first_seen                        INTEGER NOT NULL,
		last_seen                         INTEGER NOT NULL,
		digested_event_count              INTEGER NOT NULL DEFAULT 0,
		stored_event_count                INTEGER NOT NULL DEFAULT 0,
		is_resolved                       INTEGER NOT NULL DEFAULT 0,
		is_muted                          INTEGER NOT NULL DEFAULT 0,
		unmute_on_volume_based_conditions TEXT NOT NULL DEFAULT '[]',
		unmute_after                      INTEGER,
		next_unmute_check                 INTEGER NOT NULL DEFAULT 0,
		UNIQUE (project_id, digest_order)
	);

	CREATE TABLE IF NOT EXISTS groupings (
		id                TEXT PRIMARY KEY,
		project_id        TEXT NOT NULL REFERENCES projects(id),
		issue_id          TEXT NOT NULL REFERENCES issues(id),
		grouping_key      TEXT NOT NULL,
		grouping_key_hash TEXT NOT NULL,
		UNIQUE (project_id, grouping_key_hash)
	);

	CREATE TABLE IF NOT EXISTS events (
		id                        TEXT PRIMARY KEY,
		event_id                  TEXT NOT NULL,
		project_id                TEXT NOT NULL REFERENCES projects(id),
		issue_id                  TEXT NOT NULL REFERENCES issues(id),
		ingested_at               INTEGER NOT NULL,
		digested_at               INTEGER NOT NULL,
		server_side_timestamp     INTEGER NOT NULL,
		digest_order              INTEGER NOT NULL,
		project_digest_order      INTEGER NOT NULL,
		irrelevance_for_retention INTEGER NOT NULL DEFAULT 0,
		never_evict               INTEGER NOT NULL DEFAULT 0,
		storage_backend           TEXT,
		calculated_type           TEXT NOT NULL DEFAULT '',
		calculated_value          TEXT NOT NULL DEFAULT '',
		data                      TEXT NOT NULL,
		UNIQUE (project_id, event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_events_digested
		ON events(project_id, digested_at);
	CREATE INDEX IF NOT EXISTS idx_events_irrelevance
		ON events(project_id, irrelevance_for_retention);
	CREATE INDEX IF NOT EXISTS idx_events_issue_order
		ON events(issue_id, digest_order);

	CREATE TABLE IF NOT EXISTS turning_points (
		id                  TEXT PRIMARY KEY,
		project_id          TEXT NOT NULL REFERENCES projects(id),
		issue_id            TEXT NOT NULL REFERENCES issues(id),
		triggering_event_id TEXT REFERENCES events(id),
		timestamp           INTEGER NOT NULL,
		kind                INTEGER NOT NULL,
		metadata            TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_turning_points_issue
		ON turning_points(issue_id, timestamp);

	CREATE TABLE IF NOT EXISTS event_tags (
		event_id TEXT NOT NULL REFERENCES events(id),
		key      TEXT NOT NULL,
		value    TEXT NOT NULL,
		PRIMARY KEY (event_id, key)
	);

	CREATE TABLE IF NOT EXISTS storage_cleanup_todos (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id        TEXT NOT NULL,
		storage_backend TEXT NOT NULL
	);
`
