package errors

// SQLite-specific helpers for classifying errors from the modernc driver.
// The driver surfaces SQLite result codes inside error text, so detection is
// by code/message pattern rather than a structured error type.

import (
	"context"
	stderrs "errors"
	"strings"
)

// SQLite extended result codes we care about, as they appear in driver text.
var sqliteTransientPatterns = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",   // SQLITE_BUSY
	"(6)",   // SQLITE_LOCKED
	"(522)", // SQLITE_IOERR_SHORT_READ
}

var sqliteConstraintPatterns = []string{
	"SQLITE_CONSTRAINT_UNIQUE",
	"SQLITE_CONSTRAINT_PRIMARYKEY",
	"UNIQUE constraint failed",
	"(1555)", // SQLITE_CONSTRAINT_PRIMARYKEY
	"(2067)", // SQLITE_CONSTRAINT_UNIQUE
}

// IsSQLiteBusy reports whether the error is transient lock contention worth
// retrying: BUSY, LOCKED, or the WAL short-read seen under contention.
func IsSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := Root(err).Error()
	for _, p := range sqliteTransientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsSQLiteDuplicateKey reports whether the error is a unique or primary key
// constraint violation.
func IsSQLiteDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := Root(err).Error()
	for _, p := range sqliteConstraintPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// FromSQLite wraps a sqlite error with a mapped ErrorCode and message.
// If err is nil, returns nil
func FromSQLite(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case IsSQLiteDuplicateKey(err):
		return Wrap(err, ErrorCodeDuplicateKey, msg)
	case IsSQLiteBusy(err):
		return Wrap(err, ErrorCodeUnavailable, msg)
	default:
		return Wrap(err, ErrorCodeDB, msg)
	}
}
