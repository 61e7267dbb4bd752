// Package repokit provides common types and helpers for repository implementations
package repokit

import (
	"context"

	"bugsink/internal/platform/store"
)

// Queryer is the minimal read and write surface for SQL repos
type Queryer = store.RowQuerier

// RowQuerier is kept for compatibility with existing callers
type RowQuerier = store.RowQuerier

// TxRunner can execute a function inside a transaction
type TxRunner = store.TxRunner

// Exclusive is the write lease handed out by TxRunner.Immediate; repos that
// mutate retention state take one so the single-writer rule is checked at
// compile time
type Exclusive = store.Exclusive

type (
	// Rows are the result set of a query
	Rows = store.Rows

	// Row is a single row result from a query
	Row = store.Row

	// CommandTag is the result of a command that modifies data
	CommandTag = store.CommandTag
)

// WithTx runs fn inside a transaction using the provided TxRunner
func WithTx(ctx context.Context, tx TxRunner, fn func(q Queryer) error) error {
	return tx.Tx(ctx, fn)
}

// WithWrite runs fn inside an Immediate transaction, handing it the lease
func WithWrite(ctx context.Context, tx TxRunner, fn func(q Queryer, lease Exclusive) error) error {
	return tx.Immediate(ctx, fn)
}

// DB exposes a RowQuerier without importing a driver
func DB(_ context.Context, q store.RowQuerier) store.RowQuerier { return q }

// TX exposes a TxRunner without importing a driver
func TX(_ context.Context, tx store.TxRunner) store.TxRunner { return tx }
