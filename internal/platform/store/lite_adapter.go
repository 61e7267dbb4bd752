package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bugsink/internal/platform/store/lite"
)

// liteAdapter wraps lite.Lite and implements RowQuerier + TxRunner.
// Reads go to the read pool; writes and Immediate transactions go to the
// single-connection write pool so only one writer is ever in flight.
type liteAdapter struct {
	l *lite.Lite
}

func newLiteAdapter(l *lite.Lite) *liteAdapter { return &liteAdapter{l: l} }

func (a *liteAdapter) Ping(ctx context.Context) error {
	if a == nil {
		return errors.New("sqlite: nil adapter")
	}
	var one int
	return a.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (a *liteAdapter) Close() error { return a.l.Close() }

func (a *liteAdapter) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	start := time.Now()
	var res sql.Result
	err := lite.RetryBusy(ctx, func() error {
		var e error
		res, e = a.l.Write.ExecContext(ctx, q, args...)
		return e
	})
	a.emit(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return sqlTag{res}, nil
}

func (a *liteAdapter) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	start := time.Now()
	rs, err := a.l.Read.QueryContext(ctx, q, args...)
	a.emit(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return sqlRows{r: rs}, nil
}

func (a *liteAdapter) QueryRow(ctx context.Context, q string, args ...any) Row {
	start := time.Now()
	r := a.l.Read.QueryRowContext(ctx, q, args...)
	return sqlRow{
		r: r,
		after: func(scanErr error) {
			a.emit(ctx, q, args, start, scanErr)
		},
	}
}

// Tx runs a deferred transaction on the read pool; use it for multi-statement
// reads that need a consistent snapshot
func (a *liteAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) error {
	tx, err := a.l.Read.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	q := sqlTxQuerier{
		tx:     tx,
		tracer: a.l.Tracer,
		slowUS: int64(a.l.SlowMs) * 1000,
	}
	if err := fn(q); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Immediate runs fn on the write pool. The pool's dsn carries
// _txlock=immediate, so BeginTx takes the sqlite write lock before the first
// statement and conflicts surface as a retryable busy on begin.
func (a *liteAdapter) Immediate(ctx context.Context, fn func(q RowQuerier, lease Exclusive) error) error {
	var tx *sql.Tx
	if err := lite.RetryBusy(ctx, func() error {
		var e error
		tx, e = a.l.Write.BeginTx(ctx, nil)
		return e
	}); err != nil {
		return err
	}
	q := sqlTxQuerier{
		tx:     tx,
		tracer: a.l.Tracer,
		slowUS: int64(a.l.SlowMs) * 1000,
	}
	if err := fn(q, exclusive{}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// emit sends a query event to the configured tracer
func (a *liteAdapter) emit(ctx context.Context, q string, args []any, start time.Time, err error) {
	if a == nil || a.l == nil || a.l.Tracer == nil {
		return
	}
	elapsedUS := time.Since(start).Microseconds()
	slow := a.l.SlowMs >= 0 && elapsedUS >= int64(a.l.SlowMs)*1000
	a.l.Tracer.OnQuery(ctx, lite.QueryEvent{
		SQL:       q,
		Args:      args,
		ElapsedUS: elapsedUS,
		Err:       err,
		Slow:      slow,
	})
}

// adapters for database/sql to our tiny Row/Rows/CommandTag

type sqlRow struct {
	r     *sql.Row
	after func(error)
}

func (x sqlRow) Scan(dst ...any) error {
	err := x.r.Scan(dst...)
	if x.after != nil {
		x.after(err)
	}
	return err
}

type sqlRows struct{ r *sql.Rows }

func (x sqlRows) Next() bool            { return x.r.Next() }
func (x sqlRows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x sqlRows) Err() error            { return x.r.Err() }
func (x sqlRows) Close()                { _ = x.r.Close() }
func (x sqlRows) Columns() []string {
	cols, err := x.r.Columns()
	if err != nil {
		return nil
	}
	return cols
}

// sqlTag wraps sql.Result so we satisfy our CommandTag interface
type sqlTag struct{ res sql.Result }

func (t sqlTag) RowsAffected() int64 {
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func (t sqlTag) String() string { return fmt.Sprintf("AFFECTED %d", t.RowsAffected()) }

// sqlTxQuerier uses *sql.Tx to satisfy RowQuerier inside a transaction
// it mirrors liteAdapter emit behavior so queries inside transactions are also traced
type sqlTxQuerier struct {
	tx     *sql.Tx
	tracer lite.QueryTracer
	slowUS int64
}

func (t sqlTxQuerier) Exec(ctx context.Context, q string, args ...any) (CommandTag, error) {
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, q, args...)
	t.emit(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return sqlTag{res}, nil
}

func (t sqlTxQuerier) Query(ctx context.Context, q string, args ...any) (Rows, error) {
	start := time.Now()
	rs, err := t.tx.QueryContext(ctx, q, args...)
	t.emit(ctx, q, args, start, err)
	if err != nil {
		return nil, err
	}
	return sqlRows{r: rs}, nil
}

func (t sqlTxQuerier) QueryRow(ctx context.Context, q string, args ...any) Row {
	start := time.Now()
	r := t.tx.QueryRowContext(ctx, q, args...)
	return sqlRow{
		r: r,
		after: func(scanErr error) {
			t.emit(ctx, q, args, start, scanErr)
		},
	}
}

func (t sqlTxQuerier) emit(ctx context.Context, q string, args []any, start time.Time, err error) {
	if t.tracer == nil {
		return
	}
	elapsedUS := time.Since(start).Microseconds()
	slow := t.slowUS >= 0 && elapsedUS >= t.slowUS
	t.tracer.OnQuery(ctx, lite.QueryEvent{
		SQL:       q,
		Args:      args,
		ElapsedUS: elapsedUS,
		Err:       err,
		Slow:      slow,
	})
}
