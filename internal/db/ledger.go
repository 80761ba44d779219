package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gitshopapp/commerce/internal/ledger"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the PostgreSQL ledger.Store.
type Ledger struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

var _ ledger.Store = (*Ledger)(nil)

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{
		pool:        pool,
		retryDelays: []time.Duration{50 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond},
	}
}

// InTx runs fn in a read-committed transaction. Serialization failures and
// deadlocks roll back and re-run fn from the start, as do connection failures
// while opening the transaction. A connection lost during commit is returned
// as is: the commit may have applied.
func (l *Ledger) InTx(ctx context.Context, fn func(q ledger.Queries) error) error {
	return l.withRetry(ctx, func() error {
		tx, err := l.pool.Begin(ctx)
		if err != nil {
			return &beginError{err: err}
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if err := fn(&queries{db: tx}); err != nil {
			return err
		}
		return commitError(tx.Commit(ctx))
	})
}

func (l *Ledger) View(ctx context.Context, fn func(q ledger.Queries) error) error {
	return fn(&queries{db: l.pool})
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *Ledger) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetryable(err) || attempt >= len(l.retryDelays) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelays[attempt]):
		}
	}
}

type queries struct {
	db dbtx
}

var _ ledger.Queries = (*queries)(nil)

func (q *queries) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := q.db.Exec(ctx, sql, args...)
	return tag, mapError(err)
}

// execOne runs a statement that must touch exactly one row.
func (q *queries) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := q.exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
