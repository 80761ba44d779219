package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gitshopapp/commerce/internal/ledger"
)

// beginError marks a failure to open a transaction; nothing has run yet.
type beginError struct {
	err error
}

func (e *beginError) Error() string { return "begin tx: " + e.err.Error() }

func (e *beginError) Unwrap() error { return e.err }

// commitError wraps a failed commit. Only server-reported errors stay
// retryable; the server rolled those back.
func commitError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("commit tx: %w", mapError(err))
	}
	return fmt.Errorf("commit tx, outcome unknown: %w", mapError(err))
}

// isRetryable reports whether a transaction can safely run again. Connection
// errors only qualify before the transaction was opened.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	var begin *beginError
	return errors.As(err, &begin) && isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// mapError translates driver errors into ledger sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ledger.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
