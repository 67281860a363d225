package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
)

// TxRunner runs closures inside a single transaction at a fixed isolation
// level, rerunning the whole closure when the store reports a serialization
// failure. Closures must therefore be free of side effects outside tx.
type TxRunner struct {
	conn        *gorm.DB
	isolation   sql.IsolationLevel
	maxAttempts int
	backoff     time.Duration
}

func NewTxRunner(conn *gorm.DB, isolation sql.IsolationLevel, maxAttempts int, backoff time.Duration) *TxRunner {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &TxRunner{
		conn:        conn,
		isolation:   isolation,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Conn returns the underlying connection for read-only queries.
func (r *TxRunner) Conn(ctx context.Context) *gorm.DB {
	return r.conn.WithContext(ctx)
}

func (r *TxRunner) Run(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if r.isolation != sql.LevelDefault {
		opts = append(opts, &sql.TxOptions{Isolation: r.isolation})
	}
	for attempt := 1; ; attempt++ {
		err := r.conn.WithContext(ctx).Transaction(fn, opts...)
		if err == nil {
			return nil
		}
		if apperr.Kind(err) == nil && (isContextError(err) || ctx.Err() != nil) {
			return fmt.Errorf("%w: %w", apperr.ErrConflict, contextCause(ctx, err))
		}
		if !IsSerializationFailure(err) {
			return err
		}
		if attempt >= r.maxAttempts {
			return fmt.Errorf("%w: gave up after %d attempts: %v", apperr.ErrConflict, attempt, err)
		}
		if r.backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt) * r.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %w", apperr.ErrConflict, ctx.Err())
			case <-timer.C:
			}
		}
	}
}

// IsSerializationFailure reports whether err means the transaction lost a
// race and may succeed if rerun.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
