package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/platform/apperr"
)

const hooksKey contextKey = "db_tx_hooks"

// Postgres error codes the billing repositories react to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
)

// Querier is the subset of pgx shared by pools, pooled connections and
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// QuerierFrom picks the narrowest handle available: the open transaction,
// then the tenant connection, then the pool.
func QuerierFrom(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// TxFromContext retrieves the open transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection in ctx and returns a
// context carrying it. The caller owns commit and rollback.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Transactor runs fn inside a single database transaction. Nested calls join
// the outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolTransactor is the pgx backed Transactor. The outermost call retries fn
// when it fails with apperr.ErrConcurrentModification.
type PoolTransactor struct {
	pool       *pgxpool.Pool
	maxRetries int
	logger     zerolog.Logger

	// OnRetry, when set, is called before each retried attempt.
	OnRetry func()
}

func NewTransactor(pool *pgxpool.Pool, maxRetries int, logger zerolog.Logger) *PoolTransactor {
	return &PoolTransactor{pool: pool, maxRetries: maxRetries, logger: logger}
}

func (t *PoolTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := t.runOnce(ctx, fn)
		if err == nil || apperr.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.maxRetries)), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		t.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transaction")
		if t.OnRetry != nil {
			t.OnRetry()
		}
	})
}

func (t *PoolTransactor) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	switch {
	case ConnFromContext(ctx) != nil:
		tx, err = ConnFromContext(ctx).Begin(ctx)
	case t.pool != nil:
		tx, err = t.pool.Begin(ctx)
	default:
		return errors.New("no database connection in context")
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	hooks := &commitHooks{}
	txCtx := context.WithValue(ctx, DBTxKey, tx)
	txCtx = context.WithValue(txCtx, hooksKey, hooks)

	if err := fn(txCtx); err != nil {
		return ClassifyError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ClassifyError(fmt.Errorf("commit: %w", err))
	}
	hooks.run()
	return nil
}

type commitHooks struct {
	mu  sync.Mutex
	fns []func()
}

func (h *commitHooks) add(fn func()) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *commitHooks) run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// AfterCommit schedules fn to run once the outermost transaction in ctx has
// committed. Hooks of a rolled back transaction are dropped. Without a
// transaction fn runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey).(*commitHooks); ok {
		h.add(fn)
		return
	}
	fn()
}

// WithCommitHooks returns a context that collects AfterCommit hooks and a
// function that fires them. Fake transactors in tests use it to mimic commit.
func WithCommitHooks(ctx context.Context) (context.Context, func()) {
	h := &commitHooks{}
	return context.WithValue(ctx, hooksKey, h), h.run
}

// ClassifyError maps serialization failures and deadlocks onto
// apperr.ErrConcurrentModification and leaves everything else untouched.
func ClassifyError(err error) error {
	if err == nil || errors.Is(err, apperr.ErrConcurrentModification) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case CodeSerializationFailure, CodeDeadlockDetected:
			return fmt.Errorf("%w: %s", apperr.ErrConcurrentModification, pgErr.Message)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != CodeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
