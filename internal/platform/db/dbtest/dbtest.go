// Package dbtest provides an in-process db.Transactor for service tests that
// run against map-backed repositories.
package dbtest

import (
	"context"
	"sync"

	"github.com/medflow/billing/internal/platform/db"
)

type joinedKey struct{}

// Transactor serializes units of work with a mutex, which is what row locks
// give the postgres implementation, and fires AfterCommit hooks when fn
// succeeds. Nested calls join the outer unit.
type Transactor struct {
	mu sync.Mutex

	callsMu sync.Mutex
	calls   int
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(joinedKey{}) != nil {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.callsMu.Lock()
	t.calls++
	t.callsMu.Unlock()

	ctx = context.WithValue(ctx, joinedKey{}, true)
	ctx, commit := db.WithCommitHooks(ctx)
	if err := fn(ctx); err != nil {
		return err
	}
	commit()
	return nil
}

// Calls reports how many outermost units of work ran.
func (t *Transactor) Calls() int {
	t.callsMu.Lock()
	defer t.callsMu.Unlock()
	return t.calls
}
