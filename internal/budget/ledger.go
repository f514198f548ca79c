// Package budget tracks external-model token spend against a per-day
// ceiling. The ledger is durable so restarts and parallel instances share
// one budget.
package budget

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/majlabs/docflow/internal/config"
)

// ErrExhausted is returned by Reserve when the day's remaining budget
// cannot cover the requested amount.
var ErrExhausted = errors.New("budget: daily token budget exhausted")

// Ledger is the persistent token accounting interface.
type Ledger interface {
	// Spent returns the tokens charged so far today.
	Spent(ctx context.Context) (int64, error)
	// Charge records actual token usage after a call completes.
	Charge(ctx context.Context, tokens int64) error
	// Close releases the underlying store.
	Close() error
}

// Guard wraps a Ledger with the daily limit and enforces it before calls.
type Guard struct {
	ledger Ledger
	limit  int64
}

// NewGuard creates a Guard enforcing limit tokens per UTC day.
func NewGuard(ledger Ledger, limit int64) *Guard {
	return &Guard{ledger: ledger, limit: limit}
}

// Reserve checks that estimate tokens fit in today's remaining budget.
// It does not hold the tokens; the caller charges actual usage afterwards.
func (g *Guard) Reserve(ctx context.Context, estimate int64) error {
	spent, err := g.ledger.Spent(ctx)
	if err != nil {
		return eris.Wrap(err, "budget: read spend")
	}
	if spent+estimate > g.limit {
		return ErrExhausted
	}
	return nil
}

// Charge records actual usage.
func (g *Guard) Charge(ctx context.Context, tokens int64) error {
	return g.ledger.Charge(ctx, tokens)
}

// Remaining reports today's unspent tokens, floored at zero.
func (g *Guard) Remaining(ctx context.Context) (int64, error) {
	spent, err := g.ledger.Spent(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "budget: read spend")
	}
	if spent >= g.limit {
		return 0, nil
	}
	return g.limit - spent, nil
}

// Close closes the underlying ledger.
func (g *Guard) Close() error {
	return g.ledger.Close()
}

// Open creates the configured ledger backend and wraps it in a Guard.
func Open(ctx context.Context, cfg config.BudgetConfig) (*Guard, error) {
	var (
		ledger Ledger
		err    error
	)
	switch cfg.Driver {
	case "sqlite", "":
		ledger, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		ledger, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("budget: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewGuard(ledger, cfg.DailyTokens), nil
}

// day returns the UTC day key usage is bucketed under.
func day(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
