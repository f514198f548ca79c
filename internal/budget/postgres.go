package budget

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PgxPool is the pool surface the ledger needs; pgxpool.Pool and pgxmock
// both satisfy it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLedger persists daily token usage in Postgres, for deployments
// that already run one next to the delivery target.
type PostgresLedger struct {
	pool PgxPool
	now  func() time.Time
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS token_usage (
	day        TEXT PRIMARY KEY,
	tokens     BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgres connects a pooled ledger and runs its migration.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "budget: connect postgres")
	}
	ledger := NewPostgresWithPool(pool)
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "budget: migrate postgres")
	}
	return ledger, nil
}

// NewPostgresWithPool wraps an existing pool; tests inject pgxmock here.
func NewPostgresWithPool(pool PgxPool) *PostgresLedger {
	return &PostgresLedger{pool: pool, now: time.Now}
}

func (l *PostgresLedger) Spent(ctx context.Context) (int64, error) {
	var tokens int64
	err := l.pool.QueryRow(ctx,
		`SELECT tokens FROM token_usage WHERE day = $1`, day(l.now()),
	).Scan(&tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "budget: query spend")
	}
	return tokens, nil
}

func (l *PostgresLedger) Charge(ctx context.Context, tokens int64) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO token_usage (day, tokens, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (day) DO UPDATE SET tokens = token_usage.tokens + EXCLUDED.tokens, updated_at = now()`,
		day(l.now()), tokens,
	)
	return eris.Wrap(err, "budget: charge")
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
