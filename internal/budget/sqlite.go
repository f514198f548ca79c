package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteLedger persists daily token usage in a SQLite database, typically
// on the shared volume so all instances charge the same budget.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (and migrates) a SQLite ledger at the given path.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "budget: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "budget: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS token_usage (
	day        TEXT PRIMARY KEY,
	tokens     INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);`
	if _, err := db.Exec(migration); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "budget: migrate sqlite")
	}

	return &SQLiteLedger{db: db, now: time.Now}, nil
}

func (l *SQLiteLedger) Spent(ctx context.Context) (int64, error) {
	var tokens int64
	err := l.db.QueryRowContext(ctx,
		`SELECT tokens FROM token_usage WHERE day = ?`, day(l.now()),
	).Scan(&tokens)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "budget: query spend")
	}
	return tokens, nil
}

func (l *SQLiteLedger) Charge(ctx context.Context, tokens int64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO token_usage (day, tokens, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(day) DO UPDATE SET tokens = tokens + excluded.tokens, updated_at = datetime('now')`,
		day(l.now()), tokens,
	)
	return eris.Wrap(err, "budget: charge")
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
