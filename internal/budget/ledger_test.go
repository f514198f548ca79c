package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majlabs/docflow/internal/config"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLite(filepath.Join(t.TempDir(), "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() }) //nolint:errcheck
	return ledger
}

func TestSQLiteLedger_ChargeAccumulates(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	spent, err := ledger.Spent(ctx)
	require.NoError(t, err)
	assert.Zero(t, spent)

	require.NoError(t, ledger.Charge(ctx, 1200))
	require.NoError(t, ledger.Charge(ctx, 800))

	spent, err = ledger.Spent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), spent)
}

func TestSQLiteLedger_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.db")
	ctx := context.Background()

	ledger, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, ledger.Charge(ctx, 5000))
	require.NoError(t, ledger.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck

	spent, err := reopened.Spent(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), spent)
}

func TestSQLiteLedger_DayRollover(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	yesterday := time.Date(2026, 8, 23, 23, 0, 0, 0, time.UTC)
	today := time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)

	ledger.now = func() time.Time { return yesterday }
	require.NoError(t, ledger.Charge(ctx, 9999))

	ledger.now = func() time.Time { return today }
	spent, err := ledger.Spent(ctx)
	require.NoError(t, err)
	assert.Zero(t, spent, "new day starts with a fresh budget")
}

func TestGuard_Reserve(t *testing.T) {
	ledger := newTestLedger(t)
	guard := NewGuard(ledger, 10_000)
	ctx := context.Background()

	require.NoError(t, guard.Reserve(ctx, 4000))
	require.NoError(t, guard.Charge(ctx, 4000))

	require.NoError(t, guard.Reserve(ctx, 6000))
	require.NoError(t, guard.Charge(ctx, 6000))

	err := guard.Reserve(ctx, 1)
	assert.ErrorIs(t, err, ErrExhausted)

	remaining, err := guard.Remaining(ctx)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestOpen_ReturnsGuardEnforcingConfiguredLimit(t *testing.T) {
	ctx := context.Background()
	guard, err := Open(ctx, config.BudgetConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "budget.db"),
		DailyTokens: 5000,
	})
	require.NoError(t, err)
	defer guard.Close() //nolint:errcheck

	require.NoError(t, guard.Reserve(ctx, 5000))
	assert.ErrorIs(t, guard.Reserve(ctx, 5001), ErrExhausted)

	require.NoError(t, guard.Charge(ctx, 5000))
	assert.ErrorIs(t, guard.Reserve(ctx, 1), ErrExhausted)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.BudgetConfig{Driver: "oracle"})
	require.Error(t, err)
}
