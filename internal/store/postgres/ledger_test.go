package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolmarket/internal/ledger"
	"github.com/alanyoungcy/poolmarket/internal/ledger/ledgertest"
)

// TestLedger runs against the database named by POOLMARKET_TEST_POSTGRES_DSN.
// Each subtest truncates the ledger tables.
func TestLedger(t *testing.T) {
	dsn := os.Getenv("POOLMARKET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POOLMARKET_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		_, err := client.Pool().Exec(ctx, `TRUNCATE accounts, events; UPDATE event_seq SET seq = 0`)
		require.NoError(t, err)
		return NewLedger(client.Pool(), 3)
	})
}
