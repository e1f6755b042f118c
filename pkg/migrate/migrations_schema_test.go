package migrate_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no migration matching %s", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestTransactionsMigrationEnforcesSingleCompletion(t *testing.T) {
	content := readMigration(t, "create_transactions")
	for _, sub := range []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_listing_completed ON transactions (listing_id)\n    WHERE status = 'completed'",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_listing_buyer_pending",
		"DROP TABLE IF EXISTS transactions",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestListingsMigrationTiesStatusToActiveFlag(t *testing.T) {
	content := readMigration(t, "create_listings")
	assert.Contains(t, content, "CONSTRAINT ck_listings_active_status CHECK (status = 'listed' OR is_active = false)")
	assert.Contains(t, content, "ux_listings_source_listed")
}

func TestLedgerMigrationUniqueness(t *testing.T) {
	content := readMigration(t, "create_payouts_and_credits_ledger")
	assert.Contains(t, content, "CONSTRAINT ux_payouts_listing_id UNIQUE (listing_id)")
	assert.Contains(t, content, "CONSTRAINT ux_credits_ledger_payment_intent UNIQUE (payment_intent)")
}
