// Package dbtest opens throwaway in-memory SQLite databases carrying the
// marketplace schema, for repository and service tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cardvault/marketplace-backend/pkg/db"
)

// schema mirrors pkg/migrate/migrations in SQLite dialect, keeping the
// partial unique indexes and CHECK constraints the reconciler relies on.
var schema = []string{
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		avatar_url TEXT,
		stripe_account_id TEXT,
		stripe_verified BOOLEAN NOT NULL DEFAULT false,
		credits INTEGER NOT NULL DEFAULT 0,
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME,
		updated_at DATETIME,
		CHECK (credits >= 0)
	)`,
	`CREATE TABLE uploaded_images (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		gcs_key TEXT NOT NULL UNIQUE,
		mime_type TEXT NOT NULL,
		file_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME
	)`,
	`CREATE TABLE assets (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT,
		name TEXT NOT NULL,
		image_url TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_assets_uploaded_image_source ON assets (source_id) WHERE source_type = 'uploaded_image'`,
	`CREATE TABLE listings (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		image_url TEXT,
		price_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		status TEXT NOT NULL DEFAULT 'listed',
		is_active BOOLEAN NOT NULL DEFAULT true,
		buyer_id TEXT,
		sold_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT ck_listings_active_status CHECK (status = 'listed' OR is_active = false)
	)`,
	`CREATE UNIQUE INDEX ux_listings_source_listed ON listings (source_type, source_id) WHERE status = 'listed'`,
	`CREATE TABLE transactions (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		stripe_payment_id TEXT,
		seller_acct TEXT,
		platform_fee_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_transactions_listing_completed ON transactions (listing_id) WHERE status = 'completed'`,
	`CREATE UNIQUE INDEX ux_transactions_listing_buyer_pending ON transactions (listing_id, buyer_id) WHERE status = 'pending'`,
	`CREATE TABLE payouts (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL UNIQUE,
		stripe_account_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		scheduled_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME
	)`,
	`CREATE TABLE credits_ledger (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payment_intent TEXT NOT NULL UNIQUE,
		amount_cents INTEGER NOT NULL,
		credits INTEGER NOT NULL,
		reason TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX ux_outbox_events_aggregate_event ON outbox_events (aggregate_type, aggregate_id, event_type)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a client over a fresh, isolated in-memory database.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return db.NewWithConn(conn)
}
