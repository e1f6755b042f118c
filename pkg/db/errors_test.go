package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolationPostgresDrivers(t *testing.T) {
	pgErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_payouts_listing_id"})
	assert.True(t, IsUniqueViolation(pgErr, ""))
	assert.True(t, IsUniqueViolation(pgErr, "ux_payouts_listing_id"))
	assert.False(t, IsUniqueViolation(pgErr, "ux_credits_ledger_payment_intent"))

	fkErr := &pgconn.PgError{Code: "23503"}
	assert.False(t, IsUniqueViolation(fkErr, ""))

	pqErr := &pq.Error{Code: "23505", Constraint: "ux_credits_ledger_payment_intent"}
	assert.True(t, IsUniqueViolation(pqErr, "ux_credits_ledger_payment_intent"))
}

func TestIsUniqueViolationMessageFallback(t *testing.T) {
	err := fmt.Errorf(`ERROR: duplicate key value violates unique constraint "ux_payouts_listing_id"`)
	assert.True(t, IsUniqueViolation(err, "ux_payouts_listing_id"))
	assert.False(t, IsUniqueViolation(err, "other"))
}
