package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDumpExtractsPgconnFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payouts_listing_id", TableName: "payouts", Message: "duplicate key"}
	err := Wrap(CodeConflict, fmt.Errorf("insert payout: %w", pgErr), "payout exists")

	d := Dump(err)
	assert.Equal(t, CodeConflict, d.Code)
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "ux_payouts_listing_id", d.PGConstraint)
	assert.Equal(t, "payouts", d.PGTable)
	assert.Len(t, d.Chain, 3)
}

func TestDumpExtractsPqFields(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &pq.Error{Code: "23505", Constraint: "ux_credits_ledger_payment_intent", Table: "credits_ledger"})

	d := Dump(err)
	assert.Equal(t, "23505", d.PGCode)
	assert.Equal(t, "ux_credits_ledger_payment_intent", d.PGConstraint)
	assert.Empty(t, d.Code)
}

func TestDumpNil(t *testing.T) {
	assert.Equal(t, ErrorDump{}, Dump(nil))
}
