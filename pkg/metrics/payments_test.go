package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentsMetrics(reg)

	m.IncStepFailure("transfer_asset")
	m.IncStepFailure("transfer_asset")
	m.IncStepFailure("")
	m.IncWebhook("payment_intent.succeeded", WebhookOutcomeQueued)
	m.AddCreditsGranted(200)
	m.AddCreditsGranted(-5)
	m.IncPayoutQueued()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "reconcile_step_failures_total", "step", "transfer_asset")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	got, err = fetchCounterValue(mfs, "reconcile_step_failures_total", "step", "unknown")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = fetchCounterValue(mfs, "stripe_webhook_events_total", "outcome", WebhookOutcomeQueued)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	credits := findMetricFamily(mfs, "credits_granted_total")
	require.NotNil(t, credits)
	assert.Equal(t, 200.0, credits.GetMetric()[0].GetCounter().GetValue())
}

func TestNilPaymentsMetricsIsNoop(t *testing.T) {
	var m *PaymentsMetrics
	m.IncStepFailure("x")
	NewPaymentsMetrics(nil).IncWebhook("x", "y")
}
