package metrics

import "github.com/prometheus/client_golang/prometheus"

// Webhook intake outcomes.
const (
	WebhookOutcomeQueued    = "queued"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeSkipped   = "skipped"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeFailed    = "failed"
)

// PaymentsMetrics covers webhook intake and reconciliation.
type PaymentsMetrics struct {
	webhookEvents  *prometheus.CounterVec
	stepFailures   *prometheus.CounterVec
	creditsGranted prometheus.Counter
	payoutsQueued  prometheus.Counter
}

func NewPaymentsMetrics(reg prometheus.Registerer) *PaymentsMetrics {
	if reg == nil {
		return &PaymentsMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stripe_webhook_events_total",
		Help: "Stripe webhook deliveries by event type and intake outcome.",
	}, []string{"type", "outcome"})
	stepFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_step_failures_total",
		Help: "Failed reconciliation steps by step name.",
	}, []string{"step"})
	creditsGranted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_granted_total",
		Help: "Credits added to profile balances.",
	})
	payoutsQueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payouts_queued_total",
		Help: "Seller payouts inserted into the payout queue.",
	})
	reg.MustRegister(webhookEvents, stepFailures, creditsGranted, payoutsQueued)
	return &PaymentsMetrics{
		webhookEvents:  webhookEvents,
		stepFailures:   stepFailures,
		creditsGranted: creditsGranted,
		payoutsQueued:  payoutsQueued,
	}
}

func (p *PaymentsMetrics) IncWebhook(eventType, outcome string) {
	if p == nil || p.webhookEvents == nil {
		return
	}
	p.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (p *PaymentsMetrics) IncStepFailure(step string) {
	if p == nil || p.stepFailures == nil {
		return
	}
	p.stepFailures.WithLabelValues(normalizeLabel(step)).Inc()
}

func (p *PaymentsMetrics) AddCreditsGranted(credits int64) {
	if p == nil || p.creditsGranted == nil || credits <= 0 {
		return
	}
	p.creditsGranted.Add(float64(credits))
}

func (p *PaymentsMetrics) IncPayoutQueued() {
	if p == nil || p.payoutsQueued == nil {
		return
	}
	p.payoutsQueued.Inc()
}
