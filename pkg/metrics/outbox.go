package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxOutcomePublished = "published"
	OutboxOutcomeRetry     = "retry"
	OutboxOutcomeParked    = "parked"
)

// OutboxMetrics counts outbox rows by publish outcome.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"type", "outcome"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events}
}

func (o *OutboxMetrics) Inc(eventType, outcome string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
