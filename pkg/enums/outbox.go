package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is keyed on.
type OutboxAggregateType string

const (
	AggregateStripeEvent OutboxAggregateType = "stripe_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateStripeEvent,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the routing key for events moving through the outbox.
type OutboxEventType string

const (
	EventMarketplaceSaleSucceeded OutboxEventType = "marketplace_sale_succeeded"
	EventCreditsPurchaseSucceeded OutboxEventType = "credits_purchase_succeeded"
	EventAccountStatusChanged     OutboxEventType = "account_status_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventMarketplaceSaleSucceeded,
	EventCreditsPurchaseSucceeded,
	EventAccountStatusChanged,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
