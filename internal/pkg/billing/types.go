package billing

import (
	"fmt"
	"time"
)

// Payment provider identifiers.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// EventKind is the canonical, provider-agnostic classification of a billing
// occurrence after normalization.
type EventKind string

const (
	KindMembershipActivated EventKind = "membership_activated"
	KindMembershipUpdated   EventKind = "membership_updated"
	KindMembershipPastDue   EventKind = "membership_past_due"
	KindMembershipCanceled  EventKind = "membership_canceled"
	KindInsuranceActivated  EventKind = "insurance_activated"
	KindInsuranceVoided     EventKind = "insurance_voided"
	KindPaymentFailed       EventKind = "payment_failed"
)

// EntitlementEvent is the canonical event produced by the normalizer and
// consumed by the state machine. It exists only within one request's
// processing.
type EntitlementEvent struct {
	Provider string
	UserID   string
	Kind     EventKind

	// Amount is in major currency units (29.99, not 2999).
	Amount   float64
	Currency string

	SubscriptionID string
	PaymentID      string
	Plan           string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time

	// Reason carries the provider-side cause for failure kinds.
	Reason string
}

// SignatureError indicates an inbound notification that failed provider
// authentication. The request is rejected without any mutation.
type SignatureError struct {
	Provider string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("%s webhook signature verification failed: %s", e.Provider, e.Reason)
}

// UnprocessableEventError marks a recognized event whose payload cannot be
// acted on (typically no resolvable user id). It is acknowledged to stop
// redelivery storms but flagged loudly for operational visibility.
type UnprocessableEventError struct {
	EventType string
	Reason    string
}

func (e *UnprocessableEventError) Error() string {
	return fmt.Sprintf("unprocessable %s event: %s", e.EventType, e.Reason)
}

// ConfigError is a fatal configuration problem (e.g. a missing PayPal webhook
// id), distinct from a forged request. It must surface as a 500, never as a
// silent accept or a 401.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("billing configuration error: %s is not configured", e.Key)
}
