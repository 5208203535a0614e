package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriptionFetcher struct {
	subs map[string]*StripeSubscription
	err  error
}

func (f *fakeSubscriptionFetcher) GetSubscription(_ context.Context, id string) (*StripeSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

type fakeOwnerResolver struct {
	owners map[string]string
}

func (f *fakeOwnerResolver) ResolveUserByInsurancePaymentID(_ context.Context, paymentID string) (string, error) {
	owner, ok := f.owners[paymentID]
	if !ok {
		return "", errors.New("no owner")
	}
	return owner, nil
}

func newTestNormalizer() *Normalizer {
	return NewNormalizer(&fakeSubscriptionFetcher{}, &fakeOwnerResolver{})
}

func stripeEvent(t *testing.T, eventType string, object string) *StripeEvent {
	t.Helper()
	ev := &StripeEvent{ID: "evt_1", Type: eventType}
	ev.Data.Object = json.RawMessage(object)
	return ev
}

func paypalEvent(t *testing.T, eventType string, resource string) *PayPalEvent {
	t.Helper()
	return &PayPalEvent{ID: "WH-1", EventType: eventType, Resource: json.RawMessage(resource)}
}

func TestNormalizeStripe_SubscriptionCreated(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeSubscriptionCreated, `{
		"id": "sub_1",
		"status": "active",
		"currency": "eur",
		"metadata": {"userId": "user-1", "plan": "premium"},
		"items": {"data": [{"price": {"unit_amount": 2999}}]},
		"current_period_start": 1700000000,
		"current_period_end": 1702592000
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, ProviderStripe, ev.Provider)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, KindMembershipActivated, ev.Kind)
	assert.Equal(t, 29.99, ev.Amount)
	assert.Equal(t, "EUR", ev.Currency)
	assert.Equal(t, "sub_1", ev.SubscriptionID)
	assert.Equal(t, "premium", ev.Plan)
	require.NotNil(t, ev.PeriodStart)
	assert.Equal(t, int64(1700000000), ev.PeriodStart.Unix())
}

func TestNormalizeStripe_SubscriptionStatusMapping(t *testing.T) {
	n := newTestNormalizer()

	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeSubscriptionUpdated,
		`{"id":"sub_1","status":"past_due","metadata":{"userId":"user-1"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindMembershipPastDue, events[0].Kind)

	events, err = n.NormalizeStripe(context.Background(), stripeEvent(t, stripeSubscriptionDeleted,
		`{"id":"sub_1","status":"canceled","metadata":{"userId":"user-1"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindMembershipCanceled, events[0].Kind)
}

func TestNormalizeStripe_UnpaidSubscriptionGrantsNothing(t *testing.T) {
	n := newTestNormalizer()

	// incomplete is Stripe's pre-payment state: the subscription exists but
	// the first charge has not succeeded. It must not produce any event.
	for _, status := range []string{"incomplete", "trialing", "paused"} {
		events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeSubscriptionCreated,
			`{"id":"sub_1","status":"`+status+`","metadata":{"userId":"user-1"}}`))
		require.NoError(t, err)
		assert.Empty(t, events, "status %q", status)
	}
}

func TestNormalizeStripe_MissingUserIsUnprocessable(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeSubscriptionCreated,
		`{"id":"sub_1","status":"active","metadata":{}}`))

	var unprocessable *UnprocessableEventError
	require.ErrorAs(t, err, &unprocessable)
	assert.Equal(t, stripeSubscriptionCreated, unprocessable.EventType)
}

func TestNormalizeStripe_PaymentIntentInsuranceTag(t *testing.T) {
	n := newTestNormalizer()

	// Tagged as insurance: becomes an activation.
	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripePaymentSucceeded,
		`{"id":"pi_1","amount":12000,"currency":"eur","metadata":{"userId":"user-1","paymentType":"insurance"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindInsuranceActivated, events[0].Kind)
	assert.Equal(t, 120.0, events[0].Amount)
	assert.Equal(t, "pi_1", events[0].PaymentID)

	// Untagged one-off payment: not an entitlement, silently ignored.
	events, err = n.NormalizeStripe(context.Background(), stripeEvent(t, stripePaymentSucceeded,
		`{"id":"pi_2","amount":500,"currency":"eur","metadata":{"userId":"user-1"}}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNormalizeStripe_PaymentFailed(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripePaymentFailed,
		`{"id":"pi_1","amount":12000,"currency":"eur","metadata":{"userId":"user-1"},"last_payment_error":{"message":"card_declined"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindPaymentFailed, events[0].Kind)
	assert.Equal(t, "card_declined", events[0].Reason)
}

func TestNormalizeStripe_InvoiceFailedExpandsToTwoEvents(t *testing.T) {
	fetcher := &fakeSubscriptionFetcher{subs: map[string]*StripeSubscription{}}
	sub := &StripeSubscription{ID: "sub_1", Status: "past_due"}
	sub.Metadata.UserID = "user-1"
	fetcher.subs["sub_1"] = sub

	n := NewNormalizer(fetcher, &fakeOwnerResolver{})
	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeInvoiceFailed,
		`{"id":"in_1","subscription":"sub_1","amount_due":2999,"currency":"eur"}`))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, KindMembershipPastDue, events[0].Kind)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "sub_1", events[0].SubscriptionID)

	assert.Equal(t, KindPaymentFailed, events[1].Kind)
	assert.Equal(t, "in_1", events[1].PaymentID)
	assert.Equal(t, "invoice_payment_failed", events[1].Reason)
}

func TestNormalizeStripe_InvoiceFailedLookupErrorIsTransient(t *testing.T) {
	n := NewNormalizer(&fakeSubscriptionFetcher{err: errors.New("stripe down")}, &fakeOwnerResolver{})
	_, err := n.NormalizeStripe(context.Background(), stripeEvent(t, stripeInvoiceFailed,
		`{"id":"in_1","subscription":"sub_1","amount_due":2999,"currency":"eur"}`))
	require.Error(t, err)

	// A lookup failure must stay retryable, not become an unprocessable ack.
	var unprocessable *UnprocessableEventError
	assert.False(t, errors.As(err, &unprocessable))
}

func TestNormalizeStripe_UnknownTypeIgnored(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizeStripe(context.Background(), stripeEvent(t, "charge.dispute.created", `{}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = n.NormalizeStripe(context.Background(), stripeEvent(t, stripeInvoiceSucceeded, `{}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNormalizePayPal_Subscription(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizePayPal(context.Background(), paypalEvent(t, paypalSubscriptionActivated, `{
		"id": "I-SUB1",
		"custom_id": "user-1",
		"plan_id": "P-PLAN1",
		"start_time": "2026-08-01T00:00:00Z",
		"billing_info": {
			"last_payment": {"amount": {"value": "29.99", "currency_code": "EUR"}},
			"next_billing_time": "2026-09-01T00:00:00Z"
		}
	}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, ProviderPayPal, ev.Provider)
	assert.Equal(t, KindMembershipActivated, ev.Kind)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, "I-SUB1", ev.SubscriptionID)
	assert.Equal(t, "P-PLAN1", ev.Plan)
	assert.Equal(t, 29.99, ev.Amount)
	require.NotNil(t, ev.PeriodEnd)

	events, err = n.NormalizePayPal(context.Background(), paypalEvent(t, paypalSubscriptionSuspended,
		`{"id":"I-SUB1","custom_id":"user-1"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindMembershipCanceled, events[0].Kind)
}

func TestNormalizePayPal_SaleCompleted(t *testing.T) {
	n := newTestNormalizer()

	// Description carries the insurance marker.
	events, err := n.NormalizePayPal(context.Background(), paypalEvent(t, paypalSaleCompleted,
		`{"id":"sale-1","custom":"user-1","description":"Anti-ghosting insurance deposit","amount":{"total":"120.00","currency":"EUR"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindInsuranceActivated, events[0].Kind)
	assert.Equal(t, 120.0, events[0].Amount)
	assert.Equal(t, "sale-1", events[0].PaymentID)

	// Subscription installment sale: ignored here.
	events, err = n.NormalizePayPal(context.Background(), paypalEvent(t, paypalSaleCompleted,
		`{"id":"sale-2","custom":"user-1","description":"Monthly membership","amount":{"total":"29.99","currency":"EUR"}}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNormalizePayPal_SaleDenied(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizePayPal(context.Background(), paypalEvent(t, paypalSaleDenied,
		`{"id":"sale-1","custom":"user-1","amount":{"total":"29.99","currency":"EUR"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindPaymentFailed, events[0].Kind)
	assert.Equal(t, "denied", events[0].Reason)
}

func TestNormalizePayPal_AuthorizationVoided(t *testing.T) {
	// Direct custom_id path.
	n := newTestNormalizer()
	events, err := n.NormalizePayPal(context.Background(), paypalEvent(t, paypalAuthorizationVoided,
		`{"id":"auth-1","custom_id":"user-1","amount":{"total":"120.00","currency":"EUR"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindInsuranceVoided, events[0].Kind)
	assert.Equal(t, "user-1", events[0].UserID)

	// Reverse lookup by stored payment token.
	n = NewNormalizer(&fakeSubscriptionFetcher{}, &fakeOwnerResolver{owners: map[string]string{"pay-parent": "user-2"}})
	events, err = n.NormalizePayPal(context.Background(), paypalEvent(t, paypalAuthorizationVoided,
		`{"id":"auth-2","parent_payment":"pay-parent","amount":{"total":"120.00","currency":"EUR"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user-2", events[0].UserID)

	// No resolvable owner at all.
	n = newTestNormalizer()
	_, err = n.NormalizePayPal(context.Background(), paypalEvent(t, paypalAuthorizationVoided,
		`{"id":"auth-3","amount":{"total":"120.00","currency":"EUR"}}`))
	var unprocessable *UnprocessableEventError
	require.ErrorAs(t, err, &unprocessable)
}

func TestNormalizePayPal_UnknownTypeIgnored(t *testing.T) {
	n := newTestNormalizer()
	events, err := n.NormalizePayPal(context.Background(), paypalEvent(t, "CUSTOMER.DISPUTE.CREATED", `{}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}
