package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// insuranceTag marks a one-time payment as an anti-ghosting deposit. Stripe
// carries it in payment intent metadata, PayPal in the sale description.
const insuranceTag = "insurance"

// SubscriptionFetcher resolves a subscription id to its full object. Invoice
// events only carry the subscription id; the user must be looked up remotely.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
}

// PaymentOwnerResolver reverse-looks-up the owner of a stored insurance
// payment token. Used for authorization-voided events without a direct user
// reference.
type PaymentOwnerResolver interface {
	ResolveUserByInsurancePaymentID(ctx context.Context, paymentID string) (string, error)
}

// Normalizer maps provider events into canonical entitlement events. Unknown
// event types yield an empty slice and no error; recognized events without a
// resolvable user yield an UnprocessableEventError.
type Normalizer struct {
	subscriptions SubscriptionFetcher
	owners        PaymentOwnerResolver
}

// NewNormalizer wires the normalizer's external lookups.
func NewNormalizer(subscriptions SubscriptionFetcher, owners PaymentOwnerResolver) *Normalizer {
	return &Normalizer{subscriptions: subscriptions, owners: owners}
}

// NormalizeStripe maps one Stripe webhook event to zero or more canonical
// events.
func (n *Normalizer) NormalizeStripe(ctx context.Context, ev *StripeEvent) ([]EntitlementEvent, error) {
	switch ev.Type {
	case stripeSubscriptionCreated, stripeSubscriptionUpdated:
		return n.normalizeStripeSubscription(ev, ev.Type == stripeSubscriptionCreated)
	case stripeSubscriptionDeleted:
		return n.normalizeStripeSubscriptionDeleted(ev)
	case stripePaymentSucceeded:
		return n.normalizeStripePaymentSucceeded(ev)
	case stripePaymentFailed:
		return n.normalizeStripePaymentFailed(ev)
	case stripeInvoiceFailed:
		return n.normalizeStripeInvoiceFailed(ctx, ev)
	case stripeInvoiceSucceeded:
		// Membership state is already carried by the subscription-updated
		// event this invoice belongs to.
		return nil, nil
	default:
		return nil, nil
	}
}

func (n *Normalizer) normalizeStripeSubscription(ev *StripeEvent, created bool) ([]EntitlementEvent, error) {
	var sub StripeSubscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "malformed subscription object"}
	}
	userID := strings.TrimSpace(sub.Metadata.UserID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "subscription metadata missing userId"}
	}

	kind, ok := stripeStatusToKind(sub.Status, created)
	if !ok {
		return nil, nil
	}
	out := EntitlementEvent{
		Provider:       ProviderStripe,
		UserID:         userID,
		Kind:           kind,
		Amount:         float64(sub.UnitAmount()) / 100,
		Currency:       strings.ToUpper(sub.Currency),
		SubscriptionID: sub.ID,
		Plan:           sub.Metadata.Plan,
		PeriodStart:    unixTimePtr(sub.CurrentPeriodStart),
		PeriodEnd:      unixTimePtr(sub.CurrentPeriodEnd),
	}
	return []EntitlementEvent{out}, nil
}

func (n *Normalizer) normalizeStripeSubscriptionDeleted(ev *StripeEvent) ([]EntitlementEvent, error) {
	var sub StripeSubscription
	if err := json.Unmarshal(ev.Data.Object, &sub); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "malformed subscription object"}
	}
	userID := strings.TrimSpace(sub.Metadata.UserID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "subscription metadata missing userId"}
	}
	return []EntitlementEvent{{
		Provider:       ProviderStripe,
		UserID:         userID,
		Kind:           KindMembershipCanceled,
		SubscriptionID: sub.ID,
		Currency:       strings.ToUpper(sub.Currency),
	}}, nil
}

func (n *Normalizer) normalizeStripePaymentSucceeded(ev *StripeEvent) ([]EntitlementEvent, error) {
	var pi stripePaymentIntent
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "malformed payment intent object"}
	}
	if !strings.EqualFold(strings.TrimSpace(pi.Metadata.PaymentType), insuranceTag) {
		// Not an insurance deposit; one-off payments are not entitlements.
		return nil, nil
	}
	userID := strings.TrimSpace(pi.Metadata.UserID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "payment intent metadata missing userId"}
	}
	return []EntitlementEvent{{
		Provider:  ProviderStripe,
		UserID:    userID,
		Kind:      KindInsuranceActivated,
		Amount:    float64(pi.Amount) / 100,
		Currency:  strings.ToUpper(pi.Currency),
		PaymentID: pi.ID,
	}}, nil
}

func (n *Normalizer) normalizeStripePaymentFailed(ev *StripeEvent) ([]EntitlementEvent, error) {
	var pi stripePaymentIntent
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "malformed payment intent object"}
	}
	userID := strings.TrimSpace(pi.Metadata.UserID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "payment intent metadata missing userId"}
	}
	reason := pi.LastPaymentError.Message
	if reason == "" {
		reason = "payment_intent_failed"
	}
	return []EntitlementEvent{{
		Provider:  ProviderStripe,
		UserID:    userID,
		Kind:      KindPaymentFailed,
		Amount:    float64(pi.Amount) / 100,
		Currency:  strings.ToUpper(pi.Currency),
		PaymentID: pi.ID,
		Reason:    reason,
	}}, nil
}

// normalizeStripeInvoiceFailed requires a provider round-trip: the invoice
// only names the subscription, whose metadata holds the user id. The result
// is a past-due transition plus a failed-payment event.
func (n *Normalizer) normalizeStripeInvoiceFailed(ctx context.Context, ev *StripeEvent) ([]EntitlementEvent, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "malformed invoice object"}
	}
	if strings.TrimSpace(inv.Subscription) == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "invoice missing subscription id"}
	}

	sub, err := n.subscriptions.GetSubscription(ctx, inv.Subscription)
	if err != nil {
		return nil, fmt.Errorf("subscription lookup for invoice %s: %w", inv.ID, err)
	}
	userID := strings.TrimSpace(sub.Metadata.UserID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.Type, Reason: "subscription metadata missing userId"}
	}

	currency := strings.ToUpper(inv.Currency)
	return []EntitlementEvent{
		{
			Provider:       ProviderStripe,
			UserID:         userID,
			Kind:           KindMembershipPastDue,
			SubscriptionID: sub.ID,
			Amount:         float64(inv.AmountDue) / 100,
			Currency:       currency,
		},
		{
			Provider:  ProviderStripe,
			UserID:    userID,
			Kind:      KindPaymentFailed,
			PaymentID: inv.ID,
			Amount:    float64(inv.AmountDue) / 100,
			Currency:  currency,
			Reason:    "invoice_payment_failed",
		},
	}, nil
}

// NormalizePayPal maps one PayPal webhook event to zero or more canonical
// events.
func (n *Normalizer) NormalizePayPal(ctx context.Context, ev *PayPalEvent) ([]EntitlementEvent, error) {
	switch ev.EventType {
	case paypalSubscriptionActivated:
		return n.normalizePayPalSubscription(ev, KindMembershipActivated)
	case paypalSubscriptionUpdated:
		return n.normalizePayPalSubscription(ev, KindMembershipUpdated)
	case paypalSubscriptionCancelled, paypalSubscriptionSuspended:
		return n.normalizePayPalSubscription(ev, KindMembershipCanceled)
	case paypalSaleCompleted:
		return n.normalizePayPalSaleCompleted(ev)
	case paypalSaleDenied, paypalSaleRefunded:
		return n.normalizePayPalSaleFailed(ev)
	case paypalAuthorizationVoided:
		return n.normalizePayPalAuthorizationVoided(ctx, ev)
	default:
		return nil, nil
	}
}

func (n *Normalizer) normalizePayPalSubscription(ev *PayPalEvent, kind EventKind) ([]EntitlementEvent, error) {
	var sub paypalSubscriptionResource
	if err := json.Unmarshal(ev.Resource, &sub); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "malformed subscription resource"}
	}
	userID := strings.TrimSpace(sub.CustomID)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "subscription resource missing custom_id"}
	}

	amount, currency := parsePayPalAmount(sub.BillingInfo.LastPayment.Amount)
	out := EntitlementEvent{
		Provider:       ProviderPayPal,
		UserID:         userID,
		Kind:           kind,
		Amount:         amount,
		Currency:       currency,
		SubscriptionID: sub.ID,
		Plan:           sub.PlanID,
		PeriodStart:    parseRFC3339Ptr(sub.StartTime),
		PeriodEnd:      parseRFC3339Ptr(sub.BillingInfo.NextBillingTime),
	}
	return []EntitlementEvent{out}, nil
}

func (n *Normalizer) normalizePayPalSaleCompleted(ev *PayPalEvent) ([]EntitlementEvent, error) {
	var sale paypalSaleResource
	if err := json.Unmarshal(ev.Resource, &sale); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "malformed sale resource"}
	}
	if !strings.Contains(strings.ToLower(sale.Description), insuranceTag) {
		// Subscription installments also arrive as sales; those are carried
		// by the billing-subscription events.
		return nil, nil
	}
	userID := strings.TrimSpace(sale.Custom)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "sale resource missing custom field"}
	}

	amount, currency := parsePayPalAmount(sale.Amount)
	return []EntitlementEvent{{
		Provider:  ProviderPayPal,
		UserID:    userID,
		Kind:      KindInsuranceActivated,
		Amount:    amount,
		Currency:  currency,
		PaymentID: sale.ID,
	}}, nil
}

func (n *Normalizer) normalizePayPalSaleFailed(ev *PayPalEvent) ([]EntitlementEvent, error) {
	var sale paypalSaleResource
	if err := json.Unmarshal(ev.Resource, &sale); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "malformed sale resource"}
	}
	userID := strings.TrimSpace(sale.Custom)
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "sale resource missing custom field"}
	}

	amount, currency := parsePayPalAmount(sale.Amount)
	return []EntitlementEvent{{
		Provider:  ProviderPayPal,
		UserID:    userID,
		Kind:      KindPaymentFailed,
		Amount:    amount,
		Currency:  currency,
		PaymentID: sale.ID,
		Reason:    strings.ToLower(strings.TrimPrefix(ev.EventType, "PAYMENT.SALE.")),
	}}, nil
}

// normalizePayPalAuthorizationVoided resolves the user directly from the
// resource's custom field when present, otherwise by reverse lookup of the
// stored insurance payment token.
func (n *Normalizer) normalizePayPalAuthorizationVoided(ctx context.Context, ev *PayPalEvent) ([]EntitlementEvent, error) {
	var auth paypalAuthorizationResource
	if err := json.Unmarshal(ev.Resource, &auth); err != nil {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "malformed authorization resource"}
	}

	userID := strings.TrimSpace(auth.CustomID)
	if userID == "" {
		userID = strings.TrimSpace(auth.Custom)
	}
	if userID == "" {
		for _, token := range []string{auth.ID, auth.ParentPayment} {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			resolved, err := n.owners.ResolveUserByInsurancePaymentID(ctx, token)
			if err == nil && resolved != "" {
				userID = resolved
				break
			}
		}
	}
	if userID == "" {
		return nil, &UnprocessableEventError{EventType: ev.EventType, Reason: "no resolvable user for voided authorization"}
	}

	amount, currency := parsePayPalAmount(auth.Amount)
	return []EntitlementEvent{{
		Provider:  ProviderPayPal,
		UserID:    userID,
		Kind:      KindInsuranceVoided,
		Amount:    amount,
		Currency:  currency,
		PaymentID: auth.ID,
		Reason:    "authorization_voided",
	}}, nil
}

// stripeStatusToKind maps a subscription status to an event kind. Only a paid
// subscription grants membership: statuses outside the table (incomplete,
// trialing, paused, future additions) report ok=false and the delivery is
// acknowledged without mutation.
func stripeStatusToKind(status string, created bool) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		if created {
			return KindMembershipActivated, true
		}
		return KindMembershipUpdated, true
	case "past_due":
		return KindMembershipPastDue, true
	case "canceled", "unpaid", "incomplete_expired":
		return KindMembershipCanceled, true
	default:
		return "", false
	}
}

func parsePayPalAmount(a paypalAmount) (float64, string) {
	raw := a.Value
	currency := a.CurrencyCode
	if raw == "" {
		raw = a.Total
		currency = a.Currency
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		amount = 0
	}
	return amount, strings.ToUpper(strings.TrimSpace(currency))
}

func unixTimePtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func parseRFC3339Ptr(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
