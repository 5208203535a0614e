package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/tucitasegura/payments/app/models"
)

// membershipTransitions is the explicit transition table for the membership
// axis: event kind -> current status -> next status. Every current status is
// listed so an unhandled combination is a programming error, not a silent
// fallthrough. Events consult only persisted state and are safe to apply out
// of causal order.
var membershipTransitions = map[EventKind]map[string]string{
	KindMembershipActivated: {
		models.MembershipNone:     models.MembershipActive,
		models.MembershipActive:   models.MembershipActive,
		models.MembershipPastDue:  models.MembershipActive,
		models.MembershipCanceled: models.MembershipActive,
	},
	KindMembershipUpdated: {
		models.MembershipNone:     models.MembershipActive,
		models.MembershipActive:   models.MembershipActive,
		models.MembershipPastDue:  models.MembershipActive,
		models.MembershipCanceled: models.MembershipActive,
	},
	KindMembershipPastDue: {
		models.MembershipNone:     models.MembershipPastDue,
		models.MembershipActive:   models.MembershipPastDue,
		models.MembershipPastDue:  models.MembershipPastDue,
		models.MembershipCanceled: models.MembershipPastDue,
	},
	KindMembershipCanceled: {
		models.MembershipNone:     models.MembershipCanceled,
		models.MembershipActive:   models.MembershipCanceled,
		models.MembershipPastDue:  models.MembershipCanceled,
		models.MembershipCanceled: models.MembershipCanceled,
	},
}

// insuranceTransitions is the transition table for the insurance axis.
// Voided moves back to active only through a fresh successful payment.
var insuranceTransitions = map[EventKind]map[string]string{
	KindInsuranceActivated: {
		models.InsuranceAbsent: models.InsuranceActive,
		models.InsuranceActive: models.InsuranceActive,
		models.InsuranceVoided: models.InsuranceActive,
	},
	KindInsuranceVoided: {
		models.InsuranceAbsent: models.InsuranceVoided,
		models.InsuranceActive: models.InsuranceVoided,
		models.InsuranceVoided: models.InsuranceVoided,
	},
}

// ApplyResult is the complete outcome of applying one canonical event: the
// mutated record plus every row that must be written with it in one logical
// unit.
type ApplyResult struct {
	User *models.User

	SubscriptionLog  *models.SubscriptionLog
	InsuranceLog     *models.InsuranceLog
	FailedPaymentLog *models.FailedPaymentLog
	Notification     *models.Notification
}

// Apply runs the entitlement state machine for one event against the current
// persisted record. It never touches storage; the repository persists the
// result atomically.
func Apply(ev EntitlementEvent, current *models.User, now time.Time) (*ApplyResult, error) {
	u := *current
	res := &ApplyResult{User: &u}

	switch ev.Kind {
	case KindMembershipActivated, KindMembershipUpdated, KindMembershipPastDue, KindMembershipCanceled:
		next, err := nextStatus(membershipTransitions, ev.Kind, u.MembershipStatus)
		if err != nil {
			return nil, err
		}
		u.MembershipStatus = next
		if ev.SubscriptionID != "" {
			u.SubscriptionID = ev.SubscriptionID
		}
		if ev.Plan != "" {
			u.SubscriptionPlan = ev.Plan
		}
		if ev.PeriodStart != nil {
			u.CurrentPeriodStart = ev.PeriodStart
		}
		if ev.PeriodEnd != nil {
			u.CurrentPeriodEnd = ev.PeriodEnd
		}
		u.PaymentProvider = ev.Provider

		res.SubscriptionLog = &models.SubscriptionLog{
			UserID:         u.ID,
			Provider:       ev.Provider,
			SubscriptionID: u.SubscriptionID,
			EventKind:      string(ev.Kind),
			Status:         next,
			Amount:         ev.Amount,
			Currency:       ev.Currency,
		}

	case KindInsuranceActivated:
		next, err := nextStatus(insuranceTransitions, ev.Kind, u.InsuranceStatus)
		if err != nil {
			return nil, err
		}
		u.InsuranceStatus = next
		u.InsurancePaymentID = ev.PaymentID
		u.InsuranceAmount = ev.Amount
		u.PaymentProvider = ev.Provider

		res.InsuranceLog = &models.InsuranceLog{
			UserID:    u.ID,
			Provider:  ev.Provider,
			PaymentID: ev.PaymentID,
			EventKind: string(ev.Kind),
			Amount:    ev.Amount,
			Currency:  ev.Currency,
		}

	case KindInsuranceVoided:
		next, err := nextStatus(insuranceTransitions, ev.Kind, u.InsuranceStatus)
		if err != nil {
			return nil, err
		}
		voidedPaymentID := u.InsurancePaymentID
		if voidedPaymentID == "" {
			voidedPaymentID = ev.PaymentID
		}
		u.InsuranceStatus = next
		u.InsurancePaymentID = ""
		u.InsuranceAmount = 0

		res.InsuranceLog = &models.InsuranceLog{
			UserID:    u.ID,
			Provider:  ev.Provider,
			PaymentID: voidedPaymentID,
			EventKind: string(ev.Kind),
			Amount:    ev.Amount,
			Currency:  ev.Currency,
		}
		res.Notification = &models.Notification{
			UserID:  u.ID,
			Type:    models.NotificationTypeInsuranceVoided,
			Title:   "Seguro anti-ghosting cancelado",
			Message: "Tu depósito de seguro anti-ghosting ha sido anulado. Deberás realizar un nuevo depósito para seguir usando las funciones protegidas.",
			IsRead:  false,
		}

	case KindPaymentFailed:
		// No axis transition; past-due handling arrives as its own event.
		res.FailedPaymentLog = &models.FailedPaymentLog{
			UserID:    u.ID,
			Provider:  ev.Provider,
			PaymentID: ev.PaymentID,
			Reason:    failureReason(ev.Reason),
			Amount:    ev.Amount,
			Currency:  ev.Currency,
		}
		res.Notification = &models.Notification{
			UserID:  u.ID,
			Type:    models.NotificationTypePaymentFailed,
			Title:   "Problema con tu pago",
			Message: "No pudimos procesar tu último pago. Revisa tu método de pago para mantener tu membresía activa.",
			IsRead:  false,
		}

	default:
		return nil, fmt.Errorf("unknown entitlement event kind: %s", ev.Kind)
	}

	// Derived flags always follow the axis state, never the other way around.
	u.HasActiveSubscription = u.MembershipStatus == models.MembershipActive
	u.HasAntiGhostingInsurance = u.InsuranceStatus == models.InsuranceActive
	u.UpdatedAt = now

	return res, nil
}

func nextStatus(table map[EventKind]map[string]string, kind EventKind, current string) (string, error) {
	transitions, ok := table[kind]
	if !ok {
		return "", fmt.Errorf("no transition table for event kind %s", kind)
	}
	next, ok := transitions[current]
	if !ok {
		return "", fmt.Errorf("no transition for kind %s from status %q", kind, current)
	}
	return next, nil
}

func failureReason(reason string) string {
	r := strings.TrimSpace(reason)
	if r == "" {
		return "payment_failed"
	}
	if len(r) > 100 {
		r = r[:100]
	}
	return r
}
