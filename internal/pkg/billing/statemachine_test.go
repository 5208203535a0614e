package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tucitasegura/payments/app/models"
)

func baseUser() *models.User {
	return &models.User{
		ID:               "user-1",
		Role:             models.RoleRegular,
		Gender:           models.GenderFemale,
		MembershipStatus: models.MembershipNone,
		InsuranceStatus:  models.InsuranceAbsent,
	}
}

func TestApply_MembershipActivation(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	res, err := Apply(EntitlementEvent{
		Provider:       ProviderStripe,
		UserID:         "user-1",
		Kind:           KindMembershipActivated,
		Amount:         29.99,
		Currency:       "EUR",
		SubscriptionID: "sub_1",
		Plan:           "premium",
		PeriodEnd:      &periodEnd,
	}, baseUser(), now)
	require.NoError(t, err)

	u := res.User
	assert.Equal(t, models.MembershipActive, u.MembershipStatus)
	assert.True(t, u.HasActiveSubscription)
	assert.Equal(t, "sub_1", u.SubscriptionID)
	assert.Equal(t, "premium", u.SubscriptionPlan)
	assert.Equal(t, ProviderStripe, u.PaymentProvider)
	require.NotNil(t, u.CurrentPeriodEnd)

	require.NotNil(t, res.SubscriptionLog)
	assert.Equal(t, string(KindMembershipActivated), res.SubscriptionLog.EventKind)
	assert.Equal(t, models.MembershipActive, res.SubscriptionLog.Status)
	assert.Nil(t, res.Notification)
}

func TestApply_MembershipTransitions(t *testing.T) {
	tests := []struct {
		name    string
		kind    EventKind
		current string
		want    string
	}{
		{"activation from none", KindMembershipActivated, models.MembershipNone, models.MembershipActive},
		{"reactivation from canceled", KindMembershipActivated, models.MembershipCanceled, models.MembershipActive},
		{"recovery from past_due", KindMembershipUpdated, models.MembershipPastDue, models.MembershipActive},
		{"past_due from active", KindMembershipPastDue, models.MembershipActive, models.MembershipPastDue},
		{"cancel from active", KindMembershipCanceled, models.MembershipActive, models.MembershipCanceled},
		{"cancel from past_due", KindMembershipCanceled, models.MembershipPastDue, models.MembershipCanceled},
		{"cancel is idempotent", KindMembershipCanceled, models.MembershipCanceled, models.MembershipCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := baseUser()
			u.MembershipStatus = tt.current

			res, err := Apply(EntitlementEvent{Provider: ProviderStripe, UserID: u.ID, Kind: tt.kind}, u, time.Now())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.User.MembershipStatus)
			assert.Equal(t, tt.want == models.MembershipActive, res.User.HasActiveSubscription)
		})
	}
}

func TestApply_NeverMutatesInput(t *testing.T) {
	u := baseUser()
	res, err := Apply(EntitlementEvent{Provider: ProviderStripe, UserID: u.ID, Kind: KindMembershipActivated}, u, time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.MembershipNone, u.MembershipStatus)
	assert.False(t, u.HasActiveSubscription)
	assert.Equal(t, models.MembershipActive, res.User.MembershipStatus)
}

func TestApply_InsuranceActivation(t *testing.T) {
	res, err := Apply(EntitlementEvent{
		Provider:  ProviderPayPal,
		UserID:    "user-1",
		Kind:      KindInsuranceActivated,
		Amount:    120.0,
		Currency:  "EUR",
		PaymentID: "sale-1",
	}, baseUser(), time.Now())
	require.NoError(t, err)

	u := res.User
	assert.Equal(t, models.InsuranceActive, u.InsuranceStatus)
	assert.True(t, u.HasAntiGhostingInsurance)
	assert.Equal(t, "sale-1", u.InsurancePaymentID)
	assert.Equal(t, 120.0, u.InsuranceAmount)

	require.NotNil(t, res.InsuranceLog)
	assert.Equal(t, "sale-1", res.InsuranceLog.PaymentID)
}

func TestApply_InsuranceVoidClearsPaymentAndNotifies(t *testing.T) {
	u := baseUser()
	u.InsuranceStatus = models.InsuranceActive
	u.HasAntiGhostingInsurance = true
	u.InsurancePaymentID = "sale-1"
	u.InsuranceAmount = 120.0

	res, err := Apply(EntitlementEvent{
		Provider: ProviderPayPal,
		UserID:   u.ID,
		Kind:     KindInsuranceVoided,
		Reason:   "authorization_voided",
	}, u, time.Now())
	require.NoError(t, err)

	got := res.User
	assert.Equal(t, models.InsuranceVoided, got.InsuranceStatus)
	assert.False(t, got.HasAntiGhostingInsurance)
	assert.Empty(t, got.InsurancePaymentID)
	assert.Zero(t, got.InsuranceAmount)

	// The audit row keeps the voided token even though the record drops it.
	require.NotNil(t, res.InsuranceLog)
	assert.Equal(t, "sale-1", res.InsuranceLog.PaymentID)

	require.NotNil(t, res.Notification)
	assert.Equal(t, models.NotificationTypeInsuranceVoided, res.Notification.Type)
}

func TestApply_VoidedInsuranceReactivatesOnFreshPayment(t *testing.T) {
	u := baseUser()
	u.InsuranceStatus = models.InsuranceVoided

	res, err := Apply(EntitlementEvent{
		Provider:  ProviderStripe,
		UserID:    u.ID,
		Kind:      KindInsuranceActivated,
		Amount:    150.0,
		PaymentID: "pi_new",
	}, u, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.InsuranceActive, res.User.InsuranceStatus)
	assert.Equal(t, "pi_new", res.User.InsurancePaymentID)
}

func TestApply_PaymentFailedLeavesAxesUntouched(t *testing.T) {
	u := baseUser()
	u.MembershipStatus = models.MembershipActive
	u.HasActiveSubscription = true
	u.InsuranceStatus = models.InsuranceActive
	u.HasAntiGhostingInsurance = true

	res, err := Apply(EntitlementEvent{
		Provider:  ProviderStripe,
		UserID:    u.ID,
		Kind:      KindPaymentFailed,
		Amount:    29.99,
		Currency:  "EUR",
		PaymentID: "pi_failed",
		Reason:    "card_declined",
	}, u, time.Now())
	require.NoError(t, err)

	got := res.User
	assert.Equal(t, models.MembershipActive, got.MembershipStatus)
	assert.True(t, got.HasActiveSubscription)
	assert.True(t, got.HasAntiGhostingInsurance)

	require.NotNil(t, res.FailedPaymentLog)
	assert.Equal(t, "card_declined", res.FailedPaymentLog.Reason)
	require.NotNil(t, res.Notification)
	assert.Equal(t, models.NotificationTypePaymentFailed, res.Notification.Type)
}

func TestApply_FailureReasonBounded(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	res, err := Apply(EntitlementEvent{
		Provider: ProviderStripe,
		UserID:   "user-1",
		Kind:     KindPaymentFailed,
		Reason:   string(long),
	}, baseUser(), time.Now())
	require.NoError(t, err)
	assert.Len(t, res.FailedPaymentLog.Reason, 100)

	res, err = Apply(EntitlementEvent{Provider: ProviderStripe, UserID: "user-1", Kind: KindPaymentFailed}, baseUser(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "payment_failed", res.FailedPaymentLog.Reason)
}

func TestApply_UnknownKindErrors(t *testing.T) {
	_, err := Apply(EntitlementEvent{Kind: EventKind("bogus")}, baseUser(), time.Now())
	require.Error(t, err)
}

func TestApply_DerivedFlagsFollowAxes(t *testing.T) {
	// A stale record with flags out of sync gets corrected on any apply.
	u := baseUser()
	u.MembershipStatus = models.MembershipCanceled
	u.HasActiveSubscription = true

	res, err := Apply(EntitlementEvent{Provider: ProviderStripe, UserID: u.ID, Kind: KindPaymentFailed}, u, time.Now())
	require.NoError(t, err)
	assert.False(t, res.User.HasActiveSubscription)
}
