package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	RoleRegular   = "regular"
	RoleAdmin     = "admin"
	RoleConcierge = "concierge"

	GenderMale   = "masculino"
	GenderFemale = "femenino"
)

// Membership axis states. Canceled is terminal until a fresh activation
// restarts the cycle at active.
const (
	MembershipNone     = "none"
	MembershipActive   = "active"
	MembershipPastDue  = "past_due"
	MembershipCanceled = "canceled"
)

// Insurance axis states. Voided never silently reverts; only a fresh
// successful insurance payment moves it back to active.
const (
	InsuranceAbsent = "absent"
	InsuranceActive = "active"
	InsuranceVoided = "voided"
)

// User is the per-user entitlement record. Payment fields are mutated only by
// the reconciliation engine; profile fields (name, role, gender) are owned by
// the platform and read here for claims propagation.
type User struct {
	ID        string `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Name      string `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email     string `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	Role      string `gorm:"type:varchar(50);default:'regular'" json:"role" validate:"oneof=regular admin concierge"`
	Gender    string `gorm:"type:varchar(20);default:''" json:"gender" validate:"omitempty,oneof=masculino femenino"`

	// Membership axis
	MembershipStatus      string     `gorm:"type:varchar(32);not null;default:'none';index" json:"membership_status"`
	HasActiveSubscription bool       `gorm:"not null;default:false;index" json:"has_active_subscription"`
	SubscriptionID        string     `gorm:"type:varchar(191);default:'';index" json:"subscription_id"`
	SubscriptionPlan      string     `gorm:"type:varchar(50);default:''" json:"subscription_plan"`
	CurrentPeriodStart    *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`

	// Insurance axis (anti-ghosting deposit)
	InsuranceStatus          string  `gorm:"type:varchar(32);not null;default:'absent';index" json:"insurance_status"`
	HasAntiGhostingInsurance bool    `gorm:"not null;default:false" json:"has_anti_ghosting_insurance"`
	InsurancePaymentID       string  `gorm:"type:varchar(191);default:'';index" json:"insurance_payment_id"`
	InsuranceAmount          float64 `gorm:"type:decimal(10,2);default:0" json:"insurance_amount"`

	PaymentProvider  string `gorm:"type:varchar(20);default:''" json:"payment_provider"`
	StripeCustomerID string `gorm:"type:varchar(191);default:'';index" json:"stripe_customer_id"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsAdmin reports whether the user bypasses entitlement gating.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// FindUserByID loads a user entitlement record by its platform user id.
func FindUserByID(db *gorm.DB, userID string) (*User, error) {
	var u User
	if err := db.Where("id = ?", userID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByInsurancePaymentID reverse-looks-up the owner of a stored
// insurance payment token. Used for authorization-voided events that carry no
// direct user reference.
func FindUserByInsurancePaymentID(db *gorm.DB, paymentID string) (*User, error) {
	var u User
	if err := db.Where("insurance_payment_id = ?", paymentID).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
