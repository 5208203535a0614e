package models

import "time"

// InsuranceLog is the append-only audit trail for anti-ghosting insurance
// payments and voids.
type InsuranceLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Provider  string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	PaymentID string    `gorm:"type:varchar(191);not null;index" json:"payment_id"`
	EventKind string    `gorm:"type:varchar(50);not null" json:"event_kind"`
	Amount    float64   `gorm:"type:decimal(10,2);default:0" json:"amount"`
	Currency  string    `gorm:"type:varchar(3);default:''" json:"currency"`
	// BelowMinimum marks deposits under the configured policy amount; the
	// entitlement is still granted, operators follow up on the shortfall.
	BelowMinimum bool      `gorm:"not null;default:false" json:"below_minimum"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
