package models

import "time"

// FailedPaymentLog records every failed or reversed payment for support and
// dunning visibility. Append-only.
type FailedPaymentLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Provider  string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	PaymentID string    `gorm:"type:varchar(191);not null" json:"payment_id"`
	Reason    string    `gorm:"type:varchar(100);not null" json:"reason"`
	Amount    float64   `gorm:"type:decimal(10,2);default:0" json:"amount"`
	Currency  string    `gorm:"type:varchar(3);default:''" json:"currency"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
