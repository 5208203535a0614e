package models

import "time"

// SubscriptionLog is the append-only audit trail for membership events.
// Rows are created once per accepted event and never mutated.
type SubscriptionLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         string    `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Provider       string    `gorm:"type:varchar(20);not null;index" json:"provider"`
	SubscriptionID string    `gorm:"type:varchar(191);not null;index" json:"subscription_id"`
	EventKind      string    `gorm:"type:varchar(50);not null" json:"event_kind"`
	Status         string    `gorm:"type:varchar(32);not null" json:"status"`
	Amount         float64   `gorm:"type:decimal(10,2);default:0" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);default:''" json:"currency"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
