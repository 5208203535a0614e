package models

import "time"

// Ledger entries expire after 30 days; the janitor sweeps them out.
const WebhookEventTTL = 30 * 24 * time.Hour

// WebhookEvent is the idempotency ledger entry for a provider notification.
// The unique (provider, provider_event_id) index makes the first insert an
// atomic reservation: a concurrent redelivery hits the conflict and is
// acknowledged as a duplicate without reprocessing.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ExpiresAt       time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
