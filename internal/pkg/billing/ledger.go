package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/tucitasegura/payments/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger is the idempotency store. Reserve is an atomic insert-if-absent
// performed before any side effect: the reservation doubles as the completion
// marker once Confirm runs, and Release undoes it so a provider retry can
// proceed after a processing failure.
type Ledger interface {
	Reserve(ctx context.Context, provider, eventID, eventType string) (created bool, entry *models.WebhookEvent, err error)
	Confirm(ctx context.Context, entryID uint, processingNote string) error
	Release(ctx context.Context, entryID uint) error
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// FallbackEventID derives a deterministic event id from the payload for
// providers or payloads that carry none, so dedup still works.
func FallbackEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates a ledger backed by GORM.
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) Reserve(ctx context.Context, provider, eventID, eventType string) (bool, *models.WebhookEvent, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	id := strings.TrimSpace(eventID)
	if p == "" || id == "" {
		return false, nil, errors.New("provider and event id are required")
	}

	entry := &models.WebhookEvent{
		Provider:        p,
		ProviderEventID: id,
		EventType:       strings.TrimSpace(eventType),
		ExpiresAt:       time.Now().Add(models.WebhookEventTTL),
	}

	// The unique (provider, provider_event_id) index makes this insert the
	// atomic reservation: concurrent deliveries race on the conflict, and
	// only one observes RowsAffected > 0.
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", p, id).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (l *gormLedger) Confirm(ctx context.Context, entryID uint, processingNote string) error {
	if entryID == 0 {
		return errors.New("ledger entry id is required")
	}
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingNote,
	}
	return l.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", entryID).
		Updates(updates).Error
}

func (l *gormLedger) Release(ctx context.Context, entryID uint) error {
	if entryID == 0 {
		return errors.New("ledger entry id is required")
	}
	return l.db.WithContext(ctx).
		Unscoped().
		Delete(&models.WebhookEvent{}, entryID).Error
}

func (l *gormLedger) DeleteExpired(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	tx := l.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Limit(limit).
		Delete(&models.WebhookEvent{})
	return tx.RowsAffected, tx.Error
}
