package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationTypePaymentFailed   = "payment_failed"
	NotificationTypeInsuranceVoided = "insurance_voided"
	NotificationTypeSystem          = "system"
)

// Notification is rendered to end users by the platform's notification UI.
// The engine only creates them on failure paths.
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    string         `gorm:"type:varchar(128);not null;index" json:"user_id"`
	Type      string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment_failed insurance_voided system"`
	Title     string         `gorm:"type:varchar(200)" json:"title"`
	Message   string         `gorm:"type:text" json:"message"`
	IsRead    bool           `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarkAsRead marks a notification as read
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification creates a new notification for a user
func CreateNotification(db *gorm.DB, userID, notificationType, title, message string) error {
	notification := Notification{
		UserID:  userID,
		Type:    notificationType,
		Title:   title,
		Message: message,
		IsRead:  false,
	}

	return db.Create(&notification).Error
}
