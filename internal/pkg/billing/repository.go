package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/tucitasegura/payments/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound marks events referencing a user id with no entitlement
// record. Treated as unprocessable, never as a retryable failure.
var ErrUserNotFound = errors.New("user entitlement record not found")

// Repository provides the engine's storage operations. All entitlement writes
// of one delivery and their audit appends form one transaction; concurrent
// events for the same user serialize on the row lock instead of racing on
// blind field updates.
type Repository interface {
	UpdateUserEntitlements(ctx context.Context, userID string, apply func(current *models.User) ([]*ApplyResult, error)) (*models.User, error)
	ResolveUserByInsurancePaymentID(ctx context.Context, paymentID string) (string, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an engine repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) UpdateUserEntitlements(ctx context.Context, userID string, apply func(current *models.User) ([]*ApplyResult, error)) (*models.User, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, errors.New("user id is required")
	}

	var updated *models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.User
		// Row lock serializes concurrent events for the same user.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		results, err := apply(&current)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			updated = &current
			return nil
		}

		// Audit rows from every event, but only the final record state is
		// saved; intermediate states exist only inside this transaction.
		for _, res := range results {
			if res.SubscriptionLog != nil {
				if err := tx.Create(res.SubscriptionLog).Error; err != nil {
					return err
				}
			}
			if res.InsuranceLog != nil {
				if err := tx.Create(res.InsuranceLog).Error; err != nil {
					return err
				}
			}
			if res.FailedPaymentLog != nil {
				if err := tx.Create(res.FailedPaymentLog).Error; err != nil {
					return err
				}
			}
			if res.Notification != nil {
				if err := tx.Create(res.Notification).Error; err != nil {
					return err
				}
			}
		}

		final := results[len(results)-1].User
		if err := tx.Save(final).Error; err != nil {
			return err
		}

		updated = final
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *gormRepository) ResolveUserByInsurancePaymentID(ctx context.Context, paymentID string) (string, error) {
	token := strings.TrimSpace(paymentID)
	if token == "" {
		return "", errors.New("payment id is required")
	}
	u, err := models.FindUserByInsurancePaymentID(r.db.WithContext(ctx), token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return u.ID, nil
}

func (r *gormRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := models.FindUserByID(r.db.WithContext(ctx), strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// ListUserIDs pages through user ids in primary-key order for the claims
// reconciliation sweep.
func (r *gormRepository) ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 200
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
