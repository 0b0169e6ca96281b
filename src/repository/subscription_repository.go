package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"papertrader/src/database"
	"papertrader/src/model"
)

// SubscriptionRepository stores the payment provider's subscription state,
// keyed by user email. Written by the webhook handler, read for
// entitlement checks.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SubscriptionRepository) WithDB(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// FindByEmail returns (nil, nil) when the user has never subscribed.
func (r *SubscriptionRepository) FindByEmail(ctx context.Context, email string) (*model.Subscription, error) {
	var sub model.Subscription

	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":  "SubscriptionRepository",
			"op":    "FindByEmail",
			"email": email,
		}).WithError(err).Error("Failed to fetch subscription")

		return nil, err
	}

	return &sub, nil
}

// FindByCustomerID resolves webhook events that only carry the provider's
// customer reference. Returns (nil, nil) when the customer is unknown.
func (r *SubscriptionRepository) FindByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error) {
	var sub model.Subscription

	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":        "SubscriptionRepository",
			"op":          "FindByCustomerID",
			"customer_id": customerID,
		}).WithError(err).Error("Failed to fetch subscription")

		return nil, err
	}

	return &sub, nil
}

// Upsert merges the given subscription state into the row for its email.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *model.Subscription) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stripe_customer_id", "stripe_subscription_id", "status",
				"current_period_end", "cancel_at_period_end", "updated_at",
			}),
		}).
		Create(sub).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "SubscriptionRepository",
			"op":    "Upsert",
			"email": sub.Email,
		}).WithError(err).Error("Failed to upsert subscription")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "SubscriptionRepository",
		"op":     "Upsert",
		"email":  sub.Email,
		"status": sub.Status,
	}).Info("Subscription state updated")

	return nil
}
