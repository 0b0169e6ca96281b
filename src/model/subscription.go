package model

import "time"

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription mirrors the payment provider's view of a user, keyed by
// email. It is written by the webhook handler and read as a single
// entitlement boolean by the rest of the application.
type Subscription struct {
	Email                string    `gorm:"primaryKey;size:200" json:"email"`
	StripeCustomerID     string    `gorm:"size:64;index" json:"stripe_customer_id"`
	StripeSubscriptionID string    `gorm:"size:64" json:"subscription_id"`
	Status               string    `gorm:"size:32;not null" json:"subscription_status"`
	CurrentPeriodEnd     time.Time `json:"subscription_period_end"`
	CancelAtPeriodEnd    bool      `json:"cancel_at_period_end"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entitled reports whether the subscription currently grants premium
// access. A canceled-at-period-end subscription stays entitled until the
// period actually ends.
func (s *Subscription) Entitled(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd.IsZero() || now.Before(s.CurrentPeriodEnd)
}
