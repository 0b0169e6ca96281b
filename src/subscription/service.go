package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
	"papertrader/src/repository"
)

var ErrNoSubscription = errors.New("no subscription on record")

type stripeAPI interface {
	CreateCheckoutSession(ctx context.Context, email, priceID, successURL, cancelURL string) (*CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
	GetCustomer(ctx context.Context, customerID string) (*StripeCustomer, error)
}

type store interface {
	FindByEmail(ctx context.Context, email string) (*model.Subscription, error)
	FindByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error)
	Upsert(ctx context.Context, sub *model.Subscription) error
}

// Service owns the subscription lifecycle: checkout, cancellation,
// entitlement reads, and the webhook that keeps local state in sync
// with the payment provider.
type Service struct {
	stripe stripeAPI
	store  store

	webhookSecret    string
	webhookTolerance time.Duration
	defaultPriceID   string

	now func() time.Time
}

func NewService(stripe stripeAPI, store store, cfg Config) *Service {
	return &Service{
		stripe:           stripe,
		store:            store,
		webhookSecret:    cfg.StripeWebhookSecret,
		webhookTolerance: cfg.WebhookTolerance,
		defaultPriceID:   cfg.DefaultPriceID,
		now:              time.Now,
	}
}

// DefaultService wires the production Stripe client and repository from
// env config.
func DefaultService() *Service {
	cfg := GetConfig()
	return NewService(NewStripeClient(cfg), repository.NewSubscriptionRepository(), cfg)
}

// Status returns the stored subscription state for a user, or (nil, nil)
// when they have never subscribed.
func (s *Service) Status(ctx context.Context, email string) (*model.Subscription, error) {
	return s.store.FindByEmail(ctx, normalizeEmail(email))
}

// IsEntitled reports whether the user currently has premium access.
// Missing records mean no.
func (s *Service) IsEntitled(ctx context.Context, email string) (bool, error) {
	sub, err := s.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return false, err
	}
	return sub.Entitled(s.now()), nil
}

// CreateCheckoutSession opens a hosted checkout for the user and returns
// the redirect URL.
func (s *Service) CreateCheckoutSession(ctx context.Context, email, priceID, successURL, cancelURL string) (string, error) {
	if priceID == "" {
		priceID = s.defaultPriceID
	}
	if priceID == "" || successURL == "" || cancelURL == "" {
		return "", fmt.Errorf("price id, success url and cancel url are required")
	}

	session, err := s.stripe.CreateCheckoutSession(ctx, normalizeEmail(email), priceID, successURL, cancelURL)
	if err != nil {
		return "", err
	}

	logger.WithFields(map[string]interface{}{
		"component": "subscription",
		"email":     email,
		"session":   session.ID,
	}).Info("Checkout session created")

	return session.URL, nil
}

// CancelSubscription flags the user's subscription to lapse at period
// end and returns when access will stop.
func (s *Service) CancelSubscription(ctx context.Context, email string) (time.Time, error) {
	sub, err := s.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return time.Time{}, err
	}
	if sub == nil || sub.StripeSubscriptionID == "" {
		return time.Time{}, ErrNoSubscription
	}

	remote, err := s.stripe.CancelAtPeriodEnd(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return time.Time{}, err
	}

	sub.Status = remote.Status
	sub.CancelAtPeriodEnd = true
	sub.CurrentPeriodEnd = time.Unix(remote.CurrentPeriodEnd, 0)
	if err := s.store.Upsert(ctx, sub); err != nil {
		return time.Time{}, err
	}

	logger.WithFields(map[string]interface{}{
		"component":  "subscription",
		"email":      sub.Email,
		"period_end": sub.CurrentPeriodEnd,
	}).Info("Subscription set to cancel at period end")

	return sub.CurrentPeriodEnd, nil
}

// webhookEvent is the provider's event envelope.
type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSessionObject is the payload of checkout.session.completed.
type checkoutSessionObject struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// invoiceObject is the payload of invoice.payment_succeeded/failed.
type invoiceObject struct {
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
}

// HandleWebhook verifies and applies one provider event. Unknown event
// types are acknowledged without action so the provider stops retrying.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := VerifySignature(payload, signatureHeader, s.webhookSecret, s.webhookTolerance, s.now()); err != nil {
		return err
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("malformed webhook payload: %w", err)
	}

	log := logger.WithFields(map[string]interface{}{
		"component": "subscription",
		"event":     event.Type,
		"event_id":  event.ID,
	})

	switch event.Type {
	case "checkout.session.completed":
		return s.applyCheckoutCompleted(ctx, event.Data.Object)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		return s.applySubscriptionEvent(ctx, event.Type, event.Data.Object)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		return s.applyInvoiceEvent(ctx, event.Type, event.Data.Object)

	default:
		log.Info("Ignoring unhandled webhook event")
		return nil
	}
}

func (s *Service) applyCheckoutCompleted(ctx context.Context, object json.RawMessage) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(object, &session); err != nil {
		return fmt.Errorf("malformed checkout session: %w", err)
	}

	email := session.CustomerEmail
	if email == "" {
		email = session.CustomerDetails.Email
	}
	if email == "" {
		return fmt.Errorf("checkout session %s carries no customer email", session.ID)
	}

	sub, err := s.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if sub == nil {
		sub = &model.Subscription{Email: normalizeEmail(email)}
	}
	sub.StripeCustomerID = session.Customer
	sub.StripeSubscriptionID = session.Subscription
	sub.Status = model.SubscriptionStatusActive

	return s.store.Upsert(ctx, sub)
}

func (s *Service) applySubscriptionEvent(ctx context.Context, eventType string, object json.RawMessage) error {
	var remote StripeSubscription
	if err := json.Unmarshal(object, &remote); err != nil {
		return fmt.Errorf("malformed subscription object: %w", err)
	}

	sub, err := s.subscriptionForCustomer(ctx, remote.Customer)
	if err != nil {
		return err
	}

	sub.StripeCustomerID = remote.Customer
	sub.StripeSubscriptionID = remote.ID
	sub.Status = remote.Status
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	if remote.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(remote.CurrentPeriodEnd, 0)
	}
	if eventType == "customer.subscription.deleted" {
		sub.Status = model.SubscriptionStatusCanceled
	}

	return s.store.Upsert(ctx, sub)
}

func (s *Service) applyInvoiceEvent(ctx context.Context, eventType string, object json.RawMessage) error {
	var invoice invoiceObject
	if err := json.Unmarshal(object, &invoice); err != nil {
		return fmt.Errorf("malformed invoice object: %w", err)
	}

	sub, err := s.subscriptionForCustomer(ctx, invoice.Customer)
	if err != nil {
		return err
	}

	switch eventType {
	case "invoice.payment_succeeded":
		sub.Status = model.SubscriptionStatusActive
	case "invoice.payment_failed":
		sub.Status = model.SubscriptionStatusPastDue
	}
	sub.StripeCustomerID = invoice.Customer

	return s.store.Upsert(ctx, sub)
}

// subscriptionForCustomer resolves a customer reference to the local
// record, falling back to a provider email lookup for customers first
// seen through a webhook.
func (s *Service) subscriptionForCustomer(ctx context.Context, customerID string) (*model.Subscription, error) {
	if customerID == "" {
		return nil, fmt.Errorf("event carries no customer reference")
	}

	sub, err := s.store.FindByCustomerID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}

	customer, err := s.stripe.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("resolving customer %s: %w", customerID, err)
	}
	if customer.Email == "" {
		return nil, fmt.Errorf("customer %s carries no email", customerID)
	}

	return &model.Subscription{
		Email:            normalizeEmail(customer.Email),
		StripeCustomerID: customerID,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
