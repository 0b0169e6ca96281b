package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// CheckoutSession is the slice of Stripe's checkout session object the
// application needs: the id for reference and the hosted redirect URL.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeSubscription mirrors the subscription fields the webhook and
// cancel flows read. CurrentPeriodEnd is a unix timestamp.
type StripeSubscription struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

// StripeCustomer carries the email lookup for customer references.
type StripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StripeError is a typed failure from the payment provider's API.
type StripeError struct {
	Status  int
	Type    string
	Message string
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe: %s (%d): %s", e.Type, e.Status, e.Message)
}

// StripeClient is a minimal REST client for the payment provider. The
// API is form-encoded on the way in and JSON on the way out.
type StripeClient struct {
	http *resty.Client
}

func NewStripeClient(cfg Config) *StripeClient {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.StripeBaseURL, "/")).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Authorization", "Bearer "+cfg.StripeSecretKey).
		SetHeader("Stripe-Version", "2023-10-16")

	return &StripeClient{http: httpClient}
}

// WithHTTP overrides the underlying resty client. Useful for tests.
func (c *StripeClient) WithHTTP(http *resty.Client) *StripeClient {
	return &StripeClient{http: http}
}

func checkStripeResponse(resp *resty.Response, body *stripeErrorBody) error {
	if !resp.IsError() {
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"component": "stripe",
		"status":    resp.StatusCode(),
		"url":       resp.Request.URL,
	}).Warn("Payment provider returned an error")

	return &StripeError{
		Status:  resp.StatusCode(),
		Type:    body.Error.Type,
		Message: body.Error.Message,
	}
}

// CreateCheckoutSession opens a hosted subscription checkout and returns
// the session with its redirect URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, email, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	var (
		session CheckoutSession
		apiErr  stripeErrorBody
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"mode":                       "subscription",
			"payment_method_types[0]":    "card",
			"line_items[0][price]":       priceID,
			"line_items[0][quantity]":    "1",
			"success_url":                successURL,
			"cancel_url":                 cancelURL,
			"customer_email":             email,
			"allow_promotion_codes":      "true",
			"billing_address_collection": "required",
		}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("checkout session request: %w", err)
	}
	if err := checkStripeResponse(resp, &apiErr); err != nil {
		return nil, err
	}

	return &session, nil
}

// CancelAtPeriodEnd flags the subscription to lapse when the paid period
// runs out, instead of cutting access immediately.
func (c *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	var (
		sub    StripeSubscription
		apiErr stripeErrorBody
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"cancel_at_period_end": "true"}).
		SetResult(&sub).
		SetError(&apiErr).
		Post("/v1/subscriptions/" + subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription request: %w", err)
	}
	if err := checkStripeResponse(resp, &apiErr); err != nil {
		return nil, err
	}

	return &sub, nil
}

// GetCustomer resolves a customer reference to its email. Webhook
// subscription events only carry the customer id.
func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*StripeCustomer, error) {
	var (
		customer StripeCustomer
		apiErr   stripeErrorBody
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&customer).
		SetError(&apiErr).
		Get("/v1/customers/" + customerID)
	if err != nil {
		return nil, fmt.Errorf("customer request: %w", err)
	}
	if err := checkStripeResponse(resp, &apiErr); err != nil {
		return nil, err
	}

	return &customer, nil
}
