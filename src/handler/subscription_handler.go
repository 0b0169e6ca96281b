package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/auth"
	"papertrader/src/model"
	"papertrader/src/subscription"
)

type subscriptions interface {
	Status(ctx context.Context, email string) (*model.Subscription, error)
	IsEntitled(ctx context.Context, email string) (bool, error)
	CreateCheckoutSession(ctx context.Context, email, priceID, successURL, cancelURL string) (string, error)
	CancelSubscription(ctx context.Context, email string) (time.Time, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// SubscriptionStatusHandler reports the authenticated user's entitlement
// and raw subscription state.
func SubscriptionStatusHandler(svc subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		sub, err := svc.Status(r.Context(), user.Email)
		if err != nil {
			logger.WithError(err).Error("failed to load subscription")
			writeError(w, http.StatusInternalServerError, "failed to load subscription")
			return
		}

		entitled, err := svc.IsEntitled(r.Context(), user.Email)
		if err != nil {
			logger.WithError(err).Error("entitlement check failed")
			writeError(w, http.StatusInternalServerError, "entitlement check failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entitled":     entitled,
			"subscription": sub,
		})
	}
}

type checkoutRequest struct {
	PriceID    string `json:"priceId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

// CheckoutHandler opens a hosted checkout session and returns its
// redirect URL.
func CheckoutHandler(svc subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		var req checkoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		url, err := svc.CreateCheckoutSession(r.Context(), user.Email, req.PriceID, req.SuccessURL, req.CancelURL)
		if err != nil {
			logger.WithError(err).Error("failed to create checkout session")
			writeError(w, http.StatusBadGateway, "failed to create checkout session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// CancelSubscriptionHandler flags the user's subscription to lapse at
// period end.
func CancelSubscriptionHandler(svc subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		until, err := svc.CancelSubscription(r.Context(), user.Email)
		if err != nil {
			if errors.Is(err, subscription.ErrNoSubscription) {
				writeError(w, http.StatusNotFound, "no active subscription found")
				return
			}
			logger.WithError(err).Error("failed to cancel subscription")
			writeError(w, http.StatusBadGateway, "failed to cancel subscription")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"message":    "subscription canceled",
			"cancelDate": until,
		})
	}
}

// StripeWebhookHandler applies provider events. The body must be read
// raw, signature verification covers the exact bytes on the wire.
func StripeWebhookHandler(svc subscriptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		if err := svc.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
			if errors.Is(err, subscription.ErrInvalidSignature) || errors.Is(err, subscription.ErrStaleTimestamp) {
				writeError(w, http.StatusBadRequest, "signature verification failed")
				return
			}
			logger.WithError(err).Error("webhook processing failed")
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func DefaultSubscriptionStatusHandler() http.HandlerFunc {
	return SubscriptionStatusHandler(subscription.DefaultService())
}

func DefaultCheckoutHandler() http.HandlerFunc {
	return CheckoutHandler(subscription.DefaultService())
}

func DefaultCancelSubscriptionHandler() http.HandlerFunc {
	return CancelSubscriptionHandler(subscription.DefaultService())
}

func DefaultStripeWebhookHandler() http.HandlerFunc {
	return StripeWebhookHandler(subscription.DefaultService())
}
