package subscription

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/src/model"
)

type fakeStripe struct {
	session      *CheckoutSession
	sessionErr   error
	canceled     *StripeSubscription
	cancelCalls  int
	customers    map[string]*StripeCustomer
	customerErrs map[string]error
}

func (f *fakeStripe) CreateCheckoutSession(ctx context.Context, email, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeStripe) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	f.cancelCalls++
	return f.canceled, nil
}

func (f *fakeStripe) GetCustomer(ctx context.Context, customerID string) (*StripeCustomer, error) {
	if err := f.customerErrs[customerID]; err != nil {
		return nil, err
	}
	if c, ok := f.customers[customerID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("unknown customer %s", customerID)
}

type memSubStore struct {
	byEmail map[string]*model.Subscription
}

func newMemSubStore() *memSubStore {
	return &memSubStore{byEmail: make(map[string]*model.Subscription)}
}

func (m *memSubStore) FindByEmail(ctx context.Context, email string) (*model.Subscription, error) {
	return m.byEmail[email], nil
}

func (m *memSubStore) FindByCustomerID(ctx context.Context, customerID string) (*model.Subscription, error) {
	for _, sub := range m.byEmail {
		if sub.StripeCustomerID == customerID {
			return sub, nil
		}
	}
	return nil, nil
}

func (m *memSubStore) Upsert(ctx context.Context, sub *model.Subscription) error {
	copied := *sub
	m.byEmail[sub.Email] = &copied
	return nil
}

func testConfig() Config {
	return Config{
		StripeWebhookSecret: "whsec_test",
		DefaultPriceID:      "price_default",
		WebhookTolerance:    5 * time.Minute,
	}
}

func TestIsEntitled(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		sub  *model.Subscription
		want bool
	}{
		{"no record", nil, false},
		{"active future period", &model.Subscription{Status: model.SubscriptionStatusActive, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"trialing", &model.Subscription{Status: model.SubscriptionStatusTrialing, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active no period end", &model.Subscription{Status: model.SubscriptionStatusActive}, true},
		{"cancel at period end still inside period", &model.Subscription{Status: model.SubscriptionStatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: now.Add(time.Hour)}, true},
		{"active but period lapsed", &model.Subscription{Status: model.SubscriptionStatusActive, CurrentPeriodEnd: now.Add(-time.Hour)}, false},
		{"canceled", &model.Subscription{Status: model.SubscriptionStatusCanceled, CurrentPeriodEnd: now.Add(time.Hour)}, false},
		{"past due", &model.Subscription{Status: model.SubscriptionStatusPastDue, CurrentPeriodEnd: now.Add(time.Hour)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemSubStore()
			if tc.sub != nil {
				tc.sub.Email = "user@example.com"
				store.byEmail["user@example.com"] = tc.sub
			}
			svc := NewService(&fakeStripe{}, store, testConfig())
			svc.now = func() time.Time { return now }

			got, err := svc.IsEntitled(context.Background(), "User@Example.com")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCreateCheckoutSessionReturnsRedirectURL(t *testing.T) {
	stripe := &fakeStripe{session: &CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}}
	svc := NewService(stripe, newMemSubStore(), testConfig())

	url, err := svc.CreateCheckoutSession(context.Background(), "user@example.com", "", "https://app/success", "https://app/cancel")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.test/cs_1", url)
}

func TestCreateCheckoutSessionRequiresURLs(t *testing.T) {
	svc := NewService(&fakeStripe{}, newMemSubStore(), testConfig())

	_, err := svc.CreateCheckoutSession(context.Background(), "user@example.com", "price_1", "", "")
	require.Error(t, err)
}

func TestCancelSubscriptionWithoutRecord(t *testing.T) {
	svc := NewService(&fakeStripe{}, newMemSubStore(), testConfig())

	_, err := svc.CancelSubscription(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestCancelSubscriptionFlagsPeriodEnd(t *testing.T) {
	periodEnd := time.Now().Add(20 * 24 * time.Hour).Truncate(time.Second)
	stripe := &fakeStripe{canceled: &StripeSubscription{
		ID:                "sub_1",
		Status:            model.SubscriptionStatusActive,
		CurrentPeriodEnd:  periodEnd.Unix(),
		CancelAtPeriodEnd: true,
	}}
	store := newMemSubStore()
	store.byEmail["user@example.com"] = &model.Subscription{
		Email:                "user@example.com",
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		Status:               model.SubscriptionStatusActive,
	}
	svc := NewService(stripe, store, testConfig())

	until, err := svc.CancelSubscription(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, periodEnd.Unix(), until.Unix())
	assert.Equal(t, 1, stripe.cancelCalls)

	stored := store.byEmail["user@example.com"]
	assert.True(t, stored.CancelAtPeriodEnd)
	assert.Equal(t, model.SubscriptionStatusActive, stored.Status)
}

func signedWebhook(t *testing.T, svc *Service, payload string) ([]byte, string) {
	t.Helper()
	body := []byte(payload)
	return body, SignPayload(body, "whsec_test", svc.now())
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc := NewService(&fakeStripe{}, newMemSubStore(), testConfig())

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "t=123,v1=deadbeef")
	assert.Error(t, err)
}

func TestHandleWebhookCheckoutCompleted(t *testing.T) {
	store := newMemSubStore()
	svc := NewService(&fakeStripe{}, store, testConfig())

	body, sig := signedWebhook(t, svc, `{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"customer": "cus_1",
			"subscription": "sub_1",
			"customer_details": {"email": "User@Example.com"}
		}}
	}`)

	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))

	sub := store.byEmail["user@example.com"]
	require.NotNil(t, sub)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
	assert.Equal(t, model.SubscriptionStatusActive, sub.Status)
}

func TestHandleWebhookSubscriptionUpdated(t *testing.T) {
	store := newMemSubStore()
	store.byEmail["user@example.com"] = &model.Subscription{
		Email:            "user@example.com",
		StripeCustomerID: "cus_1",
		Status:           model.SubscriptionStatusActive,
	}
	svc := NewService(&fakeStripe{}, store, testConfig())

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	body, sig := signedWebhook(t, svc, fmt.Sprintf(`{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"current_period_end": %d,
			"cancel_at_period_end": false
		}}
	}`, periodEnd))

	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))

	sub := store.byEmail["user@example.com"]
	assert.Equal(t, model.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, periodEnd, sub.CurrentPeriodEnd.Unix())
}

func TestHandleWebhookSubscriptionDeleted(t *testing.T) {
	store := newMemSubStore()
	store.byEmail["user@example.com"] = &model.Subscription{
		Email:            "user@example.com",
		StripeCustomerID: "cus_1",
		Status:           model.SubscriptionStatusActive,
	}
	svc := NewService(&fakeStripe{}, store, testConfig())

	body, sig := signedWebhook(t, svc, `{
		"id": "evt_3",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "customer": "cus_1", "status": "canceled"}}
	}`)

	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))
	assert.Equal(t, model.SubscriptionStatusCanceled, store.byEmail["user@example.com"].Status)
}

func TestHandleWebhookResolvesUnknownCustomerByEmail(t *testing.T) {
	store := newMemSubStore()
	stripe := &fakeStripe{customers: map[string]*StripeCustomer{
		"cus_new": {ID: "cus_new", Email: "fresh@example.com"},
	}}
	svc := NewService(stripe, store, testConfig())

	body, sig := signedWebhook(t, svc, `{
		"id": "evt_4",
		"type": "customer.subscription.created",
		"data": {"object": {"id": "sub_9", "customer": "cus_new", "status": "trialing"}}
	}`)

	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))

	sub := store.byEmail["fresh@example.com"]
	require.NotNil(t, sub)
	assert.Equal(t, model.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, "cus_new", sub.StripeCustomerID)
}

func TestHandleWebhookInvoiceEvents(t *testing.T) {
	store := newMemSubStore()
	store.byEmail["user@example.com"] = &model.Subscription{
		Email:            "user@example.com",
		StripeCustomerID: "cus_1",
		Status:           model.SubscriptionStatusActive,
	}
	svc := NewService(&fakeStripe{}, store, testConfig())

	body, sig := signedWebhook(t, svc, `{
		"id": "evt_5",
		"type": "invoice.payment_failed",
		"data": {"object": {"customer": "cus_1"}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))
	assert.Equal(t, model.SubscriptionStatusPastDue, store.byEmail["user@example.com"].Status)

	body, sig = signedWebhook(t, svc, `{
		"id": "evt_6",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"customer": "cus_1"}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), body, sig))
	assert.Equal(t, model.SubscriptionStatusActive, store.byEmail["user@example.com"].Status)
}

func TestHandleWebhookIgnoresUnknownEvents(t *testing.T) {
	svc := NewService(&fakeStripe{}, newMemSubStore(), testConfig())

	body, sig := signedWebhook(t, svc, `{"id": "evt_7", "type": "charge.refunded", "data": {"object": {}}}`)
	assert.NoError(t, svc.HandleWebhook(context.Background(), body, sig))
}

func TestHandleWebhookFailurePropagates(t *testing.T) {
	stripe := &fakeStripe{customerErrs: map[string]error{"cus_x": errors.New("stripe down")}}
	svc := NewService(stripe, newMemSubStore(), testConfig())

	body, sig := signedWebhook(t, svc, `{
		"id": "evt_8",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "customer": "cus_x", "status": "active"}}
	}`)
	assert.Error(t, svc.HandleWebhook(context.Background(), body, sig))
}
