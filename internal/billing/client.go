// Package billing talks to the external billing service over HTTP. The
// service is the authority on subscription state; nothing here is persisted
// beyond the current capability view.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/capability.space/internal/capability/entitlement"
	apperrors "github.com/louisbranch/capability.space/internal/platform/errors"
	"github.com/louisbranch/capability.space/internal/platform/timeouts"
)

// TokenSource supplies the bearer token attached to billing requests,
// typically the current session token.
type TokenSource func(ctx context.Context) (string, error)

// Client calls the billing service REST endpoints.
type Client struct {
	baseURL string
	token   TokenSource
	client  *http.Client
}

// NewClient creates a billing client for the given base URL. A nil HTTP
// client gets a default with the standard request timeout.
func NewClient(baseURL string, token TokenSource, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: timeouts.HTTPRequest}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

var _ entitlement.BillingClient = (*Client)(nil)

// subscriptionResponse mirrors the billing service subscription JSON.
type subscriptionResponse struct {
	Status             string `json:"status"`
	PriceID            string `json:"price_id"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	PaymentMethodLast4 string `json:"payment_method_last4"`
	PaymentMethodBrand string `json:"payment_method_brand"`
}

// CurrentSubscription fetches the subscription for a user. A 404 means the
// user has never subscribed and maps to StatusNone rather than an error.
func (c *Client) CurrentSubscription(ctx context.Context, userID string) (entitlement.Subscription, error) {
	url := fmt.Sprintf("%s/v1/users/%s/subscription", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return entitlement.Subscription{}, fmt.Errorf("build subscription request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return entitlement.Subscription{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entitlement.Subscription{}, apperrors.Wrap(apperrors.CodeSubscriptionUnavailable, "subscription request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return entitlement.Subscription{Status: entitlement.StatusNone}, nil
	case resp.StatusCode != http.StatusOK:
		return entitlement.Subscription{}, apperrors.New(apperrors.CodeSubscriptionUnavailable,
			fmt.Sprintf("subscription request returned %s", resp.Status))
	}

	var body subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return entitlement.Subscription{}, apperrors.Wrap(apperrors.CodeSubscriptionUnavailable, "decode subscription response", err)
	}

	sub := entitlement.Subscription{
		Status:             entitlement.Status(body.Status),
		PriceID:            body.PriceID,
		PaymentMethodLast4: body.PaymentMethodLast4,
		PaymentMethodBrand: body.PaymentMethodBrand,
	}
	if body.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.UnixMilli(body.CurrentPeriodEnd).UTC()
	}
	if sub.Status == "" {
		sub.Status = entitlement.StatusNone
	}
	return sub, nil
}

// CheckoutInput describes a checkout session request.
type CheckoutInput struct {
	PriceRef   string `json:"price_ref"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreateCheckoutSession asks the billing service for a hosted checkout URL
// to redirect the user to.
func (c *Client) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (string, error) {
	if strings.TrimSpace(input.PriceRef) == "" {
		return "", apperrors.New(apperrors.CodeCheckoutFailed, "price reference is required")
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCheckoutFailed, "encode checkout request", err)
	}

	url := c.baseURL + "/v1/checkout/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCheckoutFailed, "checkout request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apperrors.New(apperrors.CodeCheckoutFailed,
			fmt.Sprintf("checkout request returned %s", resp.Status))
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.Wrap(apperrors.CodeCheckoutFailed, "decode checkout response", err)
	}
	if body.URL == "" {
		return "", apperrors.New(apperrors.CodeCheckoutFailed, "checkout response missing redirect url")
	}
	return body.URL, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.token == nil {
		return nil
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("billing token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}
