package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Stripe webhook event types handled by the normalizer.
const (
	stripeSubscriptionCreated = "customer.subscription.created"
	stripeSubscriptionUpdated = "customer.subscription.updated"
	stripeSubscriptionDeleted = "customer.subscription.deleted"
	stripePaymentSucceeded    = "payment_intent.succeeded"
	stripePaymentFailed       = "payment_intent.payment_failed"
	stripeInvoiceFailed       = "invoice.payment_failed"
	stripeInvoiceSucceeded    = "invoice.payment_succeeded"
)

// StripeEvent is the outer webhook envelope.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeSubscription is the subscription object shape we read from webhook
// payloads and from the subscriptions API.
type StripeSubscription struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Customer string `json:"customer"`
	Currency string `json:"currency"`
	Metadata struct {
		UserID string `json:"userId"`
		Plan   string `json:"plan"`
	} `json:"metadata"`
	Items struct {
		Data []struct {
			Price struct {
				UnitAmount int64 `json:"unit_amount"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	CancelAtPeriodEnd  bool  `json:"cancel_at_period_end"`
}

// UnitAmount returns the first subscription item's unit price in minor units.
func (s *StripeSubscription) UnitAmount() int64 {
	if len(s.Items.Data) == 0 {
		return 0
	}
	return s.Items.Data[0].Price.UnitAmount
}

type stripePaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Metadata struct {
		UserID      string `json:"userId"`
		PaymentType string `json:"paymentType"`
	} `json:"metadata"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
}

// ParseStripeEvent decodes the webhook envelope.
func ParseStripeEvent(payload []byte) (*StripeEvent, error) {
	var ev StripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid stripe event payload: %w", err)
	}
	if strings.TrimSpace(ev.Type) == "" {
		return nil, errors.New("stripe event payload missing type")
	}
	return &ev, nil
}

// VerifyStripeSignature recomputes the HMAC-SHA256 of "timestamp.payload"
// with the shared webhook secret and compares it against every v1 candidate
// in the Stripe-Signature header. The signed timestamp must be within the
// tolerance window.
func VerifyStripeSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) error {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return &SignatureError{Provider: ProviderStripe, Reason: "missing signature header or secret"}
	}

	var timestamp int64
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return &SignatureError{Provider: ProviderStripe, Reason: "malformed timestamp"}
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			candidates = append(candidates, sig)
		}
	}

	if timestamp == 0 || len(candidates) == 0 {
		return &SignatureError{Provider: ProviderStripe, Reason: "header missing timestamp or v1 signature"}
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return &SignatureError{Provider: ProviderStripe, Reason: "signed timestamp outside tolerance window"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	return &SignatureError{Provider: ProviderStripe, Reason: "no matching v1 signature"}
}

// StripeClient performs the API reads the normalizer needs (invoice events
// reference a subscription that must be fetched to resolve the user).
type StripeClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
	// MaxAttempts bounds retries of transient failures.
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewStripeClient builds a client from configuration.
func NewStripeClient(cfg Config) *StripeClient {
	return &StripeClient{
		APIKey:      cfg.StripeAPIKey,
		APIBaseURL:  strings.TrimRight(cfg.StripeAPIBaseURL, "/"),
		HTTPClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
	}
}

// GetSubscription fetches a subscription by id, retrying transient failures
// with linear backoff.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, &ConfigError{Key: "STRIPE_API_KEY"}
	}

	endpoint := c.APIBaseURL + "/v1/subscriptions/" + url.PathEscape(id)

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sub, retryable, err := c.getSubscriptionOnce(ctx, endpoint)
		if err == nil {
			return sub, nil
		}
		lastErr = err
		if !retryable || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryDelay * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("stripe subscription lookup failed: %w", lastErr)
}

func (c *StripeClient) getSubscriptionOnce(ctx context.Context, endpoint string) (*StripeSubscription, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	var sub StripeSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, false, errors.New("subscription response missing id")
	}
	return &sub, false, nil
}
