package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PayPal webhook event types handled by the normalizer.
const (
	paypalSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	paypalSubscriptionUpdated   = "BILLING.SUBSCRIPTION.UPDATED"
	paypalSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	paypalSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	paypalSaleCompleted         = "PAYMENT.SALE.COMPLETED"
	paypalSaleDenied            = "PAYMENT.SALE.DENIED"
	paypalSaleRefunded          = "PAYMENT.SALE.REFUNDED"
	paypalAuthorizationVoided   = "PAYMENT.AUTHORIZATION.VOIDED"
)

// PayPalEvent is the outer webhook envelope.
type PayPalEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type paypalAmount struct {
	// Subscriptions use value/currency_code, sales use total/currency.
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
}

type paypalSubscriptionResource struct {
	ID          string `json:"id"`
	CustomID    string `json:"custom_id"`
	PlanID      string `json:"plan_id"`
	Status      string `json:"status"`
	BillingInfo struct {
		LastPayment struct {
			Amount paypalAmount `json:"amount"`
		} `json:"last_payment"`
		NextBillingTime string `json:"next_billing_time"`
	} `json:"billing_info"`
	StartTime string `json:"start_time"`
}

type paypalSaleResource struct {
	ID            string       `json:"id"`
	Custom        string       `json:"custom"`
	Description   string       `json:"description"`
	State         string       `json:"state"`
	Amount        paypalAmount `json:"amount"`
	ParentPayment string       `json:"parent_payment"`
}

type paypalAuthorizationResource struct {
	ID            string       `json:"id"`
	CustomID      string       `json:"custom_id"`
	Custom        string       `json:"custom"`
	Amount        paypalAmount `json:"amount"`
	ParentPayment string       `json:"parent_payment"`
}

// ParsePayPalEvent decodes the webhook envelope.
func ParsePayPalEvent(payload []byte) (*PayPalEvent, error) {
	var ev PayPalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid paypal event payload: %w", err)
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return nil, errors.New("paypal event payload missing event_type")
	}
	return &ev, nil
}

// PayPalTransmission bundles the five verification headers PayPal sends with
// every webhook delivery.
type PayPalTransmission struct {
	ID        string
	Time      string
	Signature string
	CertURL   string
	AuthAlgo  string
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// PayPalClient talks to PayPal's OAuth and webhook verification endpoints.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	WebhookID    string

	HTTPClient *http.Client
}

// NewPayPalClient builds a client from configuration.
func NewPayPalClient(cfg Config) *PayPalClient {
	return &PayPalClient{
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		APIBaseURL:   strings.TrimRight(cfg.PayPalAPIBaseURL, "/"),
		WebhookID:    cfg.PayPalWebhookID,
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// GetAccessToken performs the client-credentials token exchange.
func (c *PayPalClient) GetAccessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return "", &ConfigError{Key: "PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out paypalTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token exchange returned empty access_token")
	}
	return out.AccessToken, nil
}

// VerifyWebhookSignature asks PayPal to verify an inbound delivery against
// the pre-registered webhook id. Anything but a SUCCESS verdict is a
// SignatureError; a missing webhook id is a ConfigError and must not be
// mistaken for a forgery.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, tr PayPalTransmission, rawBody []byte) error {
	if strings.TrimSpace(c.WebhookID) == "" {
		return &ConfigError{Key: "PAYPAL_WEBHOOK_ID"}
	}
	if tr.ID == "" || tr.Time == "" || tr.Signature == "" || tr.CertURL == "" || tr.AuthAlgo == "" {
		return &SignatureError{Provider: ProviderPayPal, Reason: "missing transmission headers"}
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"transmission_id":   tr.ID,
		"transmission_time": tr.Time,
		"transmission_sig":  tr.Signature,
		"cert_url":          tr.CertURL,
		"auth_algo":         tr.AuthAlgo,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(rawBody),
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.APIBaseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paypal signature verification call failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		return &SignatureError{Provider: ProviderPayPal, Reason: "verification_status=" + out.VerificationStatus}
	}
	return nil
}
