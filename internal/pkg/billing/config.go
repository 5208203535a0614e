package billing

import (
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tucitasegura/payments/internal/pkg/env"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com"
	defaultPayPalAPIBaseURL = "https://api-m.paypal.com"

	// Stripe documents a 5 minute tolerance window for signed timestamps.
	defaultSignatureTolerance = 5 * time.Minute

	defaultHTTPTimeout = 15 * time.Second

	// Minimum anti-ghosting deposit in EUR.
	defaultInsuranceMinimum = 120.0
)

// Config carries all provider credentials and engine tuning. It is validated
// at startup; a missing PayPal webhook id is a fatal configuration error, not
// something to discover on the first forged-looking request.
type Config struct {
	StripeWebhookSecret      string `validate:"required"`
	StripeAPIKey             string `validate:"required"`
	StripeAPIBaseURL         string `validate:"required,url"`
	StripeSignatureTolerance time.Duration

	PayPalClientID     string `validate:"required"`
	PayPalClientSecret string `validate:"required"`
	PayPalAPIBaseURL   string `validate:"required,url"`
	PayPalWebhookID    string `validate:"required"`

	HTTPTimeout        time.Duration
	InsuranceMinAmount float64
}

// ConfigFromEnv builds the billing configuration from environment variables.
func ConfigFromEnv() Config {
	return Config{
		StripeWebhookSecret:      env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIKey:             env.GetEnv("STRIPE_API_KEY", ""),
		StripeAPIBaseURL:         env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL),
		StripeSignatureTolerance: defaultSignatureTolerance,
		PayPalClientID:           env.GetEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret:       env.GetEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalAPIBaseURL:         env.GetEnv("PAYPAL_API_BASE_URL", defaultPayPalAPIBaseURL),
		PayPalWebhookID:          env.GetEnv("PAYPAL_WEBHOOK_ID", ""),
		HTTPTimeout:              defaultHTTPTimeout,
		InsuranceMinAmount:       insuranceMinFromEnv(),
	}
}

func insuranceMinFromEnv() float64 {
	raw := env.GetEnv("INSURANCE_DEPOSIT_MIN", "")
	if raw == "" {
		return defaultInsuranceMinimum
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return defaultInsuranceMinimum
	}
	return parsed
}

// Validate checks the configuration for completeness.
func (c Config) Validate() error {
	v := validator.New()

	return v.Struct(c)
}
