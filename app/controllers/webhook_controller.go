package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tucitasegura/payments/internal/pkg/billing"
	"github.com/tucitasegura/payments/internal/pkg/cache"
	"github.com/tucitasegura/payments/internal/pkg/claims"
	"github.com/tucitasegura/payments/internal/pkg/database"
	"github.com/tucitasegura/payments/internal/pkg/metrics/counter"
)

const webhookTimeout = 15 * time.Second

// billingProcessor is the engine surface the handlers need; the concrete
// billing.Service in production, fakes in tests.
type billingProcessor interface {
	ProcessStripeWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (*billing.Ack, error)
	ProcessPayPalWebhook(ctx context.Context, rawBody []byte, tr billing.PayPalTransmission) (*billing.Ack, error)
	ReconcileUserClaims(ctx context.Context, userID string) error
}

var (
	billingMu  sync.RWMutex
	billingSvc billingProcessor
)

// SetBillingService overrides the engine instance (used by tests and by main
// after wiring).
func SetBillingService(svc billingProcessor) {
	billingMu.Lock()
	defer billingMu.Unlock()
	billingSvc = svc
}

func getBillingService() billingProcessor {
	billingMu.RLock()
	svc := billingSvc
	billingMu.RUnlock()
	if svc != nil {
		return svc
	}

	billingMu.Lock()
	defer billingMu.Unlock()
	if billingSvc == nil {
		cfg := billing.ConfigFromEnv()
		db := database.GetDB()
		repo := billing.NewRepository(db)
		billingSvc = billing.NewService(
			cfg,
			repo,
			billing.NewLedger(db),
			claims.NewRedisStore(cache.GetClient()),
			billing.NewNormalizer(billing.NewStripeClient(cfg), repo),
			billing.NewPayPalClient(cfg),
		)
	}
	return billingSvc
}

// HandleStripeWebhook receives Stripe event deliveries. A bad signature is a
// 400; processing failures are 500 so Stripe redelivers.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	ack, err := getBillingService().ProcessStripeWebhook(ctx, rawBody, signature)
	if err != nil {
		return webhookErrorResponse(c, "stripe", err, fiber.StatusBadRequest)
	}
	countWebhook("stripe", ack)
	return c.Status(fiber.StatusOK).JSON(ackResponse(ack))
}

// HandlePayPalWebhook receives PayPal event deliveries. Verification happens
// remotely; a failed verdict is a 401, a missing webhook id configuration is
// a 500 and must never masquerade as a forgery.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	tr := billing.PayPalTransmission{
		ID:        strings.TrimSpace(c.Get("Paypal-Transmission-Id")),
		Time:      strings.TrimSpace(c.Get("Paypal-Transmission-Time")),
		Signature: strings.TrimSpace(c.Get("Paypal-Transmission-Sig")),
		CertURL:   strings.TrimSpace(c.Get("Paypal-Cert-Url")),
		AuthAlgo:  strings.TrimSpace(c.Get("Paypal-Auth-Algo")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	ack, err := getBillingService().ProcessPayPalWebhook(ctx, rawBody, tr)
	if err != nil {
		return webhookErrorResponse(c, "paypal", err, fiber.StatusUnauthorized)
	}
	countWebhook("paypal", ack)
	return c.Status(fiber.StatusOK).JSON(ackResponse(ack))
}

// countWebhook records delivery outcomes off the request path. Counters are
// advisory only; a Redis hiccup must not affect the provider's response.
func countWebhook(provider string, ack *billing.Ack) {
	outcome := counter.OutcomeReceived
	switch {
	case ack.Duplicate:
		outcome = counter.OutcomeDuplicate
	case ack.Ignored:
		outcome = counter.OutcomeIgnored
	}
	go func() {
		if err := counter.AddWebhook(provider, outcome); err != nil {
			log.Debugf("[Webhook] Counter update failed: %v", err)
		}
	}()
}

// webhookErrorResponse maps engine errors to the provider-facing status
// contract. signatureStatus differs per provider: Stripe documents 400 for
// bad signatures, PayPal deliveries are rejected with 401.
func webhookErrorResponse(c *fiber.Ctx, provider string, err error, signatureStatus int) error {
	var sigErr *billing.SignatureError
	if errors.As(err, &sigErr) {
		log.Warnf("[Webhook] Rejected %s delivery: %v", provider, err)
		go counter.AddWebhook(provider, counter.OutcomeRejected)
		return c.Status(signatureStatus).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var cfgErr *billing.ConfigError
	if errors.As(err, &cfgErr) {
		log.Errorf("[Webhook] %s configuration error: %v", provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "configuration_error"})
	}

	var unprocessable *billing.UnprocessableEventError
	if errors.As(err, &unprocessable) {
		log.Warnf("[Webhook] Malformed %s payload: %v", provider, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	log.Errorf("[Webhook] %s processing failed: %v", provider, err)
	go counter.AddWebhook(provider, counter.OutcomeFailed)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
}

func ackResponse(ack *billing.Ack) fiber.Map {
	resp := fiber.Map{"received": true}
	if ack.Duplicate {
		resp["duplicate"] = true
	}
	if ack.Ignored {
		resp["ignored"] = true
	}
	return resp
}
