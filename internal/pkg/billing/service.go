package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/tucitasegura/payments/app/models"
	"github.com/tucitasegura/payments/internal/pkg/claims"
	"github.com/tucitasegura/payments/internal/pkg/mail"
)

// PayPalVerifier authenticates an inbound PayPal delivery. In production this
// is the PayPalClient; tests substitute a fake.
type PayPalVerifier interface {
	VerifyWebhookSignature(ctx context.Context, tr PayPalTransmission, rawBody []byte) error
}

// Ack is the engine's verdict on an accepted notification.
type Ack struct {
	// Duplicate means the (provider, event id) pair was already reserved or
	// processed; the provider receives a success so it stops redelivering.
	Duplicate bool
	// Ignored means the event was acknowledged without mutation (unknown
	// type or unprocessable payload).
	Ignored bool
}

// Service runs the reconciliation pipeline: verify, reserve, normalize,
// apply, propagate claims, confirm.
type Service struct {
	cfg        Config
	repo       Repository
	ledger     Ledger
	claims     claims.Store
	normalizer *Normalizer
	paypal     PayPalVerifier

	now func() time.Time
}

// NewService wires the engine from its injected collaborators.
func NewService(cfg Config, repo Repository, ledger Ledger, claimsStore claims.Store, normalizer *Normalizer, paypal PayPalVerifier) *Service {
	return &Service{
		cfg:        cfg,
		repo:       repo,
		ledger:     ledger,
		claims:     claimsStore,
		normalizer: normalizer,
		paypal:     paypal,
		now:        time.Now,
	}
}

// ProcessStripeWebhook handles one raw Stripe delivery end to end.
func (s *Service) ProcessStripeWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (*Ack, error) {
	if err := VerifyStripeSignature(rawBody, signatureHeader, s.cfg.StripeWebhookSecret, s.cfg.StripeSignatureTolerance, s.now()); err != nil {
		return nil, err
	}

	ev, err := ParseStripeEvent(rawBody)
	if err != nil {
		return nil, &UnprocessableEventError{EventType: "stripe", Reason: err.Error()}
	}

	eventID := strings.TrimSpace(ev.ID)
	if eventID == "" {
		eventID = FallbackEventID(rawBody)
	}

	return s.process(ctx, ProviderStripe, eventID, ev.Type, func(ctx context.Context) ([]EntitlementEvent, error) {
		return s.normalizer.NormalizeStripe(ctx, ev)
	})
}

// ProcessPayPalWebhook handles one raw PayPal delivery end to end.
func (s *Service) ProcessPayPalWebhook(ctx context.Context, rawBody []byte, tr PayPalTransmission) (*Ack, error) {
	if err := s.paypal.VerifyWebhookSignature(ctx, tr, rawBody); err != nil {
		return nil, err
	}

	ev, err := ParsePayPalEvent(rawBody)
	if err != nil {
		return nil, &UnprocessableEventError{EventType: "paypal", Reason: err.Error()}
	}

	eventID := strings.TrimSpace(ev.ID)
	if eventID == "" {
		eventID = FallbackEventID(rawBody)
	}

	return s.process(ctx, ProviderPayPal, eventID, ev.EventType, func(ctx context.Context) ([]EntitlementEvent, error) {
		return s.normalizer.NormalizePayPal(ctx, ev)
	})
}

// process runs the shared reserve/normalize/apply/confirm pipeline.
// Verification has already succeeded when this is called.
func (s *Service) process(ctx context.Context, provider, eventID, eventType string, normalize func(context.Context) ([]EntitlementEvent, error)) (*Ack, error) {
	created, entry, err := s.ledger.Reserve(ctx, provider, eventID, eventType)
	if err != nil {
		return nil, fmt.Errorf("ledger reservation failed: %w", err)
	}
	if !created {
		// Already reserved: either fully processed, or a concurrent delivery
		// holds the reservation. Either way, ack so the provider backs off;
		// the holder releases on failure and the provider retries.
		log.Infof("[Billing] Duplicate %s event %s (%s), acknowledging", provider, eventID, eventType)
		return &Ack{Duplicate: true}, nil
	}

	events, err := normalize(ctx)
	if err != nil {
		var unprocessable *UnprocessableEventError
		if errors.As(err, &unprocessable) {
			// Known event we cannot act on: acknowledged so the provider
			// stops redelivering, but flagged loudly for operators.
			log.Warnf("[Billing] Unprocessable %s event %s: %v", provider, eventID, err)
			if cerr := s.ledger.Confirm(ctx, entry.ID, err.Error()); cerr != nil {
				log.Errorf("[Billing] Failed to confirm ledger entry %d: %v", entry.ID, cerr)
			}
			return &Ack{Ignored: true}, nil
		}
		// Normalization failed before any authoritative write (e.g. the
		// subscription lookup); release so the provider's retry can succeed.
		s.release(ctx, entry.ID)
		return nil, err
	}

	if len(events) == 0 {
		log.Debugf("[Billing] Ignoring %s event type %s", provider, eventType)
		if cerr := s.ledger.Confirm(ctx, entry.ID, ""); cerr != nil {
			log.Errorf("[Billing] Failed to confirm ledger entry %d: %v", entry.ID, cerr)
		}
		return &Ack{Ignored: true}, nil
	}

	// All events of one delivery targeting the same user commit in a single
	// transaction. A failure anywhere rolls the whole delivery back, so the
	// provider's retry replays it from scratch without duplicating audit rows.
	for _, group := range groupEventsByUser(events) {
		evs := group.events
		updated, err := s.repo.UpdateUserEntitlements(ctx, group.userID, func(current *models.User) ([]*ApplyResult, error) {
			results := make([]*ApplyResult, 0, len(evs))
			state := current
			for _, ev := range evs {
				res, err := Apply(ev, state, s.now())
				if err != nil {
					return nil, err
				}
				if res.InsuranceLog != nil && ev.Kind == KindInsuranceActivated &&
					s.cfg.InsuranceMinAmount > 0 && ev.Amount < s.cfg.InsuranceMinAmount {
					// Deposit policy: entitlement is granted, the shortfall
					// is flagged for operator follow-up.
					res.InsuranceLog.BelowMinimum = true
					log.Warnf("[Billing] Insurance deposit %.2f below minimum %.2f for user %s", ev.Amount, s.cfg.InsuranceMinAmount, ev.UserID)
				}
				results = append(results, res)
				state = res.User
			}
			return results, nil
		})
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				log.Warnf("[Billing] %s event %s references unknown user %s, acknowledging without mutation", provider, eventID, group.userID)
				if cerr := s.ledger.Confirm(ctx, entry.ID, err.Error()); cerr != nil {
					log.Errorf("[Billing] Failed to confirm ledger entry %d: %v", entry.ID, cerr)
				}
				return &Ack{Ignored: true}, nil
			}
			// The entitlement write is the authoritative one; if it fails the
			// provider must retry, so give back the reservation.
			s.release(ctx, entry.ID)
			return nil, fmt.Errorf("apply events for user %s: %w", group.userID, err)
		}

		// The record write has committed; the snapshot may lag but never
		// leads, so a sync failure here is logged and left to the
		// reconciliation sweep.
		if err := s.claims.Sync(ctx, updated.ID, claims.Derive(updated)); err != nil {
			log.Warnf("[Billing] Claims sync for %s failed (will self-heal): %v", updated.ID, err)
		}

		for _, ev := range evs {
			if ev.Kind == KindPaymentFailed && mail.Enabled() && updated.Email != "" {
				if merr := mail.SendPaymentFailed(updated.Email, ev.Reason); merr != nil {
					log.Warnf("[Billing] Payment failure mail to %s not sent: %v", updated.ID, merr)
				}
			}
		}
	}

	if err := s.ledger.Confirm(ctx, entry.ID, ""); err != nil {
		log.Errorf("[Billing] Failed to confirm ledger entry %d: %v", entry.ID, err)
	}
	return &Ack{}, nil
}

type userEventGroup struct {
	userID string
	events []EntitlementEvent
}

// groupEventsByUser keeps one delivery's events per user together, preserving
// first-appearance order.
func groupEventsByUser(events []EntitlementEvent) []userEventGroup {
	var groups []userEventGroup
	index := map[string]int{}
	for _, ev := range events {
		i, ok := index[ev.UserID]
		if !ok {
			i = len(groups)
			index[ev.UserID] = i
			groups = append(groups, userEventGroup{userID: ev.UserID})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}

func (s *Service) release(ctx context.Context, entryID uint) {
	if err := s.ledger.Release(ctx, entryID); err != nil {
		log.Errorf("[Billing] Failed to release ledger reservation %d: %v", entryID, err)
	}
}

// ReconcileUserClaims re-derives the authorization snapshot from the
// entitlement record for one user.
func (s *Service) ReconcileUserClaims(ctx context.Context, userID string) error {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.claims.SyncAll(ctx, u)
}

// ReconcileAllClaims sweeps every user and rewrites their snapshot, bounding
// how stale a lagging cache can get. Returns the number of users synced.
func (s *Service) ReconcileAllClaims(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	synced := 0
	after := ""
	for {
		ids, err := s.repo.ListUserIDs(ctx, after, pageSize)
		if err != nil {
			return synced, err
		}
		if len(ids) == 0 {
			return synced, nil
		}
		for _, id := range ids {
			if err := s.ReconcileUserClaims(ctx, id); err != nil {
				log.Warnf("[Billing] Claims reconcile for %s failed: %v", id, err)
				continue
			}
			synced++
		}
		after = ids[len(ids)-1]
	}
}
