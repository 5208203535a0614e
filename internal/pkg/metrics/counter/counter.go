package counter

import (
	"context"
	"fmt"

	"github.com/tucitasegura/payments/internal/pkg/cache"
)

const webhookCountersKey = "webhook:counters"

// Outcome labels for webhook deliveries. Counters are advisory; the
// ledger remains the source of truth for processed events.
const (
	OutcomeReceived  = "received"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// AddWebhook increments the counter for a provider/outcome pair in Redis
func AddWebhook(provider string, outcome string) error {
	rdb := cache.GetClient()
	if rdb == nil {
		return nil
	}
	ctx := context.Background()
	field := fmt.Sprintf("%s:%s", provider, outcome)
	return rdb.HIncrBy(ctx, webhookCountersKey, field, 1).Err()
}

// Snapshot returns all webhook counters as provider:outcome -> count
func Snapshot(ctx context.Context) (map[string]string, error) {
	rdb := cache.GetClient()
	if rdb == nil {
		return map[string]string{}, nil
	}
	return rdb.HGetAll(ctx, webhookCountersKey).Result()
}

// Reset drops all webhook counters
func Reset(ctx context.Context) error {
	rdb := cache.GetClient()
	if rdb == nil {
		return nil
	}
	return rdb.Del(ctx, webhookCountersKey).Err()
}
