package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tucitasegura/payments/app/models"
)

const keyPrefix = "claims:"

// Claim names owned by this engine. Everything else in a user's claims
// document (role, gender, future additions) belongs to the platform and is
// preserved verbatim on every write.
const (
	ClaimHasActiveSubscription    = "hasActiveSubscription"
	ClaimHasAntiGhostingInsurance = "hasAntiGhostingInsurance"
	ClaimRole                     = "role"
	ClaimGender                   = "gender"
)

// Flags are the two engine-owned booleans mirrored into the authorization
// snapshot consumed by the declarative access-control rules.
type Flags struct {
	HasActiveSubscription    bool
	HasAntiGhostingInsurance bool
}

// Derive recomputes the flags from the authoritative entitlement record.
func Derive(u *models.User) Flags {
	return Flags{
		HasActiveSubscription:    u.MembershipStatus == models.MembershipActive,
		HasAntiGhostingInsurance: u.InsuranceStatus == models.InsuranceActive,
	}
}

// Store is the authorization snapshot the identity layer reads. The snapshot
// may lag the entitlement record but must never run ahead of it, so callers
// write it only after the record write has committed.
type Store interface {
	Sync(ctx context.Context, userID string, flags Flags) error
	SyncAll(ctx context.Context, u *models.User) error
	Get(ctx context.Context, userID string) (map[string]interface{}, error)
}

// RedisStore keeps one JSON claims document per user.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a claims store on the shared Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) load(ctx context.Context, userID string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, keyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]interface{}{}, nil
		}
		return nil, err
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// A corrupt document is replaced rather than left poisoning reads.
		return map[string]interface{}{}, nil
	}
	return doc, nil
}

func (s *RedisStore) save(ctx context.Context, userID string, doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+userID, raw, 0).Err()
}

// Sync read-modify-writes the two engine-owned flags, preserving all other
// claims.
func (s *RedisStore) Sync(ctx context.Context, userID string, flags Flags) error {
	doc, err := s.load(ctx, userID)
	if err != nil {
		return fmt.Errorf("load claims for %s: %w", userID, err)
	}
	doc[ClaimHasActiveSubscription] = flags.HasActiveSubscription
	doc[ClaimHasAntiGhostingInsurance] = flags.HasAntiGhostingInsurance
	return s.save(ctx, userID, doc)
}

// SyncAll rewrites the engine flags plus the role/gender claims from the
// record. Used by the full reconciliation sweep; unknown claims are still
// preserved.
func (s *RedisStore) SyncAll(ctx context.Context, u *models.User) error {
	doc, err := s.load(ctx, u.ID)
	if err != nil {
		return fmt.Errorf("load claims for %s: %w", u.ID, err)
	}
	flags := Derive(u)
	doc[ClaimHasActiveSubscription] = flags.HasActiveSubscription
	doc[ClaimHasAntiGhostingInsurance] = flags.HasAntiGhostingInsurance
	if u.Role != "" {
		doc[ClaimRole] = u.Role
	}
	if u.Gender != "" {
		doc[ClaimGender] = u.Gender
	}
	return s.save(ctx, u.ID, doc)
}

// Get returns the full claims document for a user.
func (s *RedisStore) Get(ctx context.Context, userID string) (map[string]interface{}, error) {
	return s.load(ctx, userID)
}
