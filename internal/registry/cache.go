package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"verigate/internal/platform/redis"
	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

// GuardCache serves pre-flight uniqueness lookups. Only the advisory guard
// path reads it; conflict checks on the approval path always hit the store,
// so a stale cache can never grant an ID to two accounts.
type GuardCache interface {
	Get(ctx context.Context, nationalID id.NationalID) (*Entry, error)
	Set(ctx context.Context, entry Entry) error
}

type cachedEntry struct {
	OwnerUserID        string  `json:"owner_user_id"`
	VerificationStatus string  `json:"verification_status"`
	Provider           string  `json:"provider"`
	ConfidenceScore    float64 `json:"confidence_score"`
	ReferenceID        string  `json:"reference_id"`
}

// RedisGuardCache caches ledger entries in Redis with a TTL.
type RedisGuardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuardCache(client *redis.Client, ttl time.Duration) *RedisGuardCache {
	return &RedisGuardCache{client: client, ttl: ttl}
}

func guardKey(nationalID id.NationalID) string {
	return "registry:guard:" + nationalID.String()
}

func (c *RedisGuardCache) Get(ctx context.Context, nationalID id.NationalID) (*Entry, error) {
	raw, err := c.client.Get(ctx, guardKey(nationalID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("guard cache get: %w", err)
	}

	var cached cachedEntry
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("guard cache decode: %w", err)
	}
	owner, err := id.ParseUserID(cached.OwnerUserID)
	if err != nil {
		return nil, fmt.Errorf("guard cache owner: %w", err)
	}
	return &Entry{
		NationalID:         nationalID,
		OwnerUserID:        owner,
		VerificationStatus: models.VerificationStatus(cached.VerificationStatus),
		Provider:           models.ProviderTier(cached.Provider),
		ConfidenceScore:    cached.ConfidenceScore,
		ReferenceID:        cached.ReferenceID,
	}, nil
}

func (c *RedisGuardCache) Set(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(cachedEntry{
		OwnerUserID:        entry.OwnerUserID.String(),
		VerificationStatus: string(entry.VerificationStatus),
		Provider:           string(entry.Provider),
		ConfidenceScore:    entry.ConfidenceScore,
		ReferenceID:        entry.ReferenceID,
	})
	if err != nil {
		return fmt.Errorf("guard cache encode: %w", err)
	}
	if err := c.client.Set(ctx, guardKey(entry.NationalID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("guard cache set: %w", err)
	}
	return nil
}
