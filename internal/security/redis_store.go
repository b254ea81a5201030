package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vantive/pulse/pkg/redis"
)

// RedisLockoutStore keeps lockouts as TTL keys so they expire on their own.
type RedisLockoutStore struct {
	cache *redis.Cache
}

func NewRedisLockoutStore(cache *redis.Cache) *RedisLockoutStore {
	return &RedisLockoutStore{cache: cache}
}

func (s *RedisLockoutStore) Lock(ctx context.Context, subject string, ttl time.Duration) error {
	return s.cache.Set(ctx, "lockout", subject, true, ttl)
}

func (s *RedisLockoutStore) IsLocked(ctx context.Context, subject string) (bool, error) {
	return s.cache.Exists(ctx, "lockout", subject)
}

// RedisVelocityStore counts transactions per user in rolling one-hour
// buckets keyed by the current hour.
type RedisVelocityStore struct {
	cache *redis.Cache
	now   func() time.Time
}

func NewRedisVelocityStore(cache *redis.Cache) *RedisVelocityStore {
	return &RedisVelocityStore{cache: cache, now: time.Now}
}

func (s *RedisVelocityStore) bucket(userID string) string {
	return fmt.Sprintf("%s:%s", userID, s.now().UTC().Format("2006010215"))
}

func (s *RedisVelocityStore) Increment(ctx context.Context, userID string) (int64, error) {
	return s.cache.Increment(ctx, "velocity", s.bucket(userID), time.Hour)
}

func (s *RedisVelocityStore) Count(ctx context.Context, userID string) (int64, error) {
	return s.cache.Counter(ctx, "velocity", s.bucket(userID))
}

// RedisProfileStore caches risk profiles for thirty days past last update.
type RedisProfileStore struct {
	cache *redis.Cache
}

func NewRedisProfileStore(cache *redis.Cache) *RedisProfileStore {
	return &RedisProfileStore{cache: cache}
}

func (s *RedisProfileStore) Get(ctx context.Context, userID string) (*RiskProfile, error) {
	var profile RiskProfile
	err := s.cache.Get(ctx, "risk_profile", userID, &profile)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *RedisProfileStore) Save(ctx context.Context, profile *RiskProfile) error {
	return s.cache.Set(ctx, "risk_profile", profile.UserID, profile, 30*24*time.Hour)
}
