package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetTokenStore keeps password reset tokens keyed by (email, token).
// Unlike OTPs, a token is read first and deleted only after the password
// write succeeded, so Find and Delete are separate calls.
type ResetTokenStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewResetTokenStore(redisClient redis.UniversalClient, prefix string) *ResetTokenStore {
	if prefix == "" {
		prefix = "acr"
	}
	return &ResetTokenStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *ResetTokenStore) key(email, token string) string {
	return s.prefix + ":" + emailDigest(email) + ":" + secretDigest(email, token)
}

func (s *ResetTokenStore) Save(ctx context.Context, email, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("reset token ttl must be > 0")
	}

	now := s.now()
	encoded, err := encodeRecord(&Record{
		Email:     email,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(email, token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Find returns the live record for (email, token). Records past their
// window are never returned even if redis has not evicted them yet.
func (s *ResetTokenStore) Find(ctx context.Context, email, token string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(email, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	record, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record.Email != email {
		return nil, ErrRecordNotFound
	}
	if record.Expired(s.now()) {
		return nil, ErrRecordExpired
	}

	return record, nil
}

// Delete removes the record and reports whether it was still present.
func (s *ResetTokenStore) Delete(ctx context.Context, email, token string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(email, token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
