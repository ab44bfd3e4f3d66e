package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeOTPLua atomically performs GET→expiry check→DEL on an OTP record.
// KEYS[1] = record key
// ARGV[1] = current unix time in milliseconds
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired"
var consumeOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local nowMs = tonumber(ARGV[1])

-- version(1) expiresAt(8 big-endian) ...
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local expiresAt = 0
for i = 2, 9 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

redis.call('DEL', KEYS[1])
if nowMs >= expiresAt then
  return {err='expired'}
end
return data
`)

// OTPStore keeps signup codes keyed by (email, code). Several codes for the
// same email may be live at once; each is consumed independently.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "aco"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *OTPStore) key(email, code string) string {
	return s.prefix + ":" + emailDigest(email) + ":" + secretDigest(email, code)
}

func (s *OTPStore) Save(ctx context.Context, email, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("otp ttl must be > 0")
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

	if err := s.redis.Set(ctx, s.key(email, code), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume deletes the record matching exactly (email, code) and returns it.
// A record past its window is removed and reported as ErrRecordExpired.
func (s *OTPStore) Consume(ctx context.Context, email, code string) (*Record, error) {
	result, err := consumeOTPLua.Run(ctx, s.redis,
		[]string{s.key(email, code)},
		s.now().UnixMilli(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrRecordNotFound
		case "expired":
			return nil, ErrRecordExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrStoreUnavailable)
	}

	record, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if record.Email != email {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// Outstanding counts live codes for email. Only used for diagnostics, so a
// full SCAN is acceptable.
func (s *OTPStore) Outstanding(ctx context.Context, email string) (int, error) {
	pattern := s.prefix + ":" + emailDigest(email) + ":*"

	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
