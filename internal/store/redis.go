package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/idgate/internal/core"
	"github.com/go-authgate/idgate/internal/models"

	"github.com/redis/go-redis/v9"
)

// Redis key types
const (
	keyTypeAuthCode     = "code"
	keyTypeRefreshToken = "refresh"
	keyTypeConsent      = "consent"
	keyTypeUsed         = "used"
	keyTypeRevoked      = "revoked"
)

// RedisSessionStore keeps codes, refresh tokens and consents in Redis with
// native TTLs. Single-use consumption sets a per-record marker key inside a
// Lua script.
type RedisSessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ core.SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates a session store on top of an existing client.
func NewRedisSessionStore(client redis.UniversalClient, keyPrefix string) *RedisSessionStore {
	if keyPrefix == "" {
		keyPrefix = "idgate:"
	}
	return &RedisSessionStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisSessionStore) key(keyType string, parts ...string) string {
	k := s.keyPrefix + keyType
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// ttlUntil returns the remaining lifetime of a record, never less than one second
// so an already-expired record is still observable as expired.
func ttlUntil(expiresAt time.Time) time.Duration {
	return max(time.Until(expiresAt), time.Second)
}

func (s *RedisSessionStore) put(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisSessionStore) get(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// markerTime reads an optional marker key holding an RFC 3339 timestamp.
func (s *RedisSessionStore) markerTime(ctx context.Context, key string) (*time.Time, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// consumeScript claims KEYS[1] by writing the marker KEYS[2] with the
// record's remaining TTL. An optional KEYS[3] revocation marker blocks the
// claim. Returns -1 when the record is gone, 0 when already used or revoked.
var consumeScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  return -1
end
if ttl == 0 then
  ttl = 1000
end
if #KEYS > 2 and redis.call('EXISTS', KEYS[3]) == 1 then
  return 0
end
if redis.call('SET', KEYS[2], ARGV[1], 'PX', ttl, 'NX') then
  return 1
end
return 0
`)

// consume atomically claims recordKey. Only the first caller succeeds.
func (s *RedisSessionStore) consume(ctx context.Context, recordKey, usedKey, revokedKey string, now time.Time) error {
	keys := []string{recordKey, usedKey}
	if revokedKey != "" {
		keys = append(keys, revokedKey)
	}
	res, err := consumeScript.Run(ctx, s.client, keys, now.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", recordKey, err)
	}
	switch res {
	case -1:
		return ErrRecordNotFound
	case 0:
		return ErrAuthCodeAlreadyUsed
	}
	return nil
}

// Authorization codes

func (s *RedisSessionStore) CreateAuthorizationCode(ctx context.Context, code *models.AuthorizationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	key := s.key(keyTypeAuthCode, code.CodeHash)
	ok, err := s.client.SetNX(ctx, key, data, ttlUntil(code.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return errors.New("authorization code already exists")
	}
	return nil
}

func (s *RedisSessionStore) GetAuthorizationCode(ctx context.Context, codeHash string) (*models.AuthorizationCode, error) {
	var code models.AuthorizationCode
	if err := s.get(ctx, s.key(keyTypeAuthCode, codeHash), &code); err != nil {
		return nil, err
	}
	usedAt, err := s.markerTime(ctx, s.key(keyTypeUsed, keyTypeAuthCode, codeHash))
	if err != nil {
		return nil, fmt.Errorf("failed to check code usage: %w", err)
	}
	code.UsedAt = usedAt
	return &code, nil
}

func (s *RedisSessionStore) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) error {
	return s.consume(ctx,
		s.key(keyTypeAuthCode, codeHash),
		s.key(keyTypeUsed, keyTypeAuthCode, codeHash),
		"",
		now,
	)
}

// Refresh tokens

func (s *RedisSessionStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	return s.put(ctx, s.key(keyTypeRefreshToken, token.TokenHash), token, ttlUntil(token.ExpiresAt))
}

func (s *RedisSessionStore) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token models.RefreshToken
	if err := s.get(ctx, s.key(keyTypeRefreshToken, tokenHash), &token); err != nil {
		return nil, err
	}
	usedAt, err := s.markerTime(ctx, s.key(keyTypeUsed, keyTypeRefreshToken, tokenHash))
	if err != nil {
		return nil, fmt.Errorf("failed to check refresh token usage: %w", err)
	}
	revokedAt, err := s.markerTime(ctx, s.key(keyTypeRevoked, tokenHash))
	if err != nil {
		return nil, fmt.Errorf("failed to check refresh token revocation: %w", err)
	}
	token.UsedAt = usedAt
	token.RevokedAt = revokedAt
	return &token, nil
}

func (s *RedisSessionStore) ConsumeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	return s.consume(ctx,
		s.key(keyTypeRefreshToken, tokenHash),
		s.key(keyTypeUsed, keyTypeRefreshToken, tokenHash),
		s.key(keyTypeRevoked, tokenHash),
		now,
	)
}

func (s *RedisSessionStore) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) error {
	recordKey := s.key(keyTypeRefreshToken, tokenHash)
	ttl, err := s.client.PTTL(ctx, recordKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check refresh token: %w", err)
	}
	if ttl < 0 {
		return ErrRecordNotFound
	}
	if ttl == 0 {
		ttl = time.Second
	}
	// Keep the first revocation time
	return s.client.SetNX(ctx, s.key(keyTypeRevoked, tokenHash), now.UTC().Format(time.RFC3339Nano), ttl).Err()
}

// Consents

func (s *RedisSessionStore) SaveConsent(ctx context.Context, consent *models.Consent) error {
	return s.put(ctx, s.key(keyTypeConsent, consent.Subject, consent.ClientID), consent, ttlUntil(consent.ExpiresAt))
}

func (s *RedisSessionStore) GetConsent(ctx context.Context, subject, clientID string) (*models.Consent, error) {
	var consent models.Consent
	if err := s.get(ctx, s.key(keyTypeConsent, subject, clientID), &consent); err != nil {
		return nil, err
	}
	return &consent, nil
}

// DeleteExpired is a no-op: Redis expires records on its own.
func (s *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisSessionStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
