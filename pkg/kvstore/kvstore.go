package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/formy-ai/formy/pkg/model"
	"github.com/redis/go-redis/v9"
)

const (
	verificationCodePrefix = "verification_code:"
	refreshTokenPrefix     = "refresh_token:"
	userByEmailPrefix      = "user:email:"
	userByIDPrefix         = "user:id:"

	// VerificationCodeTTL bounds how long an emailed code stays valid.
	VerificationCodeTTL = 10 * time.Minute

	userCacheTTL = 5 * time.Minute
)

// consumeCodeScript burns a verification code atomically. The used marker
// replaces the code under the same key and keeps the remaining TTL, so a
// consumed code cannot be replayed but also cannot outlive its window.
var consumeCodeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v or v ~= ARGV[1] then
	return 0
end
local ttl = redis.call('TTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], 'used', 'EX', ttl)
else
	redis.call('SET', KEYS[1], 'used')
end
return 1
`)

// Store wraps the redis connection for codes, tokens and cached lookups.
type Store struct {
	client redis.UniversalClient
}

// New connects using a redis URL, e.g. redis://localhost:6379/0.
func New(url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opt)}, nil
}

// NewWithClient wraps an existing client, used by tests.
func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Client exposes the underlying connection for components that share it.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetVerificationCode stores an emailed login code with its validity window.
func (s *Store) SetVerificationCode(ctx context.Context, email, code string) error {
	return s.client.Set(ctx, verificationCodePrefix+email, code, VerificationCodeTTL).Err()
}

// ConsumeVerificationCode validates and burns a code in one step. Returns
// false for wrong, expired or already-used codes.
func (s *Store) ConsumeVerificationCode(ctx context.Context, email, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	n, err := consumeCodeScript.Run(ctx, s.client,
		[]string{verificationCodePrefix + email}, code).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// StoreRefreshToken records a refresh token for its lifetime.
func (s *Store) StoreRefreshToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, refreshTokenPrefix+token, userID, ttl).Err()
}

// LookupRefreshToken resolves a refresh token to its user, "" when unknown.
func (s *Store) LookupRefreshToken(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, refreshTokenPrefix+token).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// RevokeRefreshToken deletes a refresh token, used on rotation and logout.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	return s.client.Del(ctx, refreshTokenPrefix+token).Err()
}

// CacheUser stores the account under both lookup keys. Cache misses fall
// through to the database; the balance here is advisory only.
func (s *Store) CacheUser(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, userByEmailPrefix+user.Email, data, userCacheTTL)
	pipe.Set(ctx, userByIDPrefix+user.UserID, data, userCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetCachedUserByID returns the cached account, nil on miss.
func (s *Store) GetCachedUserByID(ctx context.Context, userID string) (*model.User, error) {
	return s.getCachedUser(ctx, userByIDPrefix+userID)
}

// GetCachedUserByEmail returns the cached account, nil on miss.
func (s *Store) GetCachedUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getCachedUser(ctx, userByEmailPrefix+email)
}

func (s *Store) getCachedUser(ctx context.Context, key string) (*model.User, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, nil
	}
	return &user, nil
}

// InvalidateUser drops both cache entries for an account.
func (s *Store) InvalidateUser(ctx context.Context, userID, email string) error {
	return s.client.Del(ctx, userByIDPrefix+userID, userByEmailPrefix+email).Err()
}

// Global default store, installed at startup.
var (
	defaultStore *Store
	storeLock    sync.RWMutex
)

// SetDefaultStore installs the process-wide store.
func SetDefaultStore(s *Store) {
	storeLock.Lock()
	defer storeLock.Unlock()
	defaultStore = s
}

// GetDefaultStore returns the process-wide store, nil before startup.
func GetDefaultStore() *Store {
	storeLock.RLock()
	defer storeLock.RUnlock()
	return defaultStore
}
