package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openmusicplayer/authgate/internal/models"
	"github.com/openmusicplayer/authgate/internal/store"
)

var _ store.ResetTokens = (*ResetTokenStore)(nil)

const (
	tokenKeyPrefix = "reset:token:"
	userKeyPrefix  = "reset:user:"
)

// ResetTokenStore keeps password reset records in Redis. Each token key
// expires together with the token it holds.
type ResetTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr.
func New(ctx context.Context, addr string, ttl time.Duration) (*ResetTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return NewWithClient(client, ttl), nil
}

func NewWithClient(client *redis.Client, ttl time.Duration) *ResetTokenStore {
	return &ResetTokenStore{client: client, ttl: ttl}
}

func (s *ResetTokenStore) Close() error {
	return s.client.Close()
}

func (s *ResetTokenStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *ResetTokenStore) CreateResetToken(ctx context.Context, t *models.PasswordResetToken) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKeyPrefix+t.Token, t.UserID, s.ttl)
	pipe.SAdd(ctx, userKeyPrefix+t.UserID, t.Token)
	pipe.Expire(ctx, userKeyPrefix+t.UserID, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}
	return nil
}

func (s *ResetTokenStore) GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	userID, err := s.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrResetTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return &models.PasswordResetToken{UserID: userID, Token: token}, nil
}

// deleteUserTokens drops every token listed in the user set, and the set
// itself, in one step so a token added concurrently cannot lose its index.
var deleteUserTokens = redis.NewScript(`
local n = 0
for _, t in ipairs(redis.call("SMEMBERS", KEYS[1])) do
	n = n + redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
return n
`)

// deleteToken removes one token key and its entry in the owner's set.
var deleteToken = redis.NewScript(`
local uid = redis.call("GET", KEYS[1])
if not uid then
	return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
return 1
`)

func (s *ResetTokenStore) DeleteResetToken(ctx context.Context, token string) error {
	n, err := deleteToken.Run(ctx, s.client, []string{tokenKeyPrefix + token}, userKeyPrefix, token).Int64()
	if err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	if n == 0 {
		return store.ErrResetTokenNotFound
	}
	return nil
}

func (s *ResetTokenStore) DeleteResetTokensForUser(ctx context.Context, userID string) (int64, error) {
	n, err := deleteUserTokens.Run(ctx, s.client, []string{userKeyPrefix + userID}, tokenKeyPrefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("delete reset tokens: %w", err)
	}
	return n, nil
}
