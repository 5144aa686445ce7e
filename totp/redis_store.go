package totp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const saveSecretScript = `
if redis.call("HGET", KEYS[1], "enabled") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "secret", ARGV[1], "enabled", "0", "updated_at", ARGV[2])
redis.call("HSETNX", KEYS[1], "created_at", ARGV[2])
redis.call("DEL", KEYS[2])
for i = 3, #ARGV do
  redis.call("SADD", KEYS[2], ARGV[i])
end
return 1
`

const setEnabledScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if ARGV[1] == "1" then
  local secret = redis.call("HGET", KEYS[1], "secret")
  if not secret or secret == "" then
    return -1
  end
end
redis.call("HSET", KEYS[1], "enabled", ARGV[1], "updated_at", ARGV[2])
return 1
`

const replaceCodesScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("DEL", KEYS[2])
for i = 2, #ARGV do
  redis.call("SADD", KEYS[2], ARGV[i])
end
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return 1
`

var (
	saveSecretLua   = redis.NewScript(saveSecretScript)
	setEnabledLua   = redis.NewScript(setEnabledScript)
	replaceCodesLua = redis.NewScript(replaceCodesScript)
)

// RedisStore keeps each record in a hash and its unused code digests in a set.
// Records carry no TTL; they are never hard-deleted.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using keys "prefix:tfa:{id}" and
// "prefix:tfa:{id}:codes". The braces are a Redis Cluster hash tag, so both keys
// of a principal share a slot and the scripts stay single-slot.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ac"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) key(principalID int64) string {
	return s.prefix + ":tfa:{" + strconv.FormatInt(principalID, 10) + "}"
}

func (s *RedisStore) codesKey(principalID int64) string {
	return s.key(principalID) + ":codes"
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, principalID int64) (*Record, error) {
	var (
		fields *redis.MapStringStringCmd
		codes  *redis.StringSliceCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, s.key(principalID))
		codes = pipe.SMembers(ctx, s.codesKey(principalID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	m := fields.Val()
	if len(m) == 0 {
		return nil, ErrNotConfigured
	}
	return &Record{
		PrincipalID: principalID,
		Secret:      m["secret"],
		Enabled:     m["enabled"] == "1",
		BackupCodes: codes.Val(),
		LastUsedAt:  parseMillis(m["last_used_at"]),
		CreatedAt:   parseMillis(m["created_at"]),
		UpdatedAt:   parseMillis(m["updated_at"]),
	}, nil
}

// SaveSecret implements Store.
func (s *RedisStore) SaveSecret(ctx context.Context, principalID int64, secret string, codeHashes []string, now time.Time) error {
	args := make([]interface{}, 0, len(codeHashes)+2)
	args = append(args, secret, now.UnixMilli())
	for _, h := range codeHashes {
		args = append(args, h)
	}
	res, err := saveSecretLua.Run(ctx, s.redis, []string{s.key(principalID), s.codesKey(principalID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrAlreadyEnabled
	}
	return nil
}

// SetEnabled implements Store.
func (s *RedisStore) SetEnabled(ctx context.Context, principalID int64, enabled bool, now time.Time) error {
	flag := "0"
	if enabled {
		flag = "1"
	}
	res, err := setEnabledLua.Run(ctx, s.redis, []string{s.key(principalID)}, flag, now.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch res {
	case 0:
		return ErrNotConfigured
	case -1:
		return ErrNoSecret
	}
	return nil
}

// ReplaceBackupCodes implements Store.
func (s *RedisStore) ReplaceBackupCodes(ctx context.Context, principalID int64, codeHashes []string, now time.Time) error {
	args := make([]interface{}, 0, len(codeHashes)+1)
	args = append(args, now.UnixMilli())
	for _, h := range codeHashes {
		args = append(args, h)
	}
	res, err := replaceCodesLua.Run(ctx, s.redis, []string{s.key(principalID), s.codesKey(principalID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ErrNotConfigured
	}
	return nil
}

// ConsumeBackupCode implements Store. SREM is atomic, so only one caller can
// observe the removal.
func (s *RedisStore) ConsumeBackupCode(ctx context.Context, principalID int64, codeHash string, _ time.Time) (bool, error) {
	n, err := s.redis.SRem(ctx, s.codesKey(principalID), codeHash).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// TouchLastUsed implements Store.
func (s *RedisStore) TouchLastUsed(ctx context.Context, principalID int64, now time.Time) error {
	err := s.redis.HSet(ctx, s.key(principalID), "last_used_at", now.UnixMilli()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
