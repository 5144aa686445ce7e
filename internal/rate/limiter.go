package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero budget disables that limit.
type Config struct {
	EnableIPThrottle          bool          `yaml:"enable_ip_throttle" toml:"enable_ip_throttle"`
	MaxLoginAttempts          int           `yaml:"max_login_attempts" toml:"max_login_attempts"`
	LoginCooldownDuration     time.Duration `yaml:"login_cooldown" toml:"login_cooldown"`
	MaxTwoFactorAttempts      int           `yaml:"max_two_factor_attempts" toml:"max_two_factor_attempts"`
	TwoFactorCooldownDuration time.Duration `yaml:"two_factor_cooldown" toml:"two_factor_cooldown"`
}

// Limiter enforces login and second-factor budgets using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, prefix string, cfg Config) *Limiter {
	if prefix == "" {
		prefix = "ac"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		config: cfg,
	}
}

func (l *Limiter) loginKey(identifier string) string { return l.prefix + ":rl:login:" + identifier }

func (l *Limiter) ipKey(ip string) string { return l.prefix + ":rl:ip:" + ip }

func (l *Limiter) twoFactorKey(principalID int64) string {
	return l.prefix + ":rl:2fa:" + strconv.FormatInt(principalID, 10)
}

// CheckLogin reports ErrRateLimited when the identifier or, with IP throttling
// enabled, the client IP has exhausted its budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.checkCounter(ctx, l.loginKey(identifier), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.checkCounter(ctx, l.ipKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// IncrementLogin records a failed password attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if _, err := l.incrementWithTTL(ctx, l.loginKey(identifier), l.config.LoginCooldownDuration); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if _, err := l.incrementWithTTL(ctx, l.ipKey(ip), l.config.LoginCooldownDuration); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login. The IP
// counter is left alone so one valid account cannot launder a sprayed IP.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if l == nil || l.config.MaxLoginAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.loginKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckTwoFactor reports ErrRateLimited once the principal has used up its
// second-factor budget.
func (l *Limiter) CheckTwoFactor(ctx context.Context, principalID int64) error {
	if l == nil || l.config.MaxTwoFactorAttempts <= 0 {
		return nil
	}
	return l.checkCounter(ctx, l.twoFactorKey(principalID), l.config.MaxTwoFactorAttempts)
}

// IncrementTwoFactor records a rejected code.
func (l *Limiter) IncrementTwoFactor(ctx context.Context, principalID int64) error {
	if l == nil || l.config.MaxTwoFactorAttempts <= 0 {
		return nil
	}
	_, err := l.incrementWithTTL(ctx, l.twoFactorKey(principalID), l.config.TwoFactorCooldownDuration)
	return err
}

// ResetTwoFactor clears the counter after an accepted code.
func (l *Limiter) ResetTwoFactor(ctx context.Context, principalID int64) error {
	if l == nil || l.config.MaxTwoFactorAttempts <= 0 {
		return nil
	}
	if err := l.redis.Del(ctx, l.twoFactorKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the current counter for an identifier.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, l.loginKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count >= int64(maxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
