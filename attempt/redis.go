package attempt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis failures from RedisRecorder.
var ErrRedisUnavailable = errors.New("attempt store redis unavailable")

// RedisRecorder appends attempts to a capped stream and keeps a per-email
// failure counter for lockout heuristics.
type RedisRecorder struct {
	redis         redis.UniversalClient
	prefix        string
	maxLen        int64
	failureWindow time.Duration
}

// NewRedisRecorder returns a recorder writing to "{prefix}:attempts".
// maxLen caps the stream approximately; failureWindow bounds the failure counter.
func NewRedisRecorder(rdb redis.UniversalClient, prefix string, maxLen int64, failureWindow time.Duration) *RedisRecorder {
	if prefix == "" {
		prefix = "ac"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	if failureWindow <= 0 {
		failureWindow = 15 * time.Minute
	}
	return &RedisRecorder{redis: rdb, prefix: prefix, maxLen: maxLen, failureWindow: failureWindow}
}

// Record implements Recorder.
func (r *RedisRecorder) Record(ctx context.Context, a LoginAttempt) error {
	pid := ""
	if a.PrincipalID != nil {
		pid = strconv.FormatInt(*a.PrincipalID, 10)
	}
	values := map[string]interface{}{
		"email":        a.Email,
		"principal_id": pid,
		"ip":           a.IP,
		"user_agent":   a.UserAgent,
		"success":      strconv.FormatBool(a.Success),
		"reason":       a.Reason,
		"created_at":   a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.streamKey(),
			MaxLen: r.maxLen,
			Approx: true,
			Values: values,
		})
		if a.Email == "" {
			return nil
		}
		key := r.failureKey(a.Email)
		if a.Success {
			pipe.Del(ctx, key)
			return nil
		}
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.failureWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RecentFailures returns failed attempts for email since the last success,
// within the failure window.
func (r *RedisRecorder) RecentFailures(ctx context.Context, email string) (int64, error) {
	n, err := r.redis.Get(ctx, r.failureKey(email)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// Recent returns up to count most recent attempts, newest first.
func (r *RedisRecorder) Recent(ctx context.Context, count int64) ([]LoginAttempt, error) {
	msgs, err := r.redis.XRevRangeN(ctx, r.streamKey(), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	out := make([]LoginAttempt, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeStream(msg.Values))
	}
	return out, nil
}

func decodeStream(v map[string]interface{}) LoginAttempt {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	a := LoginAttempt{
		Email:     str("email"),
		IP:        str("ip"),
		UserAgent: str("user_agent"),
		Reason:    str("reason"),
	}
	a.Success, _ = strconv.ParseBool(str("success"))
	if id, err := strconv.ParseInt(str("principal_id"), 10, 64); err == nil {
		a.PrincipalID = &id
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, str("created_at"))
	return a
}

func (r *RedisRecorder) streamKey() string {
	return r.prefix + ":attempts"
}

func (r *RedisRecorder) failureKey(email string) string {
	return r.prefix + ":attempts:fail:" + strings.ToLower(email)
}
