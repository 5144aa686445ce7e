package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaPrelude is shared by every mutating script. terminate moves one active
// session to a terminal status, drops it from the active indexes and starts the
// retention clock on its keys.
const luaPrelude = `
local function skey(prefix, id) return prefix .. ":s:" .. id end

local function terminate(prefix, id, status, reason, now, retention)
  local key = skey(prefix, id)
  local st = redis.call("HGET", key, "st")
  if st ~= "active" then
    return 0
  end
  local pid = redis.call("HGET", key, "pid")
  local ah = redis.call("HGET", key, "ah")
  local rh = redis.call("HGET", key, "rh")
  redis.call("HSET", key, "st", status, "rsn", reason, "out", now)
  redis.call("ZREM", prefix .. ":pa:" .. pid, id)
  redis.call("ZREM", prefix .. ":exp", id)
  redis.call("PEXPIRE", key, retention)
  if ah and ah ~= "" then
    redis.call("PEXPIRE", prefix .. ":a:" .. ah, retention)
  end
  if rh and rh ~= "" then
    redis.call("PEXPIRE", prefix .. ":r:" .. rh, retention)
  end
  return 1
end
`

// KEYS: session, access lookup, refresh lookup, principal active zset, principal set, expiry zset
// ARGV: prefix, id, now, retention, limit, evict reason, last activity, expires at, field/value pairs...
const createScript = luaPrelude + `
local prefix = ARGV[1]
local id = ARGV[2]
local now = ARGV[3]
local retention = ARGV[4]
local limit = tonumber(ARGV[5])
local reason = ARGV[6]

if redis.call("EXISTS", KEYS[1]) == 1 then
  return redis.error_reply("session id collision")
end

local active = redis.call("ZRANGE", KEYS[4], 0, -1)
for _, sid in ipairs(active) do
  local exp = tonumber(redis.call("HGET", skey(prefix, sid), "exp") or "0")
  if exp <= tonumber(now) then
    if terminate(prefix, sid, "expired", "expired", now, retention) == 0 then
      redis.call("ZREM", KEYS[4], sid)
    end
  end
end

local evicted = {}
if limit > 0 then
  local count = redis.call("ZCARD", KEYS[4])
  while count >= limit do
    local oldest = redis.call("ZRANGE", KEYS[4], 0, 0)
    if #oldest == 0 then
      break
    end
    if terminate(prefix, oldest[1], "revoked", reason, now, retention) == 1 then
      table.insert(evicted, oldest[1])
    else
      redis.call("ZREM", KEYS[4], oldest[1])
    end
    count = redis.call("ZCARD", KEYS[4])
  end
end

local fields = {}
for i = 9, #ARGV do
  table.insert(fields, ARGV[i])
end
redis.call("HSET", KEYS[1], unpack(fields))
redis.call("SET", KEYS[2], id)
if KEYS[3] ~= KEYS[2] then
  redis.call("SET", KEYS[3], id)
end
redis.call("ZADD", KEYS[4], ARGV[7], id)
redis.call("SADD", KEYS[5], id)
redis.call("ZADD", KEYS[6], ARGV[8], id)
return evicted
`

// ARGV: prefix, id, status, reason, now, retention
const transitionScript = luaPrelude + `
if redis.call("EXISTS", skey(ARGV[1], ARGV[2])) == 0 then
  return -1
end
return terminate(ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
`

// KEYS: session. ARGV: prefix, id, at
const touchScript = `
local st = redis.call("HGET", KEYS[1], "st")
if not st then
  return -1
end
if st ~= "active" then
  return 0
end
local pid = redis.call("HGET", KEYS[1], "pid")
redis.call("HSET", KEYS[1], "act", ARGV[3])
redis.call("ZADD", ARGV[1] .. ":pa:" .. pid, ARGV[3], ARGV[2])
return 1
`

// KEYS: session. ARGV: prefix, id, refresh hash, new access hash, new expiry, at
const rotateScript = `
local st = redis.call("HGET", KEYS[1], "st")
if not st then
  return -1
end
if st ~= "active" or redis.call("HGET", KEYS[1], "rh") ~= ARGV[3] then
  return 0
end
local prefix = ARGV[1]
local id = ARGV[2]
local old = redis.call("HGET", KEYS[1], "ah")
if old and old ~= "" then
  redis.call("DEL", prefix .. ":a:" .. old)
end
redis.call("SET", prefix .. ":a:" .. ARGV[4], id)
redis.call("HSET", KEYS[1], "ah", ARGV[4], "exp", ARGV[5], "act", ARGV[6])
local pid = redis.call("HGET", KEYS[1], "pid")
redis.call("ZADD", prefix .. ":pa:" .. pid, ARGV[6], id)
redis.call("ZADD", prefix .. ":exp", ARGV[5], id)
return 1
`

// KEYS: principal active zset. ARGV: prefix, reason, now, retention, except ids...
const revokeAllScript = luaPrelude + `
local except = {}
for i = 5, #ARGV do
  except[ARGV[i]] = true
end
local revoked = {}
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, sid in ipairs(ids) do
  if not except[sid] then
    if terminate(ARGV[1], sid, "revoked", ARGV[2], ARGV[3], ARGV[4]) == 1 then
      table.insert(revoked, sid)
    else
      redis.call("ZREM", KEYS[1], sid)
    end
  end
end
return revoked
`

// KEYS: principal active zset. ARGV: prefix, keep, reason, now, retention
const revokeAllButRecentScript = luaPrelude + `
local prefix = ARGV[1]
local keep = tonumber(ARGV[2])
local rows = {}
local ids = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, sid in ipairs(ids) do
  local key = skey(prefix, sid)
  if redis.call("HGET", key, "st") == "active" then
    table.insert(rows, {id = sid, login = tonumber(redis.call("HGET", key, "in") or "0")})
  else
    redis.call("ZREM", KEYS[1], sid)
  end
end
table.sort(rows, function(a, b)
  if a.login == b.login then
    return a.id > b.id
  end
  return a.login > b.login
end)
local revoked = {}
for i = keep + 1, #rows do
  if terminate(prefix, rows[i].id, "revoked", ARGV[3], ARGV[4], ARGV[5]) == 1 then
    table.insert(revoked, rows[i].id)
  end
end
return revoked
`

// KEYS: expiry zset. ARGV: prefix, now, retention, limit
const expireDueScript = luaPrelude + `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[2], "LIMIT", "0", ARGV[4])
local expired = {}
for _, sid in ipairs(ids) do
  if terminate(ARGV[1], sid, "expired", "expired", ARGV[2], ARGV[3]) == 1 then
    table.insert(expired, sid)
  else
    redis.call("ZREM", KEYS[1], sid)
  end
end
return expired
`

var (
	createLua     = redis.NewScript(createScript)
	transitionLua = redis.NewScript(transitionScript)
	touchLua      = redis.NewScript(touchScript)
	rotateLua     = redis.NewScript(rotateScript)
	revokeAllLua  = redis.NewScript(revokeAllScript)
	keepRecentLua = redis.NewScript(revokeAllButRecentScript)
	expireDueLua  = redis.NewScript(expireDueScript)
)

// RedisStore keeps each session in a hash with secondary keys:
//
//	{prefix}:s:{id}       session hash
//	{prefix}:a:{digest}   access digest -> id
//	{prefix}:r:{digest}   refresh digest -> id
//	{prefix}:pa:{pid}     active ids scored by last activity (ms)
//	{prefix}:p:{pid}      every id of the principal
//	{prefix}:exp          active ids scored by expiry (ms)
//
// Terminated sessions keep their keys for the retention window, after which
// Redis drops them.
//
// The scripts reach keys named by session fields (digests, principal id), so
// not every key they touch can be declared in KEYS. On Redis Cluster the prefix
// is wrapped in a hash tag ("{ac}") and every key lands in one slot; the whole
// store then lives on a single shard. Standalone and Sentinel clients use the
// prefix as given.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a store under prefix that retains terminated sessions for retention.
func NewRedisStore(rdb redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ac"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if _, ok := rdb.(*redis.ClusterClient); ok && !strings.Contains(prefix, "{") {
		prefix = "{" + prefix + "}"
	}
	return &RedisStore{redis: rdb, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":s:" + id }

func (s *RedisStore) accessKey(hash string) string { return s.prefix + ":a:" + hash }

func (s *RedisStore) refreshKey(hash string) string { return s.prefix + ":r:" + hash }

func (s *RedisStore) expiryKey() string { return s.prefix + ":exp" }

func (s *RedisStore) activeKey(pid int64) string {
	return s.prefix + ":pa:" + strconv.FormatInt(pid, 10)
}

func (s *RedisStore) principalKey(pid int64) string {
	return s.prefix + ":p:" + strconv.FormatInt(pid, 10)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, sess *Session, limit int, evictReason string, now time.Time) ([]string, error) {
	fields, err := encodeFields(sess)
	if err != nil {
		return nil, err
	}

	refreshKey := s.accessKey(sess.AccessHash)
	if sess.RefreshHash != "" {
		refreshKey = s.refreshKey(sess.RefreshHash)
	}
	keys := []string{
		s.key(sess.ID),
		s.accessKey(sess.AccessHash),
		refreshKey,
		s.activeKey(sess.PrincipalID),
		s.principalKey(sess.PrincipalID),
		s.expiryKey(),
	}
	args := []interface{}{
		s.prefix, sess.ID, now.UnixMilli(), s.retention.Milliseconds(), limit, evictReason,
		sess.LastActivityAt.UnixMilli(), sess.ExpiresAt.UnixMilli(),
	}
	args = append(args, fields...)

	evicted, err := createLua.Run(ctx, s.redis, keys, args...).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	return evicted, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	m, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(m)
}

// FindByAccessHash implements Store.
func (s *RedisStore) FindByAccessHash(ctx context.Context, hash string) (*Session, error) {
	return s.findBy(ctx, s.accessKey(hash))
}

// FindByRefreshHash implements Store.
func (s *RedisStore) FindByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return s.findBy(ctx, s.refreshKey(hash))
}

func (s *RedisStore) findBy(ctx context.Context, lookupKey string) (*Session, error) {
	id, err := s.redis.Get(ctx, lookupKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.Get(ctx, id)
}

// ListByPrincipal implements Store. Ids whose hash has aged out are pruned.
func (s *RedisStore) ListByPrincipal(ctx context.Context, principalID int64, activeOnly bool) ([]*Session, error) {
	var (
		ids []string
		err error
	)
	if activeOnly {
		ids, err = s.redis.ZRevRange(ctx, s.activeKey(principalID), 0, -1).Result()
	} else {
		ids, err = s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := decodeFields(m)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if len(stale) > 0 && !activeOnly {
		if err := s.redis.SRem(ctx, s.principalKey(principalID), stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	sortByActivity(out)
	return out, nil
}

// Touch implements Store.
func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := touchLua.Run(ctx, s.redis, []string{s.key(id)}, s.prefix, id, at.UnixMilli()).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrNotActive
	}
	return nil
}

// Transition implements Store.
func (s *RedisStore) Transition(ctx context.Context, id string, to Status, reason string, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("invalid target status %q", to)
	}
	res, err := transitionLua.Run(ctx, s.redis, []string{s.key(id)},
		s.prefix, id, string(to), reason, at.UnixMilli(), s.retention.Milliseconds()).Int()
	if err != nil {
		return false, unavailable(err)
	}
	if res == -1 {
		return false, ErrNotFound
	}
	return res == 1, nil
}

// Rotate implements Store.
func (s *RedisStore) Rotate(ctx context.Context, id, refreshHash, newAccessHash string, newExpiry, at time.Time) error {
	res, err := rotateLua.Run(ctx, s.redis, []string{s.key(id)},
		s.prefix, id, refreshHash, newAccessHash, newExpiry.UnixMilli(), at.UnixMilli()).Int()
	if err != nil {
		return unavailable(err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrNotActive
	}
	return nil
}

// RevokeAll implements Store.
func (s *RedisStore) RevokeAll(ctx context.Context, principalID int64, except []string, reason string, at time.Time) ([]string, error) {
	args := []interface{}{s.prefix, reason, at.UnixMilli(), s.retention.Milliseconds()}
	for _, id := range except {
		args = append(args, id)
	}
	ids, err := revokeAllLua.Run(ctx, s.redis, []string{s.activeKey(principalID)}, args...).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// RevokeAllButRecent implements Store.
func (s *RedisStore) RevokeAllButRecent(ctx context.Context, principalID int64, keep int, reason string, at time.Time) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	ids, err := keepRecentLua.Run(ctx, s.redis, []string{s.activeKey(principalID)},
		s.prefix, keep, reason, at.UnixMilli(), s.retention.Milliseconds()).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// ExpireDue implements Store.
func (s *RedisStore) ExpireDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	ids, err := expireDueLua.Run(ctx, s.redis, []string{s.expiryKey()},
		s.prefix, now.UnixMilli(), s.retention.Milliseconds(), limit).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

// PurgeTerminated implements Store. Terminated keys already carry a TTL equal
// to the retention window, so there is nothing left to delete.
func (s *RedisStore) PurgeTerminated(context.Context, time.Time) (int, error) {
	return 0, nil
}

func encodeFields(sess *Session) ([]interface{}, error) {
	meta := ""
	if len(sess.Metadata) > 0 {
		raw, err := json.Marshal(sess.Metadata)
		if err != nil {
			return nil, err
		}
		meta = string(raw)
	}
	tfa := "0"
	if sess.TwoFactorVerified {
		tfa = "1"
	}
	return []interface{}{
		"id", sess.ID,
		"pid", sess.PrincipalID,
		"ah", sess.AccessHash,
		"rh", sess.RefreshHash,
		"st", string(sess.Status),
		"ty", string(sess.Type),
		"ip", sess.IP,
		"ua", sess.UserAgent,
		"fp", sess.DeviceFingerprint,
		"loc", sess.Location,
		"exp", sess.ExpiresAt.UnixMilli(),
		"act", sess.LastActivityAt.UnixMilli(),
		"in", sess.LoginAt.UnixMilli(),
		"tfa", tfa,
		"meta", meta,
	}, nil
}

func decodeFields(m map[string]string) (*Session, error) {
	pid, err := strconv.ParseInt(m["pid"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt session %q", ErrRedisUnavailable, m["id"])
	}
	sess := &Session{
		ID:                m["id"],
		PrincipalID:       pid,
		AccessHash:        m["ah"],
		RefreshHash:       m["rh"],
		Status:            Status(m["st"]),
		Type:              Type(m["ty"]),
		IP:                m["ip"],
		UserAgent:         m["ua"],
		DeviceFingerprint: m["fp"],
		Location:          m["loc"],
		ExpiresAt:         millis(m["exp"]),
		LastActivityAt:    millis(m["act"]),
		LoginAt:           millis(m["in"]),
		LogoutAt:          millis(m["out"]),
		TwoFactorVerified: m["tfa"] == "1",
		Reason:            m["rsn"],
	}
	if raw := m["meta"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("%w: corrupt session metadata %q", ErrRedisUnavailable, sess.ID)
		}
	}
	return sess, nil
}

func millis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
