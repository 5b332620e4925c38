package identity

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations remembers when a subject last signed out; tokens issued at or
// before that instant are no longer honoured.
type Revocations interface {
	Revoke(ctx context.Context, subjectID string, at time.Time) error
	RevokedAt(ctx context.Context, subjectID string) (time.Time, bool, error)
}

type MemoryRevocations struct {
	mu sync.RWMutex
	at map[string]time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{at: map[string]time.Time{}}
}

func (m *MemoryRevocations) Revoke(_ context.Context, subjectID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at = at.Truncate(time.Second)
	if prev, ok := m.at[subjectID]; !ok || at.After(prev) {
		m.at[subjectID] = at
	}
	return nil
}

func (m *MemoryRevocations) RevokedAt(_ context.Context, subjectID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.at[subjectID]
	return at, ok, nil
}

// RedisRevocations keeps revocations for ttl, which should cover the longest
// access-token lifetime the identity provider issues.
type RedisRevocations struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisRevocations(rdb *redis.Client, ttl time.Duration) *RedisRevocations {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisRevocations{rdb: rdb, ttl: ttl, prefix: "medbook:revoked:"}
}

var revokeScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
if prev and tonumber(prev) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

func (r *RedisRevocations) Revoke(ctx context.Context, subjectID string, at time.Time) error {
	unix := at.Truncate(time.Second).Unix()
	return revokeScript.Run(ctx, r.rdb, []string{r.prefix + subjectID}, unix, r.ttl.Milliseconds()).Err()
}

func (r *RedisRevocations) RevokedAt(ctx context.Context, subjectID string) (time.Time, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+subjectID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(unix, 0), true, nil
}
