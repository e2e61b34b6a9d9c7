package authz

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const subjectVersionKey = "authz:version"

// CachedSubjects memoizes subject lookups in Redis. Keys embed a global version that every
// role or assignment change bumps, so stale entries are never read after a mutation.
// Redis errors fall through to the wrapped store.
type CachedSubjects struct {
	next   SubjectStore
	client *redis.Client
	ttl    time.Duration
}

// NewCachedSubjects wraps next. A nil client or non-positive ttl disables caching.
func NewCachedSubjects(next SubjectStore, client *redis.Client, ttl time.Duration) *CachedSubjects {
	return &CachedSubjects{next: next, client: client, ttl: ttl}
}

func (c *CachedSubjects) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Subject returns the cached subject or loads and caches it. Misses are not cached.
func (c *CachedSubjects) Subject(ctx context.Context, id int64) (Subject, error) {
	if !c.enabled() {
		return c.next.Subject(ctx, id)
	}
	key, err := c.key(ctx, id)
	if err != nil {
		return c.next.Subject(ctx, id)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var subject Subject
		if json.Unmarshal(payload, &subject) == nil {
			return subject, nil
		}
	}
	subject, err := c.next.Subject(ctx, id)
	if err != nil {
		return Subject{}, err
	}
	if raw, err := json.Marshal(subject); err == nil {
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	}
	return subject, nil
}

// Bump invalidates every cached subject.
func (c *CachedSubjects) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, subjectVersionKey).Err()
}

// Evict drops the cached entry of one subject under the current version. User-scoped
// mutations call it alongside Bump so a failed bump does not leave that user's grants cached.
func (c *CachedSubjects) Evict(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	key, err := c.key(ctx, id)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, key).Err()
}

func (c *CachedSubjects) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, subjectVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *CachedSubjects) key(ctx context.Context, id int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return "authz:subject:" + strconv.FormatInt(id, 10) + ":" + strconv.FormatInt(ver, 10), nil
}
