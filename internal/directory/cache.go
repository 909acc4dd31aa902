package directory

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CachePrefix is the Redis key prefix for cached user hashes.
	CachePrefix = "user:"

	// CacheTTL bounds how stale a cached user may be. Deactivations take
	// effect on new connections within this window.
	CacheTTL = 5 * time.Minute
)

// CachedDirectory is a Redis read-through cache in front of another
// Directory. Cache failures fall through to the inner directory, so a Redis
// outage degrades latency but never correctness.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
}

// NewCachedDirectory wraps inner with a Redis cache.
func NewCachedDirectory(inner Directory, client *redis.Client) *CachedDirectory {
	return &CachedDirectory{inner: inner, client: client}
}

// Lookup returns the cached user when present, otherwise reads through to
// the inner directory and populates the cache. Missing users are not cached
// negatively: an unknown id always hits the inner directory.
func (d *CachedDirectory) Lookup(ctx context.Context, id int64) (*User, error) {
	key := CachePrefix + strconv.FormatInt(id, 10)

	fields, err := d.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Printf("[directory] cache read user=%d: %v (falling through)", id, err)
	} else if len(fields) > 0 {
		if u, ok := userFromFields(id, fields); ok {
			return u, nil
		}
		// Malformed cache entry. Drop it and refill from the source.
		d.client.Del(ctx, key)
	}

	u, err := d.inner.Lookup(ctx, id)
	if err != nil || u == nil {
		return u, err
	}

	pipe := d.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":       u.Name,
		"avatar_url": u.AvatarURL,
		"role":       u.Role,
		"is_active":  strconv.FormatBool(u.IsActive),
	})
	pipe.Expire(ctx, key, CacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[directory] cache write user=%d: %v", id, err)
	}

	return u, nil
}

// Invalidate removes a cached user, forcing the next lookup to read
// through. Called by operational tooling after account changes.
func (d *CachedDirectory) Invalidate(ctx context.Context, id int64) error {
	key := CachePrefix + strconv.FormatInt(id, 10)
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("directory: invalidate user %d: %w", id, err)
	}
	return nil
}

// userFromFields rebuilds a User from a cached Redis hash. The boolean is
// false when required fields are missing.
func userFromFields(id int64, fields map[string]string) (*User, bool) {
	role, ok := fields["role"]
	if !ok {
		return nil, false
	}
	active, ok := fields["is_active"]
	if !ok {
		return nil, false
	}
	isActive, err := strconv.ParseBool(active)
	if err != nil {
		return nil, false
	}
	return &User{
		ID:        id,
		Name:      fields["name"],
		AvatarURL: fields["avatar_url"],
		Role:      role,
		IsActive:  isActive,
	}, true
}
