package directory

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/redis/go-redis/v9"
)

// fakeDirectory serves users from a map and counts lookups.
type fakeDirectory struct {
	users   map[int64]User
	err     error
	lookups int
}

func (f *fakeDirectory) Lookup(ctx context.Context, id int64) (*User, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// newTestCache wires a CachedDirectory to a local Redis, skipping when Redis
// is not available, and clears test keys before and after.
func newTestCache(t *testing.T, inner Directory) *CachedDirectory {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clear := func() {
		iter := client.Scan(ctx, 0, CachePrefix+"9009*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clear()
	t.Cleanup(func() {
		clear()
		client.Close()
	})
	return NewCachedDirectory(inner, client)
}

func TestCachedLookupReadsThrough(t *testing.T) {
	inner := &fakeDirectory{users: map[int64]User{
		900901: {ID: 900901, Name: "alice", AvatarURL: "https://cdn/a.png", Role: "user", IsActive: true},
	}}
	cache := newTestCache(t, inner)
	ctx := context.Background()

	u, err := cache.Lookup(ctx, 900901)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if u == nil || u.Name != "alice" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if inner.lookups != 1 {
		t.Fatalf("expected 1 inner lookup, got %d", inner.lookups)
	}

	// Second lookup is served from the cache.
	u, err = cache.Lookup(ctx, 900901)
	if err != nil {
		t.Fatalf("second Lookup() error: %v", err)
	}
	if u == nil || u.Name != "alice" || u.Role != "user" || !u.IsActive {
		t.Errorf("cached user mangled: %+v", u)
	}
	if inner.lookups != 1 {
		t.Errorf("expected cache hit, inner lookups=%d", inner.lookups)
	}
}

func TestCachedLookupMissingUserNotCached(t *testing.T) {
	inner := &fakeDirectory{users: map[int64]User{}}
	cache := newTestCache(t, inner)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		u, err := cache.Lookup(ctx, 900902)
		if err != nil {
			t.Fatalf("Lookup() error: %v", err)
		}
		if u != nil {
			t.Fatalf("expected nil for missing user, got %+v", u)
		}
	}
	// No negative caching: every lookup for a missing id hits the source.
	if inner.lookups != 2 {
		t.Errorf("expected 2 inner lookups, got %d", inner.lookups)
	}
}

func TestCachedLookupInnerError(t *testing.T) {
	inner := &fakeDirectory{err: errors.New("db down")}
	cache := newTestCache(t, inner)

	if _, err := cache.Lookup(context.Background(), 900903); err == nil {
		t.Fatal("expected inner error to propagate")
	}
}

func TestInvalidateForcesReadThrough(t *testing.T) {
	inner := &fakeDirectory{users: map[int64]User{
		900904: {ID: 900904, Name: "bob", Role: "user", IsActive: true},
	}}
	cache := newTestCache(t, inner)
	ctx := context.Background()

	cache.Lookup(ctx, 900904)
	if err := cache.Invalidate(ctx, 900904); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}

	// The account changed; the next lookup must see the new state.
	inner.users[900904] = User{ID: 900904, Name: "bob", Role: "user", IsActive: false}
	u, err := cache.Lookup(ctx, 900904)
	if err != nil {
		t.Fatalf("Lookup() error: %v", err)
	}
	if u.IsActive {
		t.Error("expected deactivation visible after invalidation")
	}
	if inner.lookups != 2 {
		t.Errorf("expected 2 inner lookups, got %d", inner.lookups)
	}
}

func TestUserFromFields(t *testing.T) {
	cases := []struct {
		name   string
		fields map[string]string
		ok     bool
	}{
		{"complete", map[string]string{"name": "a", "avatar_url": "", "role": "user", "is_active": "true"}, true},
		{"missing role", map[string]string{"name": "a", "is_active": "true"}, false},
		{"missing is_active", map[string]string{"name": "a", "role": "user"}, false},
		{"bad is_active", map[string]string{"name": "a", "role": "user", "is_active": "maybe"}, false},
	}
	for _, tc := range cases {
		u, ok := userFromFields(5, tc.fields)
		if ok != tc.ok {
			t.Errorf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
		}
		if ok && u.ID != 5 {
			t.Errorf("%s: expected id 5, got %d", tc.name, u.ID)
		}
	}
}

func TestUserFromFieldsParsesBool(t *testing.T) {
	for _, v := range []string{"true", "1", "TRUE"} {
		u, ok := userFromFields(1, map[string]string{"role": "user", "is_active": v})
		if !ok || !u.IsActive {
			t.Errorf("is_active=%q: expected active user, got ok=%v u=%+v", v, ok, u)
		}
	}
	u, ok := userFromFields(1, map[string]string{"role": "user", "is_active": strconv.FormatBool(false)})
	if !ok || u.IsActive {
		t.Errorf("expected inactive user, got ok=%v u=%+v", ok, u)
	}
}
