package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-identity/internal/realm"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGate(t *testing.T) (*Gate, *MemoryStore, *clock) {
	t.Helper()
	store := NewMemoryStore()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewGate(store, 5, 15*time.Minute).WithClock(c.Now), store, c
}

func login(ip, email string) Request {
	return Request{IP: ip, Email: email, Realm: realm.Tenant, Endpoint: EndpointLogin}
}

func TestGate_SixthAttemptBlockedWithRetryAfter(t *testing.T) {
	g, store, c := newGate(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "buyer@example.com"))
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d", i+1)
		c.Advance(time.Minute)
	}
	assert.Equal(t, 10, store.Len(), "each admitted attempt is recorded under both keys")

	d, err := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "buyer@example.com"))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, TriggerBoth, d.Trigger)
	assert.Equal(t, 10*time.Minute, d.RetryAfter, "oldest attempt ages out 15m after it was made")
	assert.Equal(t, 10, store.Len(), "blocked attempts are not recorded")
}

func TestGate_RetryAfterOverThresholdWaitsForCountToDrop(t *testing.T) {
	g, store, c := newGate(t)
	ctx := context.Background()
	key := login("203.0.113.7", "")
	hashed := requestKeys(key)[0].hash

	// Seven attempts a minute apart, two more than the gate would admit (e.g. after a race).
	start := c.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, store.Record(ctx, Attempt{HashedKey: hashed, Endpoint: EndpointLogin, Realm: realm.Tenant, CreatedAt: start.Add(time.Duration(i) * time.Minute)}))
	}
	c.Advance(7 * time.Minute)

	d, err := g.CheckAndMaybeBlock(ctx, key)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.Equal(t, 10*time.Minute, d.RetryAfter, "the third attempt, made at +2m, must age out before the count drops to four")

	c.Advance(d.RetryAfter - time.Second)
	d, err = g.CheckAndMaybeBlock(ctx, key)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "still blocked just before retry-after")

	c.Advance(time.Second)
	d, err = g.CheckAndMaybeBlock(ctx, key)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "admitted once retry-after has elapsed")
}

func TestMemoryStore_WindowNth(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	for _, ago := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute} {
		require.NoError(t, s.Record(ctx, Attempt{HashedKey: "k", Endpoint: EndpointLogin, Realm: realm.Tenant, CreatedAt: now.Add(-ago)}))
	}
	w, err := s.Window(ctx, "k", EndpointLogin, now.Add(-time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, w.Count)
	assert.True(t, w.Nth.Equal(now.Add(-2*time.Minute)))

	w, err = s.Window(ctx, "k", EndpointLogin, now.Add(-time.Hour), 4)
	require.NoError(t, err)
	assert.True(t, w.Nth.IsZero())
}

func TestGate_EmailThrottledAcrossIPs(t *testing.T) {
	g, _, _ := newGate(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := g.CheckAndMaybeBlock(ctx, login("198.51.100.1", "buyer@example.com"))
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := g.CheckAndMaybeBlock(ctx, login("198.51.100.99", "buyer@example.com"))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, TriggerEmail, d.Trigger)

	d, err = g.CheckAndMaybeBlock(ctx, login("198.51.100.1", "other@example.com"))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, TriggerIP, d.Trigger)

	d, err = g.CheckAndMaybeBlock(ctx, login("198.51.100.99", "other@example.com"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGate_WindowSlides(t *testing.T) {
	g, _, c := newGate(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "a@example.com"))
		require.NoError(t, err)
	}
	d, _ := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "a@example.com"))
	require.False(t, d.Allowed)

	c.Advance(15 * time.Minute)
	d, err := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "a@example.com"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGate_EndpointsCountedSeparately(t *testing.T) {
	g, _, _ := newGate(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := g.CheckAndMaybeBlock(ctx, login("203.0.113.7", "a@example.com"))
		require.NoError(t, err)
	}
	d, err := g.CheckAndMaybeBlock(ctx, Request{IP: "203.0.113.7", Email: "a@example.com", Realm: realm.Tenant, Endpoint: EndpointForgotPassword})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGate_NoKeys(t *testing.T) {
	g, _, _ := newGate(t)
	_, err := g.CheckAndMaybeBlock(context.Background(), Request{Realm: realm.Admin, Endpoint: EndpointLogin})
	assert.ErrorIs(t, err, ErrNoKey)
}

// barrierStore holds every Window call until n callers have arrived, forcing all of them through
// the check before any records.
type barrierStore struct {
	*MemoryStore
	wg sync.WaitGroup
}

func (b *barrierStore) Window(ctx context.Context, key string, ep Endpoint, since time.Time, n int) (Window, error) {
	w, err := b.MemoryStore.Window(ctx, key, ep, since, n)
	if w.Count == 0 {
		b.wg.Done()
		b.wg.Wait()
	}
	return w, err
}

// The check-then-record pair is not atomic. When concurrent requests all check before any records,
// every one of them is admitted even past the threshold. Over-admission is bounded by the number of
// concurrent requests and stops as soon as their attempts are recorded.
func TestGate_ConcurrentOverAdmissionIsBounded(t *testing.T) {
	const concurrent = 8
	store := &barrierStore{MemoryStore: NewMemoryStore()}
	store.wg.Add(concurrent)
	g := NewGate(store, 5, 15*time.Minute)

	var (
		mu      sync.Mutex
		allowed int
		wg      sync.WaitGroup
	)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.CheckAndMaybeBlock(context.Background(), Request{IP: "203.0.113.7", Realm: realm.Tenant, Endpoint: EndpointLogin})
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, concurrent, allowed, "all racing requests pass the check")
	assert.LessOrEqual(t, allowed, concurrent)

	d, err := g.CheckAndMaybeBlock(context.Background(), Request{IP: "203.0.113.7", Realm: realm.Tenant, Endpoint: EndpointLogin})
	require.NoError(t, err)
	assert.False(t, d.Allowed, "the log catches up once the racers have recorded")
}

func TestMemoryStore_Prune(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.Record(context.Background(),
		Attempt{HashedKey: "k", Endpoint: EndpointLogin, Realm: realm.Tenant, CreatedAt: now.Add(-48 * time.Hour)},
		Attempt{HashedKey: "k", Endpoint: EndpointLogin, Realm: realm.Tenant, CreatedAt: now}))
	n, err := s.Prune(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, s.Len())
}
