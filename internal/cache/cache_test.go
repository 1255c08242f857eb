package cache

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/finquery/finquery/internal/query"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(clock *fakeClock) *Store {
	return New(Config{
		PriceTTL: 45 * time.Second,
		SlowTTL:  300 * time.Second,
		Now:      clock.Now,
	})
}

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	a := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD"})
	b := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD"})
	if a != b {
		t.Errorf("identical inputs produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	t.Parallel()

	base := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD"})

	if got := Fingerprint(query.IntentQuote, map[string]any{"symbol": "XAU/USD"}); got == base {
		t.Error("different intents produced the same key")
	}
	if got := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAG/USD"}); got == base {
		t.Error("different symbols produced the same key")
	}
	if got := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD", "interval": "1day"}); got == base {
		t.Error("extra parameter produced the same key")
	}
}

func TestFingerprintNilAndEmptyAgree(t *testing.T) {
	t.Parallel()

	if Fingerprint(query.IntentCommodities, nil) != Fingerprint(query.IntentCommodities, map[string]any{}) {
		t.Error("nil and empty parameter maps should hash identically")
	}
}

func TestGetFreshHit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	key := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD"})

	payload := map[string]any{"symbol": "XAU/USD", "price": 2345.67}
	s.Put(key, payload, query.IntentPrice)

	e, ok := s.Get(key)
	if !ok {
		t.Fatal("expected fresh hit")
	}
	if !reflect.DeepEqual(e.Payload, payload) {
		t.Errorf("payload = %v, want %v", e.Payload, payload)
	}
	if e.Intent != query.IntentPrice {
		t.Errorf("intent = %q", e.Intent)
	}

	// Repeated reads within TTL return the identical payload.
	e2, ok := s.Get(key)
	if !ok || !reflect.DeepEqual(e2.Payload, e.Payload) {
		t.Error("repeated read did not return the identical payload")
	}
}

func TestGetMissesAfterTTLButRetains(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	key := "k"
	s.Put(key, "v", query.IntentPrice)

	clock.Advance(45 * time.Second) // exactly TTL: expired

	if _, ok := s.Get(key); ok {
		t.Fatal("expected miss at age == TTL")
	}
	if s.Len() != 1 {
		t.Fatal("expired entry should be retained for stale fallback")
	}

	e, ok := s.GetStale(key)
	if !ok {
		t.Fatal("expected stale hit within grace period")
	}
	if e.Payload != "v" {
		t.Errorf("stale payload = %v", e.Payload)
	}
}

func TestLookupsPurgePastGrace(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("k", "v", query.IntentPrice)

	clock.Advance(90 * time.Second) // 2×TTL: past grace

	if _, ok := s.Get("k"); ok {
		t.Fatal("expected miss past grace")
	}
	if s.Len() != 0 {
		t.Error("Get should purge entries past ttl+grace")
	}

	s.Put("k", "v", query.IntentPrice)
	clock.Advance(90 * time.Second)
	if _, ok := s.GetStale("k"); ok {
		t.Fatal("expected stale miss past grace")
	}
	if s.Len() != 0 {
		t.Error("GetStale should purge entries past ttl+grace")
	}
}

func TestSlowTTLClass(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("hist", "candles", query.IntentHistorical)

	clock.Advance(100 * time.Second) // past price TTL, within slow TTL

	if _, ok := s.Get("hist"); !ok {
		t.Error("historical entry should still be fresh at 100s")
	}

	clock.Advance(250 * time.Second) // age 350s: expired, within grace
	if _, ok := s.Get("hist"); ok {
		t.Error("historical entry should be expired at 350s")
	}
	if _, ok := s.GetStale("hist"); !ok {
		t.Error("historical entry should be stale-available at 350s")
	}
}

func TestPutLastWriterWins(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("k", "first", query.IntentPrice)
	s.Put("k", "second", query.IntentPrice)

	e, ok := s.Get("k")
	if !ok || e.Payload != "second" {
		t.Errorf("expected last write to win, got %v", e)
	}
}

func TestPurgeDoesNotDropConcurrentPut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("k", "old", query.IntentPrice)

	old, _ := s.lookup("k")
	clock.Advance(90 * time.Second)

	// A fresh Put lands between the observation and the purge.
	s.Put("k", "new", query.IntentPrice)
	s.purge("k", old)

	e, ok := s.Get("k")
	if !ok || e.Payload != "new" {
		t.Error("purge removed an entry written after the stale observation")
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("fresh", 1, query.IntentPrice)
	s.Put("gone", 2, query.IntentPrice)

	// Age both past grace, then rewrite "fresh" so only "gone" is sweepable.
	clock.Advance(90 * time.Second)
	s.Put("fresh", 1, query.IntentPrice)

	if removed := s.sweep(); removed != 1 {
		t.Errorf("sweep removed %d entries, want 1", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d after sweep, want 1", s.Len())
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Error("sweep removed a live entry")
	}
}

func TestJanitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Janitor(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Janitor did not stop after context cancellation")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	s.Put("p", "v", query.IntentPrice)
	s.Put("h", "v", query.IntentHistorical)

	clock.Advance(60 * time.Second) // price expired, historical fresh

	st := s.Stats()
	if st.Total != 2 {
		t.Errorf("Total = %d, want 2", st.Total)
	}
	if st.Active != 1 {
		t.Errorf("Active = %d, want 1", st.Active)
	}
	if st.Expired != 1 {
		t.Errorf("Expired = %d, want 1", st.Expired)
	}
	if st.ByIntent["price"] != 1 || st.ByIntent["historical"] != 1 {
		t.Errorf("ByIntent = %v", st.ByIntent)
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := newTestStore(clock)
	key := Fingerprint(query.IntentPrice, map[string]any{"symbol": "XAU/USD"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Put(key, j, query.IntentPrice)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if e, ok := s.Get(key); ok && e.Payload == nil {
					t.Error("observed half-written entry")
					return
				}
				s.Stats()
			}
		}()
	}
	wg.Wait()
}
