// Package cache provides the content-addressed response cache. Keys are
// deterministic fingerprints of (intent, normalized parameters); entries
// carry a TTL class chosen by intent and are retained one extra TTL period
// past expiry as stale-fallback candidates before being purged.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/finquery/finquery/internal/query"
)

// Default TTL classes: prices move fast, series and lists slowly.
const (
	DefaultPriceTTL = 45 * time.Second
	DefaultSlowTTL  = 300 * time.Second
)

// Fingerprint derives the cache key for an intent and its normalized
// parameters. json.Marshal sorts map keys, so logically identical parameter
// sets always hash identically regardless of construction order. A nil map
// is treated as empty.
func Fingerprint(intent query.Intent, params map[string]any) string {
	data := []byte("{}")
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			data = b
		}
	}
	h := sha256.New()
	h.Write([]byte(intent))
	h.Write([]byte{':'})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a cached response snapshot handed to callers.
type Entry struct {
	Payload  any
	Intent   query.Intent
	StoredAt time.Time
}

// entry is the immutable stored form. Put replaces the whole pointer, so
// fields are never mutated after insert and may be read without the lock
// once the pointer is held.
type entry struct {
	payload  any
	intent   query.Intent
	storedAt time.Time
}

func (e *entry) snapshot() *Entry {
	return &Entry{Payload: e.payload, Intent: e.intent, StoredAt: e.storedAt}
}

// Stats describes the store's current population.
type Stats struct {
	Total    int            `json:"total_entries"`
	Active   int            `json:"active_entries"`
	Expired  int            `json:"expired_entries"`
	ByIntent map[string]int `json:"by_type"`
}

// Config configures a Store. Zero values select the defaults; Now is a test
// hook and defaults to time.Now.
type Config struct {
	PriceTTL time.Duration
	SlowTTL  time.Duration
	Now      func() time.Time
}

// Store is an in-memory TTL cache safe for concurrent use. A Put racing a
// Get never exposes a half-written entry; concurrent Puts are
// last-writer-wins.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	priceTTL time.Duration
	slowTTL  time.Duration
	now      func() time.Time
}

// New returns an empty Store.
func New(cfg Config) *Store {
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = DefaultPriceTTL
	}
	if cfg.SlowTTL <= 0 {
		cfg.SlowTTL = DefaultSlowTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		entries:  make(map[string]*entry),
		priceTTL: cfg.PriceTTL,
		slowTTL:  cfg.SlowTTL,
		now:      cfg.Now,
	}
}

// ttl selects the TTL class for an intent. Historical series, indicator
// series, the commodities list and web-search results age slowly; everything
// else uses the price TTL.
func (s *Store) ttl(in query.Intent) time.Duration {
	switch in {
	case query.IntentHistorical, query.IntentIndicator, query.IntentCommodities, query.IntentWebSearch:
		return s.slowTTL
	default:
		return s.priceTTL
	}
}

// Put stores payload under key. The stored-at timestamp is taken at call
// time; an existing entry is replaced wholesale.
func (s *Store) Put(key string, payload any, intent query.Intent) {
	e := &entry{payload: payload, intent: intent, storedAt: s.now()}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Get returns the entry only while it is fresh (age < TTL). An expired entry
// reports a miss but is retained for GetStale until one extra TTL period has
// passed, after which the lookup purges it.
func (s *Store) Get(key string) (*Entry, bool) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	age := s.now().Sub(e.storedAt)
	ttl := s.ttl(e.intent)
	if age >= 2*ttl {
		s.purge(key, e)
		return nil, false
	}
	if age >= ttl {
		return nil, false
	}
	return e.snapshot(), true
}

// GetStale returns the entry whether fresh or expired, as long as it is
// still within the stale grace period (one extra TTL). Used when a live
// fetch fails and best-effort data beats an error.
func (s *Store) GetStale(key string) (*Entry, bool) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, false
	}
	age := s.now().Sub(e.storedAt)
	if age >= 2*s.ttl(e.intent) {
		s.purge(key, e)
		return nil, false
	}
	return e.snapshot(), true
}

// Len reports the number of entries currently held, purged or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats counts entries by freshness and intent.
func (s *Store) Stats() Stats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByIntent: make(map[string]int)}
	for _, e := range s.entries {
		st.Total++
		st.ByIntent[string(e.intent)]++
		if now.Sub(e.storedAt) < s.ttl(e.intent) {
			st.Active++
		} else {
			st.Expired++
		}
	}
	return st
}

// Janitor sweeps entries past their stale grace period on a ticker until ctx
// is done. Run it in its own goroutine.
func (s *Store) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep removes every entry past ttl+grace and reports how many went.
func (s *Store) sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if now.Sub(e.storedAt) >= 2*s.ttl(e.intent) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// lookup fetches the live pointer for key under the read lock.
func (s *Store) lookup(key string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// purge deletes key only if it still holds the same entry observed by the
// caller, so a concurrent Put is never thrown away.
func (s *Store) purge(key string, observed *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur == observed {
		delete(s.entries, key)
	}
}
