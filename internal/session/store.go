package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultTimeout      = 60 * time.Minute
	DefaultHistoryLimit = 10
	DefaultRateLimit    = 30
	DefaultRateWindow   = 60 * time.Second
)

// Config configures a Store. Zero values select the defaults; Now is a test
// hook and defaults to time.Now.
type Config struct {
	Timeout      time.Duration
	HistoryLimit int
	RateLimit    int
	RateWindow   time.Duration
	Now          func() time.Time
}

// state is the mutable per-session record. Its mutex serializes all
// operations on one session (the rate-limit check-and-increment in
// particular) while leaving different sessions fully parallel.
type state struct {
	mu sync.Mutex
	s  Session
}

// Store manages sessions in memory.
//
// Store is safe for concurrent use by multiple goroutines: the outer RWMutex
// guards the map, each session's own mutex guards its record, and the two
// are never held together while waiting on the other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state

	timeout      time.Duration
	historyLimit int
	rateLimit    int
	rateWindow   time.Duration
	now          func() time.Time
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultRateWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		sessions:     make(map[string]*state),
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		rateLimit:    cfg.RateLimit,
		rateWindow:   cfg.RateWindow,
		now:          cfg.Now,
	}
}

// Timeout reports the inactivity timeout, for expiry timestamps in API
// responses.
func (st *Store) Timeout() time.Duration {
	return st.timeout
}

// Create registers a new session and returns its snapshot.
func (st *Store) Create(title string) *Session {
	now := st.now()
	sess := Session{
		ID:           uuid.NewString(),
		Title:        title,
		CreatedAt:    now,
		LastActivity: now,
		WindowStart:  now,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = &state{s: sess}
	st.mu.Unlock()

	return snapshot(&sess)
}

// Get returns a snapshot of the session and refreshes its activity
// timestamp. An expired session is removed and reported as
// ErrSessionExpired; later lookups see ErrSessionNotFound.
func (st *Store) Get(id string) (*Session, error) {
	entry, err := st.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if st.expired(&entry.s) {
		st.remove(id, entry)
		return nil, ErrSessionExpired
	}
	entry.s.LastActivity = st.now()
	return snapshot(&entry.s), nil
}

// Touch refreshes the session's activity timestamp without copying it.
func (st *Store) Touch(id string) error {
	entry, err := st.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if st.expired(&entry.s) {
		st.remove(id, entry)
		return ErrSessionExpired
	}
	entry.s.LastActivity = st.now()
	return nil
}

// AppendHistory appends turns to the session's history, trimming to the
// configured limit (oldest first), and refreshes activity. The session title
// is set from the first user turn when still empty, truncated to 50 chars.
func (st *Store) AppendHistory(id string, turns ...Turn) error {
	entry, err := st.lookup(id)
	if err != nil {
		return err
	}

	now := st.now()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if st.expired(&entry.s) {
		st.remove(id, entry)
		return ErrSessionExpired
	}

	for _, t := range turns {
		t = t.clone()
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		if entry.s.Title == "" && t.Role == RoleUser {
			entry.s.Title = titleFrom(t.Content)
		}
		entry.s.History = append(entry.s.History, t)
	}
	if overflow := len(entry.s.History) - st.historyLimit; overflow > 0 {
		entry.s.History = append(entry.s.History[:0:0], entry.s.History[overflow:]...)
	}
	entry.s.LastActivity = now
	return nil
}

// Allow performs the atomic rate-limit check-and-increment. The window
// resets when it has fully elapsed (count restarts at 1); otherwise the
// count increments, and the request is allowed while count <= limit. Two
// concurrent calls never both observe the same pre-increment count.
func (st *Store) Allow(id string) (RateStatus, error) {
	entry, err := st.lookup(id)
	if err != nil {
		return RateStatus{}, err
	}

	now := st.now()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if st.expired(&entry.s) {
		st.remove(id, entry)
		return RateStatus{}, ErrSessionExpired
	}

	if now.Sub(entry.s.WindowStart) >= st.rateWindow {
		entry.s.WindowStart = now
		entry.s.RequestCount = 1
	} else {
		entry.s.RequestCount++
	}
	entry.s.LastActivity = now

	resetIn := st.rateWindow - now.Sub(entry.s.WindowStart)
	return RateStatus{
		Allowed: entry.s.RequestCount <= st.rateLimit,
		Count:   entry.s.RequestCount,
		Limit:   st.rateLimit,
		ResetIn: resetIn,
	}, nil
}

// Delete removes the session.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(st.sessions, id)
	return nil
}

// Len reports the number of sessions currently held, expired or not.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Janitor sweeps expired sessions on a ticker until ctx is done. Run it in
// its own goroutine.
func (st *Store) Janitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

// sweep removes every expired session and reports how many went.
func (st *Store) sweep() int {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		entry, err := st.lookup(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		if st.expired(&entry.s) {
			st.remove(id, entry)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

func (st *Store) lookup(id string) (*state, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	entry, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

func (st *Store) expired(s *Session) bool {
	return st.now().Sub(s.LastActivity) >= st.timeout
}

// remove deletes id only if the map still holds the entry the caller
// observed, so a session recreated under the same id is never dropped.
func (st *Store) remove(id string, observed *state) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[id]; ok && cur == observed {
		delete(st.sessions, id)
	}
}

// snapshot deep-copies a session for handing outside the store.
func snapshot(s *Session) *Session {
	out := *s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		for i, t := range s.History {
			out.History[i] = t.clone()
		}
	}
	return &out
}

// titleFrom derives a session title from the first query: the first 50
// characters with an ellipsis when truncated.
func titleFrom(query string) string {
	const max = 50
	runes := []rune(query)
	if len(runes) <= max {
		return query
	}
	return string(runes[:max]) + "..."
}
