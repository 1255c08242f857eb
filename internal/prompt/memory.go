package prompt

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRecord pairs a stored prompt with its insertion sequence so List can
// order newest-first even when two prompts share a creation timestamp.
type memRecord struct {
	p   Prompt
	seq uint64
}

// Memory is the in-process Store used when no database is configured.
// It is seeded with the built-in default prompt, already active.
//
// Memory is safe for concurrent use by multiple goroutines. Prompt values
// are returned by value, so callers can never mutate stored records.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*memRecord
	seq     uint64
}

// NewMemory creates a Memory store seeded with the default prompt.
func NewMemory() *Memory {
	m := &Memory{records: make(map[uuid.UUID]*memRecord)}
	now := time.Now().UTC()
	m.insert(Prompt{
		ID:          uuid.New(),
		Name:        DefaultName,
		Content:     DefaultContent,
		Description: defaultDescription,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return m
}

// insert stores p under the next sequence number. Callers hold mu or have
// exclusive access.
func (m *Memory) insert(p Prompt) {
	m.seq++
	m.records[p.ID] = &memRecord{p: p, seq: m.seq}
}

// Active implements Store.
func (m *Memory) Active(context.Context) (Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.p.Active {
			return rec.p, nil
		}
	}
	return Prompt{}, ErrNotFound
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return Prompt{}, ErrNotFound
	}
	return rec.p, nil
}

// GetByName implements Store.
func (m *Memory) GetByName(_ context.Context, name string) (Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.p.Name == name {
			return rec.p, nil
		}
	}
	return Prompt{}, ErrNotFound
}

// List implements Store.
func (m *Memory) List(context.Context) ([]Prompt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*memRecord, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })

	prompts := make([]Prompt, len(recs))
	for i, rec := range recs {
		prompts[i] = rec.p
	}
	return prompts, nil
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, params CreateParams) (Prompt, error) {
	if err := validateCreate(params); err != nil {
		return Prompt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.p.Name == params.Name {
			return Prompt{}, ErrNameTaken
		}
	}

	if params.Activate {
		m.deactivateAll(uuid.Nil)
	}

	now := time.Now().UTC()
	p := Prompt{
		ID:          uuid.New(),
		Name:        params.Name,
		Content:     params.Content,
		Description: params.Description,
		Active:      params.Activate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.insert(p)
	return p, nil
}

// Update implements Store.
func (m *Memory) Update(_ context.Context, id uuid.UUID, params UpdateParams) (Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Prompt{}, ErrNotFound
	}

	if params.Name != nil && *params.Name != rec.p.Name {
		for _, other := range m.records {
			if other.p.ID != id && other.p.Name == *params.Name {
				return Prompt{}, ErrNameTaken
			}
		}
		rec.p.Name = *params.Name
	}
	if params.Content != nil {
		rec.p.Content = *params.Content
	}
	if params.Description != nil {
		rec.p.Description = *params.Description
	}
	if params.Active != nil {
		if *params.Active {
			m.deactivateAll(id)
		}
		rec.p.Active = *params.Active
	}
	rec.p.UpdatedAt = time.Now().UTC()
	return rec.p, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.p.Active {
		return ErrPromptActive
	}
	delete(m.records, id)
	return nil
}

// Activate implements Store.
func (m *Memory) Activate(_ context.Context, id uuid.UUID) (Prompt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Prompt{}, ErrNotFound
	}

	m.deactivateAll(id)
	rec.p.Active = true
	rec.p.UpdatedAt = time.Now().UTC()
	return rec.p, nil
}

// deactivateAll clears the active flag on every prompt except the one with
// the given ID. Callers hold mu.
func (m *Memory) deactivateAll(except uuid.UUID) {
	for _, rec := range m.records {
		if rec.p.ID != except && rec.p.Active {
			rec.p.Active = false
			rec.p.UpdatedAt = time.Now().UTC()
		}
	}
}
