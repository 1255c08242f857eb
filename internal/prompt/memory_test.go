package prompt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func mustCreate(t *testing.T, store Store, params CreateParams) Prompt {
	t.Helper()
	p, err := store.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("Create(%q) unexpected error: %v", params.Name, err)
	}
	return p
}

// activeCount counts active prompts via List.
func activeCount(t *testing.T, store Store) int {
	t.Helper()
	prompts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	n := 0
	for _, p := range prompts {
		if p.Active {
			n++
		}
	}
	return n
}

func TestNewMemorySeedsDefault(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active() unexpected error: %v", err)
	}
	if active.Name != DefaultName {
		t.Errorf("active name = %q, want %q", active.Name, DefaultName)
	}
	if active.Content != DefaultContent {
		t.Errorf("active content does not match DefaultContent")
	}
	if !active.Active {
		t.Error("seeded prompt is not marked active")
	}
	if active.ID == uuid.Nil {
		t.Error("seeded prompt has nil ID")
	}
	if active.CreatedAt.IsZero() || active.UpdatedAt.IsZero() {
		t.Error("seeded prompt has zero timestamps")
	}

	prompts, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(prompts) != 1 {
		t.Errorf("List() returned %d prompts, want 1", len(prompts))
	}
}

func TestMemoryCreate(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{
		Name:        "concise",
		Content:     "Answer briefly.",
		Description: "short answers",
	})

	if created.Name != "concise" || created.Content != "Answer briefly." || created.Description != "short answers" {
		t.Errorf("created prompt fields = %+v", created)
	}
	if created.Active {
		t.Error("Create without Activate produced an active prompt")
	}
	if created.ID == uuid.Nil {
		t.Error("created prompt has nil ID")
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("fresh prompt timestamps differ: created %v updated %v", created.CreatedAt, created.UpdatedAt)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if got != created {
		t.Errorf("Get() = %+v, want %+v", got, created)
	}
}

func TestMemoryCreateValidation(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateParams{Content: "no name"}); !errors.Is(err, errEmptyName) {
		t.Errorf("Create without name: err = %v, want errEmptyName", err)
	}
	if _, err := store.Create(ctx, CreateParams{Name: "no-content"}); !errors.Is(err, errEmptyContent) {
		t.Errorf("Create without content: err = %v, want errEmptyContent", err)
	}
}

func TestMemoryCreateNameTaken(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	if _, err := store.Create(ctx, CreateParams{Name: DefaultName, Content: "clone"}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("Create(%q): err = %v, want ErrNameTaken", DefaultName, err)
	}
}

func TestMemoryCreateActivate(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "trader", Content: "Talk like a trader.", Activate: true})
	if !created.Active {
		t.Fatal("Create with Activate returned an inactive prompt")
	}

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active() unexpected error: %v", err)
	}
	if active.ID != created.ID {
		t.Errorf("active prompt = %q, want %q", active.Name, created.Name)
	}
	if n := activeCount(t, store); n != 1 {
		t.Errorf("active prompts = %d, want 1", n)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	if _, err := store.Get(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(random): err = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByName(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName(missing): err = %v, want ErrNotFound", err)
	}
}

func TestMemoryGetByName(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "verbose", Content: "Explain everything."})
	got, err := store.GetByName(ctx, "verbose")
	if err != nil {
		t.Fatalf("GetByName() unexpected error: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("GetByName() ID = %s, want %s", got.ID, created.ID)
	}
}

func TestMemoryListNewestFirst(t *testing.T) {
	t.Parallel()
	store := NewMemory()

	a := mustCreate(t, store, CreateParams{Name: "a", Content: "A"})
	b := mustCreate(t, store, CreateParams{Name: "b", Content: "B"})
	c := mustCreate(t, store, CreateParams{Name: "c", Content: "C"})

	prompts, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(prompts) != 4 {
		t.Fatalf("List() returned %d prompts, want 4", len(prompts))
	}
	wantOrder := []Prompt{c, b, a}
	for i, want := range wantOrder {
		if prompts[i].ID != want.ID {
			t.Errorf("List()[%d].Name = %q, want %q", i, prompts[i].Name, want.Name)
		}
	}
	if prompts[3].Name != DefaultName {
		t.Errorf("List()[3].Name = %q, want the seeded default last", prompts[3].Name)
	}
}

func TestMemoryUpdate(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "old", Content: "old content", Description: "old desc"})

	newName := "new"
	newContent := "new content"
	updated, err := store.Update(ctx, created.ID, UpdateParams{Name: &newName, Content: &newContent})
	if err != nil {
		t.Fatalf("Update() unexpected error: %v", err)
	}
	if updated.Name != "new" || updated.Content != "new content" {
		t.Errorf("Update() = %+v", updated)
	}
	if updated.Description != "old desc" {
		t.Errorf("Update() touched description: %q", updated.Description)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("Update() changed CreatedAt")
	}

	// The old name is free again.
	if _, err := store.GetByName(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName(old) after rename: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryUpdateNameTaken(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "mine", Content: "x"})

	taken := DefaultName
	if _, err := store.Update(ctx, created.ID, UpdateParams{Name: &taken}); !errors.Is(err, ErrNameTaken) {
		t.Errorf("Update to taken name: err = %v, want ErrNameTaken", err)
	}

	// Renaming to its own name is a no-op, not a conflict.
	same := "mine"
	if _, err := store.Update(ctx, created.ID, UpdateParams{Name: &same}); err != nil {
		t.Errorf("Update to own name: unexpected error %v", err)
	}
}

func TestMemoryUpdateActiveFlag(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "next", Content: "x"})

	on := true
	updated, err := store.Update(ctx, created.ID, UpdateParams{Active: &on})
	if err != nil {
		t.Fatalf("Update(Active=true) unexpected error: %v", err)
	}
	if !updated.Active {
		t.Error("Update(Active=true) left prompt inactive")
	}
	if n := activeCount(t, store); n != 1 {
		t.Errorf("active prompts = %d, want 1", n)
	}

	// Deactivating the only active prompt leaves none active.
	off := false
	if _, err := store.Update(ctx, created.ID, UpdateParams{Active: &off}); err != nil {
		t.Fatalf("Update(Active=false) unexpected error: %v", err)
	}
	if _, err := store.Active(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Active() with no active prompt: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryUpdateNotFound(t *testing.T) {
	t.Parallel()
	store := NewMemory()

	name := "ghost"
	if _, err := store.Update(context.Background(), uuid.New(), UpdateParams{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(random): err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	created := mustCreate(t, store, CreateParams{Name: "temp", Content: "x"})
	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete: err = %v, want ErrNotFound", err)
	}

	if err := store.Delete(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() twice: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryDeleteActiveRefused(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active() unexpected error: %v", err)
	}
	if err := store.Delete(ctx, active.ID); !errors.Is(err, ErrPromptActive) {
		t.Errorf("Delete(active): err = %v, want ErrPromptActive", err)
	}

	// Activate a replacement, then the old default deletes fine.
	replacement := mustCreate(t, store, CreateParams{Name: "replacement", Content: "x", Activate: true})
	if err := store.Delete(ctx, active.ID); err != nil {
		t.Errorf("Delete(former active): unexpected error %v", err)
	}
	if got, err := store.Active(ctx); err != nil || got.ID != replacement.ID {
		t.Errorf("Active() = %+v, %v, want the replacement", got, err)
	}
}

func TestMemoryActivate(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	first := mustCreate(t, store, CreateParams{Name: "first", Content: "x"})
	second := mustCreate(t, store, CreateParams{Name: "second", Content: "y"})

	activated, err := store.Activate(ctx, first.ID)
	if err != nil {
		t.Fatalf("Activate() unexpected error: %v", err)
	}
	if !activated.Active {
		t.Error("Activate() returned an inactive prompt")
	}

	if _, err := store.Activate(ctx, second.ID); err != nil {
		t.Fatalf("Activate(second) unexpected error: %v", err)
	}
	active, err := store.Active(ctx)
	if err != nil {
		t.Fatalf("Active() unexpected error: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active prompt = %q, want %q", active.Name, second.Name)
	}
	if n := activeCount(t, store); n != 1 {
		t.Errorf("active prompts = %d, want 1", n)
	}

	if _, err := store.Activate(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Activate(random): err = %v, want ErrNotFound", err)
	}
}

func TestMemoryConcurrentActivate(t *testing.T) {
	t.Parallel()
	store := NewMemory()
	ctx := context.Background()

	ids := make([]uuid.UUID, 4)
	for i := range ids {
		ids[i] = mustCreate(t, store, CreateParams{Name: fmt.Sprintf("p%d", i), Content: "x"}).ID
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Activate(ctx, ids[i%len(ids)]); err != nil {
				t.Errorf("Activate() unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := activeCount(t, store); n != 1 {
		t.Errorf("active prompts after concurrent Activate = %d, want 1", n)
	}
}
