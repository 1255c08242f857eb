package prompt

import "errors"

// Sentinel errors for prompt store operations, checked with errors.Is().
//
// Example:
//
//	p, err := store.Create(ctx, params)
//	if errors.Is(err, prompt.ErrNameTaken) {
//	    // report the name conflict to the client
//	}
var (
	// ErrNotFound indicates no prompt matches the lookup. Active returns it
	// when no prompt is currently active.
	ErrNotFound = errors.New("prompt not found")

	// ErrNameTaken indicates another prompt already uses the requested name.
	ErrNameTaken = errors.New("prompt name already taken")

	// ErrPromptActive indicates a Delete targeted the active prompt, which
	// refuses deletion until another prompt is activated.
	ErrPromptActive = errors.New("prompt is active")
)

// Validation errors returned by Create before touching storage.
var (
	errEmptyName    = errors.New("prompt name is required")
	errEmptyContent = errors.New("prompt content is required")
)
