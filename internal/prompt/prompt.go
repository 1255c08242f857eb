// Package prompt stores the system prompts that steer the AI agent.
//
// Exactly one prompt may be active at a time; the agent reads the active
// prompt before each run and falls back to DefaultContent when none is
// active or the store fails. Two drivers implement Store: Memory for
// single-process deployments without a database, and Postgres for
// persistent storage.
package prompt

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultName is the name of the built-in prompt both drivers seed.
const DefaultName = "default"

// DefaultContent is the built-in system prompt. It is seeded as the active
// prompt on first start and used directly by the agent whenever the store
// has no active prompt.
const DefaultContent = `You are a helpful financial data assistant powered by FinQuery.

Your role is to help users get real-time financial market data including stock prices, quotes, historical data, technical indicators, and currency conversions.

You have access to various tools to fetch this data. Use them wisely based on what the user asks for:
- For current prices: use get_price
- For detailed quotes: use get_quote
- For historical data: use get_historical_data
- For technical indicators: use get_technical_indicator
- For currency conversions: use convert_currency
- For general web search: use web_search

Always be conversational, accurate, and cite the data source. If you're unsure about something, ask clarifying questions.`

// defaultDescription annotates the seeded prompt so operators can tell it
// apart from user-created ones.
const defaultDescription = "Built-in default system prompt"

// Prompt is one stored system prompt.
type Prompt struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Content     string    `json:"prompt"`
	Description string    `json:"description"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateParams are the inputs for Store.Create.
type CreateParams struct {
	Name        string
	Content     string
	Description string
	// Activate makes the new prompt the active one, deactivating any other.
	Activate bool
}

// UpdateParams are the inputs for Store.Update. Nil fields are left
// unchanged.
type UpdateParams struct {
	Name        *string
	Content     *string
	Description *string
	// Active true deactivates every other prompt in the same operation.
	// Active false deactivates this prompt, leaving no active prompt.
	Active *bool
}

// Store is the system prompt repository.
//
// Implementations are safe for concurrent use. Lookups that miss return
// ErrNotFound, name collisions return ErrNameTaken, and deleting the active
// prompt returns ErrPromptActive; all three are matched with errors.Is.
type Store interface {
	// Active returns the currently active prompt, or ErrNotFound when no
	// prompt is active.
	Active(ctx context.Context) (Prompt, error)

	// Get returns the prompt with the given ID.
	Get(ctx context.Context, id uuid.UUID) (Prompt, error)

	// GetByName returns the prompt with the given name.
	GetByName(ctx context.Context, name string) (Prompt, error)

	// List returns all prompts, newest first.
	List(ctx context.Context) ([]Prompt, error)

	// Create stores a new prompt.
	Create(ctx context.Context, p CreateParams) (Prompt, error)

	// Update applies the non-nil fields of p and returns the updated prompt.
	Update(ctx context.Context, id uuid.UUID, p UpdateParams) (Prompt, error)

	// Delete removes a prompt. The active prompt refuses deletion; activate
	// another prompt first.
	Delete(ctx context.Context, id uuid.UUID) error

	// Activate makes the prompt with the given ID the single active prompt
	// and returns it.
	Activate(ctx context.Context, id uuid.UUID) (Prompt, error)
}

// validateCreate checks the required CreateParams fields.
func validateCreate(p CreateParams) error {
	if p.Name == "" {
		return errEmptyName
	}
	if p.Content == "" {
		return errEmptyContent
	}
	return nil
}
