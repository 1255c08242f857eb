package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// promptCols is the standard SELECT column list for scanPrompt.
const promptCols = `id, name, content, description, is_active, created_at, updated_at`

// activeLockKey feeds pg_advisory_xact_lock to serialize active-flag
// changes. Without it, two transactions flipping the flag on different rows
// could lock those rows in opposite orders.
const activeLockKey = "system_prompts.active"

// Postgres is the pgx-backed Store. The schema comes from the embedded
// migrations in the db package; a partial unique index guarantees at most
// one active prompt even if application logic slips.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store. On first boot (empty table) it
// seeds the default prompt as the active one; after that the table belongs
// to the operators and is never re-seeded.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Postgres{pool: pool, logger: logger}
	if err := p.seedDefault(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// seedDefault inserts the built-in prompt when the table is empty.
func (p *Postgres) seedDefault(ctx context.Context) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO system_prompts (id, name, content, description, is_active)
		 SELECT $1, $2, $3, $4, true
		 WHERE NOT EXISTS (SELECT 1 FROM system_prompts)
		 ON CONFLICT (name) DO NOTHING`,
		uuid.New(), DefaultName, DefaultContent, defaultDescription,
	)
	if isUniqueViolation(err) {
		// A concurrent boot won the seed race on the single-active index.
		p.logger.Debug("default prompt seeded concurrently")
		return nil
	}
	if err != nil {
		return fmt.Errorf("seeding default prompt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		p.logger.Info("seeded default system prompt")
	}
	return nil
}

// Active implements Store.
func (p *Postgres) Active(ctx context.Context) (Prompt, error) {
	pr, err := scanPrompt(p.pool.QueryRow(ctx,
		`SELECT `+promptCols+` FROM system_prompts WHERE is_active LIMIT 1`))
	switch {
	case errors.Is(err, ErrNotFound):
		return Prompt{}, ErrNotFound
	case err != nil:
		return Prompt{}, fmt.Errorf("querying active prompt: %w", err)
	}
	return pr, nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (Prompt, error) {
	pr, err := scanPrompt(p.pool.QueryRow(ctx,
		`SELECT `+promptCols+` FROM system_prompts WHERE id = $1`, id))
	switch {
	case errors.Is(err, ErrNotFound):
		return Prompt{}, ErrNotFound
	case err != nil:
		return Prompt{}, fmt.Errorf("querying prompt %s: %w", id, err)
	}
	return pr, nil
}

// GetByName implements Store.
func (p *Postgres) GetByName(ctx context.Context, name string) (Prompt, error) {
	pr, err := scanPrompt(p.pool.QueryRow(ctx,
		`SELECT `+promptCols+` FROM system_prompts WHERE name = $1`, name))
	switch {
	case errors.Is(err, ErrNotFound):
		return Prompt{}, ErrNotFound
	case err != nil:
		return Prompt{}, fmt.Errorf("querying prompt %q: %w", name, err)
	}
	return pr, nil
}

// List implements Store.
func (p *Postgres) List(ctx context.Context) ([]Prompt, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+promptCols+` FROM system_prompts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	defer rows.Close()

	prompts := []Prompt{}
	for rows.Next() {
		var pr Prompt
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.Content, &pr.Description,
			&pr.Active, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		prompts = append(prompts, pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prompts: %w", err)
	}
	return prompts, nil
}

// Create implements Store.
func (p *Postgres) Create(ctx context.Context, params CreateParams) (Prompt, error) {
	if err := validateCreate(params); err != nil {
		return Prompt{}, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Prompt{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer p.rollback(ctx, tx)

	if params.Activate {
		if err := lockActive(ctx, tx); err != nil {
			return Prompt{}, err
		}
		if err := deactivateOthers(ctx, tx, uuid.Nil); err != nil {
			return Prompt{}, err
		}
	}

	created, err := scanPrompt(tx.QueryRow(ctx,
		`INSERT INTO system_prompts (id, name, content, description, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+promptCols,
		uuid.New(), params.Name, params.Content, params.Description, params.Activate))
	switch {
	case isUniqueViolation(err):
		return Prompt{}, ErrNameTaken
	case err != nil:
		return Prompt{}, fmt.Errorf("inserting prompt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Prompt{}, fmt.Errorf("committing prompt create: %w", err)
	}
	return created, nil
}

// Update implements Store.
func (p *Postgres) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (Prompt, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Prompt{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer p.rollback(ctx, tx)

	if params.Active != nil && *params.Active {
		if err := lockActive(ctx, tx); err != nil {
			return Prompt{}, err
		}
	}

	cur, err := scanPrompt(tx.QueryRow(ctx,
		`SELECT `+promptCols+` FROM system_prompts WHERE id = $1 FOR UPDATE`, id))
	switch {
	case errors.Is(err, ErrNotFound):
		return Prompt{}, ErrNotFound
	case err != nil:
		return Prompt{}, fmt.Errorf("locking prompt %s: %w", id, err)
	}

	if params.Name != nil {
		cur.Name = *params.Name
	}
	if params.Content != nil {
		cur.Content = *params.Content
	}
	if params.Description != nil {
		cur.Description = *params.Description
	}
	if params.Active != nil {
		if *params.Active {
			if err := deactivateOthers(ctx, tx, id); err != nil {
				return Prompt{}, err
			}
		}
		cur.Active = *params.Active
	}

	updated, err := scanPrompt(tx.QueryRow(ctx,
		`UPDATE system_prompts
		 SET name = $1, content = $2, description = $3, is_active = $4, updated_at = now()
		 WHERE id = $5
		 RETURNING `+promptCols,
		cur.Name, cur.Content, cur.Description, cur.Active, id))
	switch {
	case isUniqueViolation(err):
		return Prompt{}, ErrNameTaken
	case err != nil:
		return Prompt{}, fmt.Errorf("updating prompt %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Prompt{}, fmt.Errorf("committing prompt update: %w", err)
	}
	return updated, nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	// Atomic: the active prompt never matches the predicate.
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM system_prompts WHERE id = $1 AND NOT is_active`, id)
	if err != nil {
		return fmt.Errorf("deleting prompt %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish not-found from active.
		var active bool
		lookupErr := p.pool.QueryRow(ctx,
			`SELECT is_active FROM system_prompts WHERE id = $1`, id).Scan(&active)
		switch {
		case errors.Is(lookupErr, pgx.ErrNoRows):
			return ErrNotFound
		case lookupErr != nil:
			return fmt.Errorf("looking up prompt %s: %w", id, lookupErr)
		case active:
			return ErrPromptActive
		}
		// Deleted concurrently between the two statements.
		return ErrNotFound
	}
	return nil
}

// Activate implements Store.
func (p *Postgres) Activate(ctx context.Context, id uuid.UUID) (Prompt, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Prompt{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer p.rollback(ctx, tx)

	if err := lockActive(ctx, tx); err != nil {
		return Prompt{}, err
	}
	if err := deactivateOthers(ctx, tx, id); err != nil {
		return Prompt{}, err
	}

	activated, err := scanPrompt(tx.QueryRow(ctx,
		`UPDATE system_prompts
		 SET is_active = true, updated_at = now()
		 WHERE id = $1
		 RETURNING `+promptCols, id))
	switch {
	case errors.Is(err, ErrNotFound):
		return Prompt{}, ErrNotFound
	case err != nil:
		return Prompt{}, fmt.Errorf("activating prompt %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Prompt{}, fmt.Errorf("committing prompt activation: %w", err)
	}
	p.logger.Info("activated system prompt", "id", activated.ID, "name", activated.Name)
	return activated, nil
}

// rollback closes tx unless it already committed.
func (p *Postgres) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		p.logger.Debug("transaction rollback", "error", err)
	}
}

// lockActive serializes transactions that change the active flag.
// pg_advisory_xact_lock releases automatically at commit/rollback.
func lockActive(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, activeLockKey); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}
	return nil
}

// deactivateOthers clears the active flag on every prompt except the one
// with the given ID. Pass uuid.Nil to clear all.
func deactivateOthers(ctx context.Context, tx pgx.Tx, except uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE system_prompts SET is_active = false, updated_at = now()
		 WHERE is_active AND id <> $1`, except)
	if err != nil {
		return fmt.Errorf("deactivating prompts: %w", err)
	}
	return nil
}

// scanPrompt reads one Prompt from a row, mapping pgx.ErrNoRows to
// ErrNotFound. Callers add operation context to other errors.
func scanPrompt(row pgx.Row) (Prompt, error) {
	var pr Prompt
	err := row.Scan(&pr.ID, &pr.Name, &pr.Content, &pr.Description,
		&pr.Active, &pr.CreatedAt, &pr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Prompt{}, ErrNotFound
	}
	if err != nil {
		return Prompt{}, err
	}
	return pr, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
