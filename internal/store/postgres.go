// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
)

// PgxIface is the subset of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore is the shared-server backend, for households that point
// several wren installs at one ledger.
type PostgresStore struct {
	pool PgxIface
	log  *zap.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recipes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	start_url TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	steps JSONB NOT NULL,
	last_run_at TIMESTAMPTZ,
	last_scraping_method TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS transactions (
	id BIGSERIAL PRIMARY KEY,
	recipe_id TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	description TEXT NOT NULL,
	amount TEXT NOT NULL,
	balance TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	row_index INT NOT NULL,
	confidence INT NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects a pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	s := NewPostgresStoreWithPool(pool, logger)
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewPostgresStoreWithPool wraps an existing pool. Used by tests.
func NewPostgresStoreWithPool(pool PgxIface, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: logger.Named("store")}
}

// List returns all recipes ordered by name.
func (s *PostgresStore) List(ctx context.Context) ([]schemas.Recipe, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, start_url, account_id, steps, last_run_at, last_scraping_method
		 FROM recipes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var out []schemas.Recipe
	for rows.Next() {
		r, err := scanPgRecipe(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get loads one recipe by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*schemas.Recipe, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, start_url, account_id, steps, last_run_at, last_scraping_method
		 FROM recipes WHERE id = $1`, id)
	r, err := scanPgRecipe(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func scanPgRecipe(scan func(...any) error) (*schemas.Recipe, error) {
	var r schemas.Recipe
	var steps []byte
	var lastRun *time.Time
	var method string
	if err := scan(&r.ID, &r.Name, &r.StartURL, &r.AccountID, &steps, &lastRun, &method); err != nil {
		return nil, err
	}
	if err := stepsJSON.Unmarshal(steps, &r.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps column for recipe %s: %w", r.ID, err)
	}
	r.LastRunAt = lastRun
	r.LastScrapingMethod = schemas.ScrapeMethod(method)
	return &r, nil
}

// Create persists a new recipe.
func (s *PostgresStore) Create(ctx context.Context, r *schemas.Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	steps, err := stepsJSON.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO recipes (id, name, start_url, account_id, steps, last_scraping_method)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Name, r.StartURL, r.AccountID, steps, string(r.LastScrapingMethod))
	if err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	return nil
}

// Update rewrites the full recipe row.
func (s *PostgresStore) Update(ctx context.Context, r *schemas.Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	steps, err := stepsJSON.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET name = $1, start_url = $2, account_id = $3, steps = $4,
		 last_run_at = $5, last_scraping_method = $6 WHERE id = $7`,
		r.Name, r.StartURL, r.AccountID, steps, r.LastRunAt, string(r.LastScrapingMethod), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a recipe.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastRun records a successful run.
func (s *PostgresStore) UpdateLastRun(ctx context.Context, id string, at time.Time, method schemas.ScrapeMethod) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET last_run_at = $1, last_scraping_method = $2 WHERE id = $3`,
		at.UTC(), string(method), id)
	if err != nil {
		return fmt.Errorf("failed to update last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTransactions bulk-inserts via the pgx CopyFrom protocol.
func (s *PostgresStore) InsertTransactions(ctx context.Context, recipeID, accountID string, txs []schemas.ScrapedTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	rows := make([][]any, len(txs))
	for i, t := range txs {
		rows[i] = []any{
			recipeID, accountID, t.Date, t.Description, t.Amount,
			t.Balance, t.Category, t.Index, t.Confidence, now,
		}
	}
	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"transactions"},
		[]string{"recipe_id", "account_id", "date", "description", "amount", "balance", "category", "row_index", "confidence", "imported_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy transactions: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	s.log.Debug("Inserted transactions", zap.String("recipe_id", recipeID), zap.Int("count", len(txs)))
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
