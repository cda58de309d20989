// File: internal/store/sqlite.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wrenfin/wren/api/schemas"
)

var stepsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLiteStore persists recipes and extracted transactions in an embedded
// sqlite database. It is the default backend for the desktop build.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS recipes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	start_url TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	steps TEXT NOT NULL,
	last_run_at TEXT,
	last_scraping_method TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipe_id TEXT NOT NULL,
	account_id TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	description TEXT NOT NULL,
	amount TEXT NOT NULL,
	balance TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	row_index INTEGER NOT NULL,
	confidence INTEGER NOT NULL,
	imported_at TEXT NOT NULL
);
`

// NewSQLiteStore creates (or opens) the database at path, creating parent
// directories as needed.
func NewSQLiteStore(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s := &SQLiteStore{db: db, log: logger.Named("store")}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// List returns all recipes ordered by name. The scheduler relies on this
// ordering for its stable batch sequence.
func (s *SQLiteStore) List(ctx context.Context) ([]schemas.Recipe, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, start_url, account_id, steps, last_run_at, last_scraping_method
		 FROM recipes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var out []schemas.Recipe
	for rows.Next() {
		r, err := scanRecipe(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Get loads one recipe by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*schemas.Recipe, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_url, account_id, steps, last_run_at, last_scraping_method
		 FROM recipes WHERE id = ?`, id)
	r, err := scanRecipe(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func scanRecipe(scan func(...any) error) (*schemas.Recipe, error) {
	var r schemas.Recipe
	var steps string
	var lastRun sql.NullString
	var method string
	if err := scan(&r.ID, &r.Name, &r.StartURL, &r.AccountID, &steps, &lastRun, &method); err != nil {
		return nil, err
	}
	if err := stepsJSON.UnmarshalFromString(steps, &r.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps column for recipe %s: %w", r.ID, err)
	}
	if lastRun.Valid && lastRun.String != "" {
		t, err := time.Parse(time.RFC3339Nano, lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_run_at for recipe %s: %w", r.ID, err)
		}
		r.LastRunAt = &t
	}
	r.LastScrapingMethod = schemas.ScrapeMethod(method)
	return &r, nil
}

// Create persists a new recipe.
func (s *SQLiteStore) Create(ctx context.Context, r *schemas.Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	steps, err := stepsJSON.MarshalToString(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recipes (id, name, start_url, account_id, steps, last_scraping_method)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.StartURL, r.AccountID, steps, string(r.LastScrapingMethod))
	if err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	return nil
}

// Update rewrites the full recipe row.
func (s *SQLiteStore) Update(ctx context.Context, r *schemas.Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	steps, err := stepsJSON.MarshalToString(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	var lastRun any
	if r.LastRunAt != nil {
		lastRun = r.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipes SET name = ?, start_url = ?, account_id = ?, steps = ?,
		 last_run_at = ?, last_scraping_method = ? WHERE id = ?`,
		r.Name, r.StartURL, r.AccountID, steps, lastRun, string(r.LastScrapingMethod), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update recipe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a recipe. Its imported transactions remain in the ledger.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recipes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastRun records a successful run.
func (s *SQLiteStore) UpdateLastRun(ctx context.Context, id string, at time.Time, method schemas.ScrapeMethod) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recipes SET last_run_at = ?, last_scraping_method = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), string(method), id)
	if err != nil {
		return fmt.Errorf("failed to update last run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTransactions appends extracted transactions to the ledger inside a
// single transaction so a partial batch never lands.
func (s *SQLiteStore) InsertTransactions(ctx context.Context, recipeID, accountID string, txs []schemas.ScrapedTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions
		 (recipe_id, account_id, date, description, amount, balance, category, row_index, confidence, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range txs {
		if _, err := stmt.ExecContext(ctx,
			recipeID, accountID, t.Date, t.Description, t.Amount,
			t.Balance, t.Category, t.Index, t.Confidence, now); err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", t.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	s.log.Debug("Inserted transactions", zap.String("recipe_id", recipeID), zap.Int("count", len(txs)))
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}
