// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
)

// ErrNotFound is returned when a recipe id does not exist.
var ErrNotFound = errors.New("recipe not found")

// RecipeStore persists and loads recipes. The engine treats steps as an
// opaque ordered array it serializes as JSON; order must survive a
// round-trip exactly.
type RecipeStore interface {
	List(ctx context.Context) ([]schemas.Recipe, error)
	Get(ctx context.Context, id string) (*schemas.Recipe, error)
	Create(ctx context.Context, r *schemas.Recipe) error
	Update(ctx context.Context, r *schemas.Recipe) error
	Delete(ctx context.Context, id string) error
	// UpdateLastRun records a successful run without rewriting steps.
	UpdateLastRun(ctx context.Context, id string, at time.Time, method schemas.ScrapeMethod) error
	Close(ctx context.Context) error
}

// TransactionSink receives extracted transactions for insertion into the
// finance ledger.
type TransactionSink interface {
	InsertTransactions(ctx context.Context, recipeID, accountID string, txs []schemas.ScrapedTransaction) error
}

// Store is the full persistence surface the engine needs.
type Store interface {
	RecipeStore
	TransactionSink
}

// New selects a backend from configuration. The desktop build defaults to
// the embedded sqlite database.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "sqlite", "":
		return NewSQLiteStore(ctx, cfg.Path, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres.URL(), logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
