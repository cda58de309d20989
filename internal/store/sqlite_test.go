// File: internal/store/sqlite_test.go
package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(),
		filepath.Join(t.TempDir(), "wren.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func sampleRecipe(id, name string) *schemas.Recipe {
	return &schemas.Recipe{
		ID:       id,
		Name:     name,
		StartURL: "https://bank.example/login",
		Steps: []schemas.RecordingStep{
			{
				Type: schemas.StepInput,
				Identification: schemas.ElementIdentification{
					Placeholder:  "Username",
					Role:         "input",
					NearbyLabels: []string{"User ID"},
					Coordinates:  &schemas.Point{X: 120, Y: 240},
					Viewport:     &schemas.Viewport{Width: 1280, Height: 900},
				},
				Value:     "alex",
				Timestamp: 1700000000000,
			},
			{
				Type: schemas.StepInput,
				Identification: schemas.ElementIdentification{
					Placeholder: "Password",
					Role:        "input",
				},
				Value:       schemas.RedactedValue,
				IsSensitive: true,
				FieldLabel:  "Password",
				Timestamp:   1700000001000,
			},
			{
				Type: schemas.StepClick,
				Identification: schemas.ElementIdentification{
					Text: "Sign In",
					Role: "button",
				},
				Timestamp: 1700000002000,
			},
			{
				Type:      schemas.StepNavigation,
				Value:     "https://bank.example/accounts",
				Timestamp: 1700000003000,
			},
		},
	}
}

// Step order and every identification attribute must survive a round-trip
// bit for bit.
func TestSQLiteRecipeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := sampleRecipe("r1", "chase-checking")
	require.NoError(t, s.Create(ctx, want))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("recipe changed across round-trip (-want +got):\n%s", diff)
	}
}

func TestSQLiteGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteListOrdersByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"zeta-bank", "alpha-bank", "mid-bank"} {
		require.NoError(t, s.Create(ctx, sampleRecipe("id-"+name, name)))
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "alpha-bank", list[0].Name)
	assert.Equal(t, "mid-bank", list[1].Name)
	assert.Equal(t, "zeta-bank", list[2].Name)
}

func TestSQLiteUpdateLastRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRecipe("r1", "chase-checking")))

	at := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateLastRun(ctx, "r1", at, schemas.ScrapeMethodVision))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(at))
	assert.Equal(t, schemas.ScrapeMethodVision, got.LastScrapingMethod)

	assert.ErrorIs(t, s.UpdateLastRun(ctx, "missing", at, schemas.ScrapeMethodDOM), store.ErrNotFound)
}

func TestSQLiteUpdateAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := sampleRecipe("r1", "chase-checking")
	require.NoError(t, s.Create(ctx, r))

	r.Name = "chase-savings"
	r.Steps = r.Steps[:2]
	require.NoError(t, s.Update(ctx, r))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "chase-savings", got.Name)
	assert.Len(t, got.Steps, 2)

	require.NoError(t, s.Delete(ctx, "r1"))
	assert.ErrorIs(t, s.Delete(ctx, "r1"), store.ErrNotFound)
	_, err = s.Get(ctx, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteInsertTransactions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, sampleRecipe("r1", "chase-checking")))

	txs := []schemas.ScrapedTransaction{
		{Date: "01/15/2026", Description: "GROCERY MART", Amount: "-82.10", Balance: "1420.33", Index: 1, Confidence: 100},
		{Date: "01/16/2026", Description: "COFFEE SHOP", Amount: "-4.50", Index: 2, Confidence: 80},
	}
	require.NoError(t, s.InsertTransactions(ctx, "r1", "acct-1", txs))

	// Inserting nothing is a no-op, not an error.
	require.NoError(t, s.InsertTransactions(ctx, "r1", "acct-1", nil))
}
