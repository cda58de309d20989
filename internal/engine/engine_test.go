// File: internal/engine/engine_test.go
package engine_test

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/engine"
	"github.com/wrenfin/wren/internal/playback"
	"github.com/wrenfin/wren/internal/recorder"
	"github.com/wrenfin/wren/internal/resolver"
	"github.com/wrenfin/wren/internal/scraper"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTab stands in for a live browser tab. It serves a canned candidate
// snapshot to playback and a canned row set to extraction, and records
// which subsystems touched it.
type fakeTab struct {
	mu         sync.Mutex
	url        string
	candidates []resolver.Candidate
	rows       [][]string
	harvested  bool
	captured   bool
	closed     bool
}

func (f *fakeTab) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeTab) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *fakeTab) WaitLoadFinished(context.Context, time.Duration) error { return nil }

func (f *fakeTab) Evaluate(_ context.Context, expression string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := out.(type) {
	case *[]resolver.Candidate:
		*v = append([]resolver.Candidate(nil), f.candidates...)
		return nil
	case *[][]string:
		f.harvested = true
		*v = f.rows
		return nil
	case *bool:
		*v = false // cannot scroll further
		return nil
	}
	if strings.Contains(expression, `"action"`) {
		r := reflect.ValueOf(out)
		if r.Kind() == reflect.Pointer && !r.IsNil() {
			if field := r.Elem().FieldByName("OK"); field.IsValid() && field.CanSet() {
				field.SetBool(true)
			}
		}
		return nil
	}
	if out == nil {
		return nil // fire-and-forget scripts
	}
	return fmt.Errorf("unexpected evaluate: %.60s", expression)
}

func (f *fakeTab) ExposeFunction(string, func(string) (string, error)) error { return nil }
func (f *fakeTab) InjectScriptPersistently(string) error                     { return nil }
func (f *fakeTab) OnNavigate(func(string))                                   {}

func (f *fakeTab) CaptureTiles(context.Context, float64, int) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captured = true
	return [][]byte{{0x89, 'P', 'N', 'G'}}, nil
}

func (f *fakeTab) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// fakeStore counts the persistence calls a run makes.
type fakeStore struct {
	mu             sync.Mutex
	recipes        map[string]*schemas.Recipe
	inserted       []schemas.ScrapedTransaction
	lastRunUpdates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{recipes: map[string]*schemas.Recipe{}}
}

func (s *fakeStore) List(context.Context) ([]schemas.Recipe, error) { return nil, nil }

func (s *fakeStore) Get(_ context.Context, id string) (*schemas.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipes[id]
	if !ok {
		return nil, fmt.Errorf("no recipe %s", id)
	}
	return r, nil
}

func (s *fakeStore) Create(_ context.Context, r *schemas.Recipe) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes[r.ID] = r
	return nil
}

func (s *fakeStore) Update(context.Context, *schemas.Recipe) error { return nil }
func (s *fakeStore) Delete(context.Context, string) error          { return nil }

func (s *fakeStore) UpdateLastRun(context.Context, string, time.Time, schemas.ScrapeMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunUpdates++
	return nil
}

func (s *fakeStore) Close(context.Context) error { return nil }

func (s *fakeStore) InsertTransactions(_ context.Context, _, _ string, txs []schemas.ScrapedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, txs...)
	return nil
}

type noSecrets struct{}

func (noSecrets) Secret(_ context.Context, _, field string) (string, error) {
	return "", fmt.Errorf("no secret for %s", field)
}

type instantClock struct{ now time.Time }

func (c instantClock) Now() time.Time { return c.now }

func (c instantClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestEngine(t *testing.T, tab *fakeTab, st *fakeStore) *engine.Engine {
	t.Helper()
	log := zap.NewNop()
	cfg := config.NewDefaultConfig()
	cfg.PlaybackCfg.MaxResolveAttempts = 1
	cfg.ScraperCfg.ArtifactsDir = "" // no disk writes from tests

	clock := instantClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	pb := playback.NewEngine(cfg, resolver.New(log), noSecrets{}, clock, log)
	rec := recorder.New(cfg, clock, log)
	sc := scraper.New(cfg, nil, clock, log)
	sessions := engine.SessionFactory(func() (engine.Session, error) { return tab, nil })
	return engine.New(cfg, sessions, st, pb, rec, sc, log)
}

func exportRecipe() *schemas.Recipe {
	return &schemas.Recipe{
		ID:        "r1",
		Name:      "demo-bank",
		StartURL:  "https://bank.example/login",
		AccountID: "acct-1",
		Steps: []schemas.RecordingStep{
			{
				Type:           schemas.StepClick,
				Identification: schemas.ElementIdentification{Text: "Export Transactions", Role: "button"},
			},
		},
	}
}

func TestRunPersistsExtractedTransactions(t *testing.T) {
	tab := &fakeTab{
		candidates: []resolver.Candidate{{
			Handle: "h1", Tag: "button", Role: "button",
			Text: "Export Transactions", Visible: true,
		}},
		rows: [][]string{
			{"Date", "Description", "Amount"},
			{"08/12/2026", "GROCERY MART #442", "-82.10"},
		},
	}
	st := newFakeStore()
	eng := newTestEngine(t, tab, st)

	report, err := eng.Run(context.Background(), exportRecipe())
	require.NoError(t, err)
	assert.True(t, report.Playback.Completed)
	assert.Equal(t, schemas.ScrapeMethodDOM, report.Method)
	require.Len(t, report.Transactions, 1)

	assert.Len(t, st.inserted, 1)
	assert.Equal(t, 1, st.lastRunUpdates)
	assert.NotNil(t, report.Recipe.LastRunAt)
	assert.Equal(t, schemas.ScrapeMethodDOM, report.Recipe.LastScrapingMethod)
	assert.True(t, tab.closed)
}

// An incomplete replay must stop the pipeline cold: no extraction runs over
// partial page state, and the recipe's last-run marker stays untouched so
// staleness remains visible.
func TestRunIncompletePlaybackSkipsExtractionAndPersistence(t *testing.T) {
	tab := &fakeTab{} // no candidates: the click step cannot resolve
	st := newFakeStore()
	eng := newTestEngine(t, tab, st)
	recipe := exportRecipe()

	report, err := eng.Run(context.Background(), recipe)
	require.Error(t, err)
	assert.ErrorIs(t, err, playback.ErrElementNotFound)
	require.NotNil(t, report)
	require.NotNil(t, report.Playback)
	assert.False(t, report.Playback.Completed)

	assert.False(t, tab.harvested, "DOM extraction must not run after a failed replay")
	assert.False(t, tab.captured, "no screenshots after a failed replay")
	assert.Empty(t, st.inserted)
	assert.Zero(t, st.lastRunUpdates)
	assert.Nil(t, recipe.LastRunAt)
	assert.True(t, tab.closed)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	tab := &fakeTab{}
	eng := newTestEngine(t, tab, newFakeStore())

	require.NoError(t, eng.StartRecording(context.Background(), "r", "https://bank.example", "acct"))
	_, err := eng.Run(context.Background(), exportRecipe())
	assert.ErrorIs(t, err, engine.ErrPlaybackActive)
}

func TestStopRecordingWithoutStart(t *testing.T) {
	eng := newTestEngine(t, &fakeTab{}, newFakeStore())
	_, err := eng.StopRecording(context.Background())
	assert.ErrorIs(t, err, engine.ErrNotRecording)
}
