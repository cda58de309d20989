// File: internal/engine/engine.go
//
// The automation engine owns the end-to-end flows: record a recipe against
// a live session, and replay a recipe through playback, extraction, and
// persistence. At most one recording or playback is active process-wide;
// the browser is a shared, stateful resource.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/browser"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/playback"
	"github.com/wrenfin/wren/internal/recorder"
	"github.com/wrenfin/wren/internal/scraper"
	"github.com/wrenfin/wren/internal/store"
)

// Sentinel errors.
var (
	// ErrPlaybackActive means a replay or recording already holds the
	// browser; concurrent runs are rejected, not queued.
	ErrPlaybackActive = errors.New("engine: another run is already active")
	// ErrNotRecording means StopRecording was called with no recording open.
	ErrNotRecording = errors.New("engine: no recording in progress")
)

// RunReport summarizes one replayed recipe for callers that display results.
type RunReport struct {
	Recipe       *schemas.Recipe
	Playback     *playback.Result
	Method       schemas.ScrapeMethod
	Transactions []schemas.ScrapedTransaction
}

// Session is the browser surface one run or recording drives. The playback,
// recorder, and scraper contracts overlap on evaluation and URL queries;
// *browser.Session satisfies all of them.
type Session interface {
	playback.Session
	recorder.Session
	scraper.Session
	Close()
}

// SessionFactory opens a fresh tab for one run.
type SessionFactory func() (Session, error)

// BrowserSessions adapts a launched browser manager into a SessionFactory.
func BrowserSessions(m *browser.Manager) SessionFactory {
	return func() (Session, error) {
		s, err := m.NewSession()
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Engine wires the subsystems together.
type Engine struct {
	cfg      config.Interface
	sessions SessionFactory
	store    store.Store
	playback *playback.Engine
	recorder *recorder.Recorder
	scraper  *scraper.Scraper
	log      *zap.Logger

	mu        sync.Mutex
	busy      bool
	recording *recordingState
}

type recordingState struct {
	session   Session
	name      string
	startURL  string
	accountID string
}

// New assembles an engine over a session factory, usually BrowserSessions.
func New(cfg config.Interface, sessions SessionFactory, st store.Store,
	pb *playback.Engine, rec *recorder.Recorder, sc *scraper.Scraper, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		sessions: sessions,
		store:    st,
		playback: pb,
		recorder: rec,
		scraper:  sc,
		log:      logger.Named("engine"),
	}
}

// acquire claims the single run slot.
func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy {
		return ErrPlaybackActive
	}
	e.busy = true
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.busy = false
	e.mu.Unlock()
}

// StartRecording opens a session on the start URL with capture wired in.
// The user then drives the page; StopRecording collects the result.
func (e *Engine) StartRecording(ctx context.Context, name, startURL, accountID string) error {
	if err := e.acquire(); err != nil {
		return err
	}
	sess, err := e.sessions()
	if err != nil {
		e.release()
		return err
	}
	if err := e.recorder.Attach(ctx, sess); err != nil {
		sess.Close()
		e.release()
		return err
	}
	if err := sess.Navigate(ctx, startURL); err != nil {
		sess.Close()
		e.release()
		return fmt.Errorf("navigating to start url: %w", err)
	}

	e.recorder.Start()
	e.mu.Lock()
	e.recording = &recordingState{session: sess, name: name, startURL: startURL, accountID: accountID}
	e.mu.Unlock()

	e.log.Info("Recording session open",
		zap.String("recipe", name),
		zap.String("start_url", startURL))
	return nil
}

// StopRecording finalizes the capture into a stored recipe and closes the
// session.
func (e *Engine) StopRecording(ctx context.Context) (*schemas.Recipe, error) {
	e.mu.Lock()
	rec := e.recording
	e.recording = nil
	e.mu.Unlock()
	if rec == nil {
		return nil, ErrNotRecording
	}
	defer e.release()

	steps := e.recorder.Stop()
	rec.session.Close()

	if len(steps) == 0 {
		return nil, fmt.Errorf("recording produced no steps")
	}
	recipe := &schemas.Recipe{
		ID:        uuid.NewString(),
		Name:      rec.name,
		StartURL:  rec.startURL,
		AccountID: rec.accountID,
		Steps:     steps,
	}
	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("recorded recipe rejected: %w", err)
	}
	if err := e.store.Create(ctx, recipe); err != nil {
		return nil, fmt.Errorf("persisting recipe: %w", err)
	}
	e.log.Info("Recipe saved",
		zap.String("recipe", recipe.Name),
		zap.String("id", recipe.ID),
		zap.Int("steps", len(recipe.Steps)))
	return recipe, nil
}

// RunRecipe replays a recipe and persists what it extracts. Satisfies the
// scheduler's RecipeRunner.
func (e *Engine) RunRecipe(ctx context.Context, recipe *schemas.Recipe) error {
	_, err := e.Run(ctx, recipe)
	return err
}

// Run replays a recipe and returns a report. An incomplete replay never
// reaches extraction: partial page state would yield wrong data, and the
// recipe's last-run marker stays untouched so staleness is visible.
func (e *Engine) Run(ctx context.Context, recipe *schemas.Recipe) (*RunReport, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	sess, err := e.sessions()
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	report := &RunReport{Recipe: recipe}

	pbRes, err := e.playback.Run(ctx, sess, recipe)
	report.Playback = pbRes
	if err != nil {
		return report, fmt.Errorf("playback of %q: %w", recipe.Name, err)
	}
	if !pbRes.Completed {
		return report, fmt.Errorf("playback of %q did not complete", recipe.Name)
	}

	scRes, err := e.scraper.Extract(ctx, sess, recipe.Name)
	if err != nil {
		return report, fmt.Errorf("extraction for %q: %w", recipe.Name, err)
	}
	report.Method = scRes.Method
	report.Transactions = scRes.Transactions

	if len(scRes.Transactions) > 0 {
		if err := e.store.InsertTransactions(ctx, recipe.ID, recipe.AccountID, scRes.Transactions); err != nil {
			return report, fmt.Errorf("persisting transactions for %q: %w", recipe.Name, err)
		}
	}
	now := time.Now()
	if err := e.store.UpdateLastRun(ctx, recipe.ID, now, scRes.Method); err != nil {
		return report, fmt.Errorf("updating last run for %q: %w", recipe.Name, err)
	}
	recipe.LastRunAt = &now
	recipe.LastScrapingMethod = scRes.Method

	e.log.Info("Recipe run complete",
		zap.String("recipe", recipe.Name),
		zap.String("method", string(scRes.Method)),
		zap.Int("transactions", len(scRes.Transactions)))
	return report, nil
}

// RunByID loads and runs a stored recipe.
func (e *Engine) RunByID(ctx context.Context, id string) (*RunReport, error) {
	recipe, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, recipe)
}

// PlaybackState exposes replay progress for status display.
func (e *Engine) PlaybackState() schemas.PlaybackState {
	return e.playback.Progress()
}
