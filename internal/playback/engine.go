// File: internal/playback/engine.go
//
// Playback replays a recorded recipe as an explicit state machine. Every
// step executes strictly in recorded order; a step that cannot be completed
// fails the run at that point rather than being skipped, because later steps
// assume the page state earlier ones produced.
package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/resolver"
)

// Sentinel errors surfaced by a playback run.
var (
	// ErrElementNotFound means every resolution strategy was exhausted for a
	// step, across all retry attempts.
	ErrElementNotFound = errors.New("playback: element not found")
	// ErrNavigationTimeout means a load-finished signal never arrived within
	// the configured window. It is non-fatal; the run proceeds.
	ErrNavigationTimeout = errors.New("playback: navigation timeout")
)

// State names the phase a run is in. Exposed for status reporting.
type State string

const (
	StateIdle           State = "idle"
	StateLoading        State = "loading"
	StateExecuting      State = "executing"
	StateWaitingSettle  State = "waiting_settle"
	StateAwaitingSecret State = "awaiting_secret"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Session is the browser surface playback drives. The concrete
// implementation lives in the browser package; tests substitute a fake.
type Session interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL() string
	// WaitLoadFinished blocks until the next load-finished signal or the
	// timeout elapses, returning ErrNavigationTimeout in the latter case.
	WaitLoadFinished(ctx context.Context, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string, out any) error
}

// SecretSource supplies sensitive input values at replay time. Values pass
// straight to the page and are never persisted or logged.
type SecretSource interface {
	Secret(ctx context.Context, recipeName, fieldLabel string) (string, error)
}

// Result summarizes a finished run. Completed is true only when every step
// executed; downstream extraction must not run against a partial replay.
type Result struct {
	Completed     bool
	StepsExecuted int
	// FailedStep is the zero-based index of the step that failed, or -1.
	FailedStep int
	FinalState  State
}

// Engine replays recipes against a Session.
type Engine struct {
	cfg     config.PlaybackConfig
	res     *resolver.Resolver
	secrets SecretSource
	clock   Clock
	log     *zap.Logger

	state    State
	progress schemas.PlaybackState
}

// NewEngine creates a playback engine. A nil clock selects the real one.
func NewEngine(cfg config.Interface, res *resolver.Resolver, secrets SecretSource, clock Clock, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{
		cfg:     cfg.Playback(),
		res:     res,
		secrets: secrets,
		clock:   clock,
		log:     logger.Named("playback"),
		state:   StateIdle,
	}
}

// State returns the current phase.
func (e *Engine) State() State { return e.state }

// Progress returns a snapshot of step progress for status reporting.
func (e *Engine) Progress() schemas.PlaybackState { return e.progress }

func (e *Engine) transition(to State) {
	e.log.Debug("Playback state transition",
		zap.String("from", string(e.state)),
		zap.String("to", string(to)))
	e.state = to
}

// Run replays the recipe from its start URL. The returned Result is non-nil
// even on error so callers can see how far the run got.
func (e *Engine) Run(ctx context.Context, sess Session, recipe *schemas.Recipe) (*Result, error) {
	if err := recipe.Validate(); err != nil {
		return &Result{FailedStep: -1, FinalState: StateFailed}, err
	}
	e.progress = schemas.PlaybackState{
		RecipeID:   recipe.ID,
		TotalSteps: len(recipe.Steps),
	}

	e.transition(StateLoading)
	e.log.Info("Starting playback",
		zap.String("recipe", recipe.Name),
		zap.String("start_url", recipe.StartURL),
		zap.Int("steps", len(recipe.Steps)))

	if err := sess.Navigate(ctx, recipe.StartURL); err != nil {
		e.transition(StateFailed)
		return &Result{FailedStep: -1, FinalState: StateFailed}, fmt.Errorf("navigating to start url: %w", err)
	}
	e.waitSettled(ctx, sess)

	res := &Result{FailedStep: -1}
	for i, step := range recipe.Steps {
		e.progress.CurrentStep = i
		if err := e.runStep(ctx, sess, recipe, i, step); err != nil {
			e.transition(StateFailed)
			res.FailedStep = i
			res.FinalState = StateFailed
			return res, fmt.Errorf("step %d (%s): %w", i, step.Type, err)
		}
		res.StepsExecuted++
	}

	e.transition(StateSucceeded)
	res.Completed = true
	res.FinalState = StateSucceeded
	e.log.Info("Playback completed",
		zap.String("recipe", recipe.Name),
		zap.Int("steps_executed", res.StepsExecuted))
	return res, nil
}

func (e *Engine) runStep(ctx context.Context, sess Session, recipe *schemas.Recipe, idx int, step schemas.RecordingStep) error {
	e.transition(StateExecuting)
	switch step.Type {
	case schemas.StepNavigation:
		return e.syncNavigation(ctx, sess, step.Value)
	case schemas.StepClick:
		return e.interact(ctx, sess, recipe, step, "click", "")
	case schemas.StepSelect:
		return e.interact(ctx, sess, recipe, step, "select", step.Value)
	case schemas.StepInput:
		value := step.Value
		if step.IsSensitive {
			e.transition(StateAwaitingSecret)
			secret, err := e.secrets.Secret(ctx, recipe.Name, step.FieldLabel)
			if err != nil {
				return fmt.Errorf("obtaining sensitive value: %w", err)
			}
			value = secret
			e.transition(StateExecuting)
		}
		return e.interact(ctx, sess, recipe, step, "input", value)
	default:
		return fmt.Errorf("unknown step type %q", step.Type)
	}
}

// interact resolves the step's element with bounded retries and performs the
// action on it. Backoff grows linearly with the attempt number; a fresh
// snapshot is collected on every attempt since the page may still be
// rendering.
func (e *Engine) interact(ctx context.Context, sess Session, recipe *schemas.Recipe, step schemas.RecordingStep, action, value string) error {
	role := roleFor(step.Type)
	var lastAttempted []string
	for attempt := 1; attempt <= e.cfg.MaxResolveAttempts; attempt++ {
		m, err := e.res.Resolve(ctx, sess, step.Identification, role)
		if err == nil {
			if err := performAction(ctx, sess, m.Candidate.Handle, action, value); err != nil {
				return err
			}
			e.settle(ctx)
			return nil
		}
		var nf *resolver.NotFoundError
		if errors.As(err, &nf) {
			lastAttempted = nf.Attempted
		} else {
			return err
		}
		if attempt < e.cfg.MaxResolveAttempts {
			backoff := time.Duration(attempt) * e.cfg.RetryBackoffBase
			e.log.Warn("Element not found, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("text", step.Identification.Text))
			if err := e.clock.Sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts (strategies: %v)",
		ErrElementNotFound, e.cfg.MaxResolveAttempts, lastAttempted)
}

// syncNavigation treats a recorded navigation as a synchronization point:
// wait for a load-finished signal, then let the page settle. A timeout is
// logged and tolerated because single-page apps routinely change URL without
// firing a full load event.
func (e *Engine) syncNavigation(ctx context.Context, sess Session, recordedURL string) error {
	cur := sess.CurrentURL()
	if cur == recordedURL {
		// Already where the recording expected; nothing to wait for.
		e.settle(ctx)
		return nil
	}
	e.waitSettled(ctx, sess)
	if got := sess.CurrentURL(); got != recordedURL {
		e.log.Debug("Navigation landed on a different url",
			zap.String("recorded", recordedURL),
			zap.String("actual", got))
	}
	return ctx.Err()
}

// waitSettled waits for the next load event (tolerating a timeout) and then
// applies the post-navigation settle delay.
func (e *Engine) waitSettled(ctx context.Context, sess Session) {
	e.transition(StateWaitingSettle)
	if err := sess.WaitLoadFinished(ctx, e.cfg.NavigationTimeout); err != nil {
		if errors.Is(err, ErrNavigationTimeout) {
			e.log.Warn("Load event not observed, proceeding",
				zap.Duration("timeout", e.cfg.NavigationTimeout))
		}
	}
	_ = e.clock.Sleep(ctx, e.cfg.NavigationSettle)
	e.transition(StateExecuting)
}

// settle applies the short inter-step pause.
func (e *Engine) settle(ctx context.Context) {
	_ = e.clock.Sleep(ctx, e.cfg.StepSettle)
}

// roleFor narrows resolution for steps whose target kind is implied by the
// action. Clicks stay open: buttons and links are both clickable, so the
// recorded role on the identification is trusted instead.
func roleFor(t schemas.StepType) string {
	switch t {
	case schemas.StepInput:
		return "input"
	case schemas.StepSelect:
		return "select"
	}
	return ""
}
