// File: internal/scheduler/scheduler.go
//
// The scheduler runs every stored recipe on a cron cadence. One batch at a
// time process-wide; a recipe failing mid-batch is contained and the rest of
// the batch still runs, so one bank changing its login page does not starve
// the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/store"
)

// Sentinel errors.
var (
	// ErrInvalidSchedule means the cron expression cannot be parsed. The
	// previous schedule stays in effect when reconfiguration fails.
	ErrInvalidSchedule = errors.New("scheduler: invalid cron expression")
	// ErrRunInProgress means a batch is already executing; overlapping
	// triggers are skipped, not queued.
	ErrRunInProgress = errors.New("scheduler: batch already running")
)

// RecipeRunner replays one recipe end to end. The engine implements it.
type RecipeRunner interface {
	RunRecipe(ctx context.Context, recipe *schemas.Recipe) error
}

// RecipeResult is one recipe's outcome within a batch.
type RecipeResult struct {
	RecipeID   string
	RecipeName string
	Err        error
	Duration   time.Duration
}

// Status is a point-in-time snapshot for the schedule command.
type Status struct {
	Enabled    bool
	Expression string
	Running    bool
	// CurrentRecipe names the recipe a running batch is replaying right
	// now; empty between recipes and when no batch is active.
	CurrentRecipe string
	NextRunAt     *time.Time
	LastRunAt     *time.Time
	LastResults   []RecipeResult
}

// Scheduler owns the cron loop and batch execution.
type Scheduler struct {
	cfg    config.ScheduleConfig
	store  store.RecipeStore
	runner RecipeRunner
	log    *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	// flight admits one batch at a time; TryAcquire makes overlap a skip
	// instead of a queue.
	flight *semaphore.Weighted
	// pace spaces consecutive recipe runs inside a batch.
	pace *rate.Limiter

	mu          sync.Mutex
	current     string
	lastRunAt   *time.Time
	lastResults []RecipeResult
}

// New validates the configured expression and builds a stopped scheduler.
func New(cfg config.Interface, st store.RecipeStore, runner RecipeRunner, logger *zap.Logger) (*Scheduler, error) {
	sc := cfg.Schedule()
	if _, err := cron.ParseStandard(sc.Expression); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, sc.Expression, err)
	}
	pause := sc.RecipePause
	if pause <= 0 {
		pause = time.Second
	}
	return &Scheduler{
		cfg:    sc,
		store:  st,
		runner: runner,
		log:    logger.Named("scheduler"),
		cron:   cron.New(),
		flight: semaphore.NewWeighted(1),
		pace:   rate.NewLimiter(rate.Every(pause), 1),
	}, nil
}

// Start registers the cron entry and begins ticking. A disabled schedule is
// a no-op so callers can Start unconditionally.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("Scheduler disabled")
		return nil
	}
	id, err := s.cron.AddFunc(s.cfg.Expression, func() {
		if err := s.RunAllNow(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.log.Error("Scheduled batch failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	s.entryID = id
	s.cron.Start()
	s.log.Info("Scheduler started", zap.String("expression", s.cfg.Expression))
	return nil
}

// Stop halts the cron loop and waits for a running batch's cron goroutine.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info("Scheduler stopped")
}

// RunAllNow executes one batch over every stored recipe, in name order.
// Returns ErrRunInProgress when a batch is already active.
func (s *Scheduler) RunAllNow(ctx context.Context) error {
	if !s.flight.TryAcquire(1) {
		s.log.Warn("Batch trigger skipped, previous batch still running")
		return ErrRunInProgress
	}
	defer s.flight.Release(1)

	recipes, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing recipes: %w", err)
	}
	s.log.Info("Batch starting", zap.Int("recipes", len(recipes)))

	results := make([]RecipeResult, 0, len(recipes))
	for i := range recipes {
		if i > 0 {
			if err := s.pace.Wait(ctx); err != nil {
				return err
			}
		}
		results = append(results, s.runOne(ctx, &recipes[i]))
		if ctx.Err() != nil {
			break
		}
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.lastResults = results
	s.mu.Unlock()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.log.Info("Batch finished",
		zap.Int("succeeded", len(results)-failed),
		zap.Int("failed", failed))
	return nil
}

// runOne contains a single recipe's failure, panics included. A panic in
// one bank's replay must not take down the batch.
func (s *Scheduler) runOne(ctx context.Context, recipe *schemas.Recipe) (res RecipeResult) {
	res = RecipeResult{RecipeID: recipe.ID, RecipeName: recipe.Name}
	s.mu.Lock()
	s.current = recipe.Name
	s.mu.Unlock()
	start := time.Now()
	defer func() {
		s.mu.Lock()
		s.current = ""
		s.mu.Unlock()
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
			s.log.Error("Recipe run panicked",
				zap.String("recipe", recipe.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	s.log.Info("Running recipe", zap.String("recipe", recipe.Name))
	if err := s.runner.RunRecipe(ctx, recipe); err != nil {
		res.Err = err
		s.log.Error("Recipe run failed",
			zap.String("recipe", recipe.Name),
			zap.Error(err))
		return res
	}
	return res
}

// Snapshot reports current scheduler state.
func (s *Scheduler) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:       s.cfg.Enabled,
		Expression:    s.cfg.Expression,
		Running:       !s.flight.TryAcquire(1),
		CurrentRecipe: s.current,
		LastRunAt:     s.lastRunAt,
		LastResults:   append([]RecipeResult(nil), s.lastResults...),
	}
	if !st.Running {
		s.flight.Release(1)
	}
	if s.cfg.Enabled && s.entryID != 0 {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			st.NextRunAt = &next
		}
	}
	return st
}
