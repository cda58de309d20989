// -- cmd/app.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/internal/browser"
	"github.com/wrenfin/wren/internal/engine"
	"github.com/wrenfin/wren/internal/observability"
	"github.com/wrenfin/wren/internal/playback"
	"github.com/wrenfin/wren/internal/recorder"
	"github.com/wrenfin/wren/internal/resolver"
	"github.com/wrenfin/wren/internal/scraper"
	"github.com/wrenfin/wren/internal/secrets"
	"github.com/wrenfin/wren/internal/store"
	"github.com/wrenfin/wren/internal/vision"
)

// app holds the wired subsystem graph for one command invocation. Commands
// that only touch the store skip the browser launch.
type app struct {
	log     *zap.Logger
	store   store.Store
	manager *browser.Manager
	engine  *engine.Engine
}

func newApp(ctx context.Context, withBrowser bool) (*app, error) {
	log := observability.GetLogger()

	if err := os.MkdirAll(appCfg.DataDir(), 0o750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.New(ctx, appCfg.Store(), log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &app{log: log, store: st}
	if !withBrowser {
		return a, nil
	}

	mgr, err := browser.NewManager(ctx, appCfg, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.manager = mgr

	visionClient, err := vision.NewClient(ctx, appCfg, log)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	pb := playback.NewEngine(appCfg, resolver.New(log), secrets.NewPromptSource(log), nil, log)
	rec := recorder.New(appCfg, nil, log)
	sc := scraper.New(appCfg, visionClient, nil, log)
	a.engine = engine.New(appCfg, engine.BrowserSessions(mgr), st, pb, rec, sc, log)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.manager != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.manager.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("Browser shutdown error", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("Store close error", zap.Error(err))
		}
	}
	observability.Sync()
}
