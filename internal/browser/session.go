// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/playback"
)

// Session is one browser tab with CDP event plumbing: load tracking for
// navigation sync, main-frame URL tracking for the recorder, console and
// download surfacing for diagnostics.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	// loadSignal receives one token per load-event-fired. Buffered so the
	// listener never blocks the CDP event loop.
	loadSignal chan struct{}

	mu          sync.Mutex
	currentURL  string
	mainFrameID cdp.FrameID
	navHooks    []func(url string)
	bindings    map[string]func(payload string) (string, error)
	closed      bool
	onClose     func()
}

func newSession(allocatorCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	tabCtx, cancel := chromedp.NewContext(allocatorCtx)

	s := &Session{
		ctx:        tabCtx,
		cancel:     cancel,
		cfg:        cfg,
		logger:     logger.Named("session"),
		loadSignal: make(chan struct{}, 1),
	}
	s.listen()

	// Materialize the tab and apply the cache policy up front.
	err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if cfg.DisableCache {
				return network.SetCacheDisabled(true).Do(ctx)
			}
			return nil
		}),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	return s, nil
}

// listen wires the CDP event handlers for the life of the tab.
func (s *Session) listen() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventLoadEventFired:
			select {
			case s.loadSignal <- struct{}{}:
			default:
			}
		case *page.EventFrameNavigated:
			s.onFrameNavigated(ev)
		case *log.EventEntryAdded:
			s.logger.Debug("Page console",
				zap.String("level", string(ev.Entry.Level)),
				zap.String("text", ev.Entry.Text))
		case *cdpbrowser.EventDownloadWillBegin:
			s.logger.Info("Page started a download",
				zap.String("url", ev.URL),
				zap.String("filename", ev.SuggestedFilename))
		case *runtime.EventBindingCalled:
			s.dispatchBinding(ev.Name, ev.Payload)
		}
	})
}

// dispatchBinding routes a Runtime.bindingCalled event to the registered
// host function. Handlers must not issue CDP commands; they run on the
// event loop.
func (s *Session) dispatchBinding(name, payload string) {
	s.mu.Lock()
	fn := s.bindings[name]
	s.mu.Unlock()
	if fn == nil {
		s.logger.Warn("Page called an unregistered binding", zap.String("binding", name))
		return
	}
	if _, err := fn(payload); err != nil {
		s.logger.Warn("Binding handler failed",
			zap.String("binding", name), zap.Error(err))
	}
}

func (s *Session) onFrameNavigated(ev *page.EventFrameNavigated) {
	if ev.Frame == nil || ev.Frame.ParentID != "" {
		return
	}
	s.mu.Lock()
	s.mainFrameID = ev.Frame.ID
	changed := s.currentURL != ev.Frame.URL
	s.currentURL = ev.Frame.URL
	hooks := append([]func(string){}, s.navHooks...)
	s.mu.Unlock()

	if changed {
		s.logger.Debug("Main frame navigated", zap.String("url", ev.Frame.URL))
		for _, h := range hooks {
			h(ev.Frame.URL)
		}
	}
}

// OnNavigate registers a hook invoked on every main-frame URL change. Used
// by the recorder to emit navigation steps from the host side, where SPA
// route changes and full loads look the same.
func (s *Session) OnNavigate(hook func(url string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navHooks = append(s.navHooks, hook)
}

// CurrentURL returns the last observed main-frame URL.
func (s *Session) CurrentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}

// Navigate loads a URL and waits for the document plus the configured
// post-load settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))
	// Drain a stale signal so the next wait observes this navigation.
	select {
	case <-s.loadSignal:
	default:
	}
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.PostLoadWait),
	)
}

// WaitLoadFinished blocks until the next load event or the timeout.
func (s *Session) WaitLoadFinished(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.loadSignal:
		return nil
	case <-t.C:
		return playback.ErrNavigationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Evaluate runs an expression in the page and unmarshals its result.
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	if out == nil {
		return s.run(ctx, chromedp.Evaluate(expression, nil))
	}
	return s.run(ctx, chromedp.Evaluate(expression, out))
}

// ExposeFunction makes a Go function callable as window.<name>(payload).
// Backed by a CDP binding, so the call is a typed event on the session's
// channel rather than text smuggled through console logs. The binding
// survives navigations; return values do not propagate back to the page.
func (s *Session) ExposeFunction(name string, fn func(payload string) (string, error)) error {
	s.mu.Lock()
	if s.bindings == nil {
		s.bindings = make(map[string]func(string) (string, error))
	}
	s.bindings[name] = fn
	s.mu.Unlock()

	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return runtime.AddBinding(name).Do(ctx)
	}))
}

// InjectScriptPersistently arranges for the script to run on every new
// document, including after navigations.
func (s *Session) InjectScriptPersistently(script string) error {
	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

// CaptureScreenshot captures the current viewport as PNG.
func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

type pageMetrics struct {
	ScrollHeight float64 `json:"scrollHeight"`
	InnerHeight  float64 `json:"innerHeight"`
	ScrollY      float64 `json:"scrollY"`
}

const metricsScript = `({
  scrollHeight: document.documentElement.scrollHeight,
  innerHeight: window.innerHeight,
  scrollY: window.scrollY
})`

// CaptureTiles screenshots the page top to bottom. Consecutive tiles share
// the overlap fraction of the viewport so rows crossing a boundary appear
// whole in at least one image; max caps the sweep on very long pages.
func (s *Session) CaptureTiles(ctx context.Context, overlap float64, max int) ([][]byte, error) {
	if max <= 0 {
		max = 1
	}
	if err := s.Evaluate(ctx, `window.scrollTo(0, 0)`, nil); err != nil {
		return nil, err
	}

	var tiles [][]byte
	for len(tiles) < max {
		// Let lazy content paint before the shot.
		if err := s.run(ctx, chromedp.Sleep(300*time.Millisecond)); err != nil {
			return tiles, err
		}
		shot, err := s.CaptureScreenshot(ctx)
		if err != nil {
			return tiles, err
		}
		tiles = append(tiles, shot)

		var m pageMetrics
		if err := s.Evaluate(ctx, metricsScript, &m); err != nil {
			return tiles, err
		}
		if m.ScrollY+m.InnerHeight >= m.ScrollHeight-1 {
			break
		}
		step := m.InnerHeight * (1 - overlap)
		if err := s.Evaluate(ctx, fmt.Sprintf(`window.scrollBy(0, %f)`, step), nil); err != nil {
			return tiles, err
		}
	}
	s.logger.Debug("Captured page tiles", zap.Int("count", len(tiles)))
	return tiles, nil
}

// run executes actions on the tab while honoring the caller's deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := s.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the tab down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	s.cancel()
	if onClose != nil {
		onClose()
	}
	s.logger.Debug("Session closed")
}
