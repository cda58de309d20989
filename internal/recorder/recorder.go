// File: internal/recorder/recorder.go
//
// The recorder turns human interactions with a live page into an ordered
// step sequence. A script injected into every document captures DOM events
// and forwards them over an exposed bridge; the host validates each payload
// at the boundary, debounces keystroke storms, and emits navigation steps
// from CDP frame events so full page loads and SPA route changes both leave
// a marker in the recording.
package recorder

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/playback"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed capture.js
var captureScript string

// bridgeFunc is the window-level function the capture script calls.
const bridgeFunc = "__wrenRecordEvent"

// Session is the browser surface recording needs.
type Session interface {
	ExposeFunction(name string, fn func(payload string) (string, error)) error
	InjectScriptPersistently(script string) error
	Evaluate(ctx context.Context, expression string, out any) error
	OnNavigate(hook func(url string))
	CurrentURL() string
}

// Recorder accumulates validated steps from a live session.
type Recorder struct {
	cfg   config.RecorderConfig
	clock playback.Clock
	log   *zap.Logger

	mu        sync.Mutex
	recording bool
	steps     []schemas.RecordingStep

	// pendingInput holds the latest input step for a field until the
	// debounce window closes, collapsing per-keystroke events.
	pendingInput *schemas.RecordingStep
	pendingKey   string
	pendingAt    time.Time

	// lastNavURL suppresses duplicate navigation steps when the in-page
	// history hook and the CDP frame event both report the same change.
	lastNavURL string
}

// New creates a recorder. A nil clock selects the real one.
func New(cfg config.Interface, clock playback.Clock, logger *zap.Logger) *Recorder {
	if clock == nil {
		clock = playback.RealClock{}
	}
	return &Recorder{
		cfg:   cfg.Recorder(),
		clock: clock,
		log:   logger.Named("recorder"),
	}
}

// Attach wires the bridge and the capture script into a session. The bridge
// must exist before the script runs; injection covers future documents and
// an immediate evaluate covers the one already open.
func (r *Recorder) Attach(ctx context.Context, sess Session) error {
	if err := sess.ExposeFunction(bridgeFunc, r.handleEvent); err != nil {
		return fmt.Errorf("exposing recorder bridge: %w", err)
	}
	if err := sess.InjectScriptPersistently(captureScript); err != nil {
		return fmt.Errorf("injecting capture script: %w", err)
	}
	if err := sess.Evaluate(ctx, captureScript, nil); err != nil {
		return fmt.Errorf("activating capture script: %w", err)
	}
	sess.OnNavigate(r.handleNavigation)
	return nil
}

// Start begins accumulating steps.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.steps = nil
	r.pendingInput = nil
	r.lastNavURL = ""
	r.log.Info("Recording started")
}

// Stop flushes any pending input and returns the recorded sequence.
func (r *Recorder) Stop() []schemas.RecordingStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushPendingLocked()
	r.recording = false
	out := make([]schemas.RecordingStep, len(r.steps))
	copy(out, r.steps)
	r.log.Info("Recording stopped", zap.Int("steps", len(out)))
	return out
}

// Recording reports whether steps are being accumulated.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// handleEvent is the bridge callback. Payloads cross a trust boundary from
// page JavaScript and are validated before entering the recording.
func (r *Recorder) handleEvent(payload string) (string, error) {
	var step schemas.RecordingStep
	if err := json.Unmarshal([]byte(payload), &step); err != nil {
		r.log.Warn("Discarding malformed recorder event", zap.Error(err))
		return "", nil
	}
	if err := step.Validate(); err != nil {
		r.log.Warn("Discarding invalid recorder event", zap.Error(err))
		return "", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return "", nil
	}

	switch step.Type {
	case schemas.StepInput:
		r.recordInputLocked(step)
	case schemas.StepNavigation:
		r.recordNavigationLocked(step.Value, step.Timestamp)
	default:
		r.flushPendingLocked()
		r.steps = append(r.steps, step)
		r.log.Debug("Recorded step",
			zap.String("type", string(step.Type)),
			zap.String("text", step.Identification.Text))
	}
	return "", nil
}

// handleNavigation receives main-frame URL changes from the CDP side.
func (r *Recorder) handleNavigation(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.recordNavigationLocked(url, r.clock.Now().UnixMilli())
}

func (r *Recorder) recordNavigationLocked(url string, ts int64) {
	if url == "" || url == "about:blank" || url == r.lastNavURL {
		return
	}
	r.flushPendingLocked()
	r.lastNavURL = url
	r.steps = append(r.steps, schemas.RecordingStep{
		Type:      schemas.StepNavigation,
		Value:     url,
		Timestamp: ts,
	})
	r.log.Debug("Recorded navigation", zap.String("url", url))
}

// recordInputLocked collapses consecutive input events on the same field
// within the debounce window into the most recent one.
func (r *Recorder) recordInputLocked(step schemas.RecordingStep) {
	key := fingerprint(step.Identification)
	now := r.clock.Now()

	if r.pendingInput != nil {
		if key == r.pendingKey && now.Sub(r.pendingAt) < r.cfg.InputDebounce {
			r.pendingInput = &step
			r.pendingAt = now
			return
		}
		r.flushPendingLocked()
	}
	r.pendingInput = &step
	r.pendingKey = key
	r.pendingAt = now
}

func (r *Recorder) flushPendingLocked() {
	if r.pendingInput == nil {
		return
	}
	r.steps = append(r.steps, *r.pendingInput)
	r.log.Debug("Recorded input step",
		zap.String("field", r.pendingInput.FieldLabel),
		zap.Bool("sensitive", r.pendingInput.IsSensitive))
	r.pendingInput = nil
	r.pendingKey = ""
}

// fingerprint keys debouncing on the element identity, not the typed value.
func fingerprint(id schemas.ElementIdentification) string {
	return strings.Join([]string{
		id.Text, id.AriaLabel, id.Placeholder, id.Title, strings.Join(id.NearbyLabels, "|"),
	}, "\x1f")
}
