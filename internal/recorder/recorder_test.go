// File: internal/recorder/recorder_test.go
package recorder_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/config"
	"github.com/wrenfin/wren/internal/recorder"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock lets tests move through the debounce window deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSession captures the wiring Attach performs and hands the bridge
// callback back to the test so it can play the role of the capture script.
type fakeSession struct {
	bridgeName string
	bridge     func(payload string) (string, error)
	injected   []string
	evaluated  []string
	navHook    func(url string)
	url        string
}

func (s *fakeSession) ExposeFunction(name string, fn func(payload string) (string, error)) error {
	s.bridgeName = name
	s.bridge = fn
	return nil
}

func (s *fakeSession) InjectScriptPersistently(script string) error {
	s.injected = append(s.injected, script)
	return nil
}

func (s *fakeSession) Evaluate(_ context.Context, expression string, _ any) error {
	s.evaluated = append(s.evaluated, expression)
	return nil
}

func (s *fakeSession) OnNavigate(hook func(url string)) { s.navHook = hook }
func (s *fakeSession) CurrentURL() string               { return s.url }

func newTestRecorder(t *testing.T) (*recorder.Recorder, *fakeSession, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	rec := recorder.New(config.NewDefaultConfig(), clock, zap.NewNop())
	sess := &fakeSession{url: "https://bank.example.com/login"}
	require.NoError(t, rec.Attach(context.Background(), sess))
	require.NotNil(t, sess.bridge, "bridge must be exposed during Attach")
	return rec, sess, clock
}

func clickPayload(text string) string {
	return fmt.Sprintf(`{"type":"click","identification":{"text":%q,"role":"button"},"timestamp":1700000000000}`, text)
}

func inputPayload(placeholder, value string) string {
	return fmt.Sprintf(`{"type":"input","identification":{"placeholder":%q,"role":"input"},"value":%q,"timestamp":1700000000000}`, placeholder, value)
}

func send(t *testing.T, sess *fakeSession, payload string) {
	t.Helper()
	_, err := sess.bridge(payload)
	require.NoError(t, err)
}

func TestAttachWiresBridgeBeforeScript(t *testing.T) {
	_, sess, _ := newTestRecorder(t)

	assert.Equal(t, "__wrenRecordEvent", sess.bridgeName)
	// The persistent injection covers future documents; the immediate
	// evaluate covers the page that is already open.
	require.Len(t, sess.injected, 1)
	require.Len(t, sess.evaluated, 1)
	assert.Equal(t, sess.injected[0], sess.evaluated[0])
	assert.NotNil(t, sess.navHook)
}

func TestRecordsClicksInOrder(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	assert.True(t, rec.Recording())
	send(t, sess, clickPayload("Accounts"))
	send(t, sess, clickPayload("Checking"))
	steps := rec.Stop()

	require.Len(t, steps, 2)
	assert.Equal(t, "Accounts", steps[0].Identification.Text)
	assert.Equal(t, "Checking", steps[1].Identification.Text)
	assert.False(t, rec.Recording())
}

func TestDropsEventsWhenNotRecording(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	send(t, sess, clickPayload("Accounts"))
	rec.Start()
	assert.Empty(t, rec.Stop())
}

func TestDebouncesKeystrokesOnSameField(t *testing.T) {
	rec, sess, clock := newTestRecorder(t)

	rec.Start()
	send(t, sess, inputPayload("Username", "a"))
	clock.advance(200 * time.Millisecond)
	send(t, sess, inputPayload("Username", "al"))
	clock.advance(200 * time.Millisecond)
	send(t, sess, inputPayload("Username", "alice"))
	steps := rec.Stop()

	require.Len(t, steps, 1)
	assert.Equal(t, schemas.StepInput, steps[0].Type)
	assert.Equal(t, "alice", steps[0].Value)
}

func TestSeparateStepsOutsideDebounceWindow(t *testing.T) {
	rec, sess, clock := newTestRecorder(t)

	rec.Start()
	send(t, sess, inputPayload("Search", "rent"))
	clock.advance(1500 * time.Millisecond)
	send(t, sess, inputPayload("Search", "rent march"))
	steps := rec.Stop()

	require.Len(t, steps, 2)
	assert.Equal(t, "rent", steps[0].Value)
	assert.Equal(t, "rent march", steps[1].Value)
}

func TestInputOnDifferentFieldFlushesPending(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	send(t, sess, inputPayload("Username", "alice"))
	send(t, sess, inputPayload("Member number", "12345"))
	steps := rec.Stop()

	require.Len(t, steps, 2)
	assert.Equal(t, "Username", steps[0].Identification.Placeholder)
	assert.Equal(t, "Member number", steps[1].Identification.Placeholder)
}

func TestClickFlushesPendingInputFirst(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	send(t, sess, inputPayload("Username", "alice"))
	send(t, sess, clickPayload("Sign In"))
	steps := rec.Stop()

	require.Len(t, steps, 2)
	assert.Equal(t, schemas.StepInput, steps[0].Type)
	assert.Equal(t, schemas.StepClick, steps[1].Type)
}

func TestRejectsSensitiveStepCarryingAValue(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	// A sensitive payload must arrive already redacted. One carrying the
	// typed value fails boundary validation and never enters the recording.
	send(t, sess, `{"type":"input","identification":{"placeholder":"Password"},"value":"hunter2","isSensitive":true,"timestamp":1}`)
	send(t, sess, `{"type":"input","identification":{"placeholder":"Password"},"value":"[REDACTED]","isSensitive":true,"fieldLabel":"Password","timestamp":2}`)
	steps := rec.Stop()

	require.Len(t, steps, 1)
	assert.Equal(t, schemas.RedactedValue, steps[0].Value)
	assert.True(t, steps[0].IsSensitive)
	assert.Equal(t, "Password", steps[0].FieldLabel)
}

func TestDiscardsMalformedAndInvalidPayloads(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	send(t, sess, `{"type":"click"`)
	send(t, sess, `{"type":"teleport","timestamp":1}`)
	send(t, sess, `{"type":"click","identification":{},"timestamp":1}`)
	assert.Empty(t, rec.Stop())
}

func TestNavigationStepsFromFrameEvents(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	sess.navHook("https://bank.example.com/accounts")
	send(t, sess, clickPayload("Checking"))
	sess.navHook("https://bank.example.com/accounts/checking")
	steps := rec.Stop()

	require.Len(t, steps, 3)
	assert.Equal(t, schemas.StepNavigation, steps[0].Type)
	assert.Equal(t, "https://bank.example.com/accounts", steps[0].Value)
	assert.Equal(t, schemas.StepNavigation, steps[2].Type)
}

func TestNavigationDeduplicated(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	// The history hook and the CDP frame event both report SPA route
	// changes; the same URL twice in a row must record one step.
	send(t, sess, `{"type":"navigation","value":"https://bank.example.com/accounts","timestamp":1}`)
	sess.navHook("https://bank.example.com/accounts")
	sess.navHook("about:blank")
	sess.navHook("")
	steps := rec.Stop()

	require.Len(t, steps, 1)
	assert.Equal(t, "https://bank.example.com/accounts", steps[0].Value)
}

func TestNavigationFlushesPendingInput(t *testing.T) {
	rec, sess, _ := newTestRecorder(t)

	rec.Start()
	send(t, sess, inputPayload("Username", "alice"))
	sess.navHook("https://bank.example.com/dashboard")
	steps := rec.Stop()

	require.Len(t, steps, 2)
	assert.Equal(t, schemas.StepInput, steps[0].Type)
	assert.Equal(t, schemas.StepNavigation, steps[1].Type)
}
