// File: api/schemas/recipe.go
package schemas

import (
	"fmt"
	"time"
)

// StepType discriminates the RecordingStep tagged union.
type StepType string

const (
	StepClick      StepType = "click"
	StepInput      StepType = "input"
	StepSelect     StepType = "select"
	StepNavigation StepType = "navigation"
)

// Point is a page coordinate captured at recording time.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport records the window geometry the coordinates were captured in,
// so a coordinate fallback can be judged against layout drift.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// ElementIdentification is the fingerprint of a DOM element captured once at
// recording time. It is immutable thereafter; playback relocates an
// equivalent element from it, tolerating markup drift.
type ElementIdentification struct {
	Text         string    `json:"text,omitempty"`
	AriaLabel    string    `json:"ariaLabel,omitempty"`
	Placeholder  string    `json:"placeholder,omitempty"`
	Title        string    `json:"title,omitempty"`
	Role         string    `json:"role,omitempty"`
	NearbyLabels []string  `json:"nearbyLabels,omitempty"`
	Coordinates  *Point    `json:"coordinates,omitempty"`
	Viewport     *Viewport `json:"viewport,omitempty"`
}

// IsEmpty reports whether the identification carries none of the attributes
// an element can be relocated by. A purely-empty identification is invalid.
func (id ElementIdentification) IsEmpty() bool {
	return id.Text == "" &&
		id.AriaLabel == "" &&
		id.Placeholder == "" &&
		id.Title == "" &&
		len(id.NearbyLabels) == 0 &&
		id.Coordinates == nil
}

// RecordingStep is one recorded interaction. Steps are ordered; sequence
// order is the contract and playback executes them strictly in order.
type RecordingStep struct {
	Type           StepType              `json:"type"`
	Identification ElementIdentification `json:"identification"`
	Value          string                `json:"value,omitempty"`
	IsSensitive    bool                  `json:"isSensitive,omitempty"`
	FieldLabel     string                `json:"fieldLabel,omitempty"`
	// Timestamp is capture time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// RedactedValue is stored in place of any sensitive input. The real value is
// solicited interactively at playback time and never persisted.
const RedactedValue = "[REDACTED]"

// Validate checks the tagged union at the script/host boundary. Event
// payloads crossing from the page are never trusted implicitly.
func (s RecordingStep) Validate() error {
	switch s.Type {
	case StepClick, StepSelect:
		if s.Identification.IsEmpty() {
			return fmt.Errorf("step %q: empty element identification", s.Type)
		}
	case StepInput:
		if s.Identification.IsEmpty() {
			return fmt.Errorf("step %q: empty element identification", s.Type)
		}
		if s.IsSensitive && s.Value != RedactedValue && s.Value != "" {
			return fmt.Errorf("step %q: sensitive step carries a captured value", s.Type)
		}
	case StepNavigation:
		if s.Value == "" {
			return fmt.Errorf("step %q: missing target url", s.Type)
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// ScrapeMethod records how a transaction set was extracted.
type ScrapeMethod string

const (
	ScrapeMethodDOM    ScrapeMethod = "dom"
	ScrapeMethodVision ScrapeMethod = "vision"
)

// Recipe is a named, ordered sequence of recorded steps plus a start URL,
// replayable later. Owned by the recipe store.
type Recipe struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	StartURL           string          `json:"startUrl"`
	AccountID          string          `json:"accountId,omitempty"`
	Steps              []RecordingStep `json:"steps"`
	LastRunAt          *time.Time      `json:"lastRunAt,omitempty"`
	LastScrapingMethod ScrapeMethod    `json:"lastScrapingMethod,omitempty"`
}

// Validate checks the recipe is replayable.
func (r Recipe) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("recipe is missing a name")
	}
	if r.StartURL == "" {
		return fmt.Errorf("recipe %q is missing a start url", r.Name)
	}
	for i, s := range r.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("recipe %q step %d: %w", r.Name, i, err)
		}
	}
	return nil
}

// PlaybackState tracks the single active playback. The engine supports at
// most one concurrent playback process-wide.
type PlaybackState struct {
	RecipeID    string `json:"recipeId"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
}
