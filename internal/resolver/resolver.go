// File: internal/resolver/resolver.go
//
// The resolver maps an ElementIdentification captured at recording time back
// to a live element, tolerating the markup drift bank portals accumulate
// between runs. It snapshots the page's interactive elements once, then
// walks an ordered waterfall of matching strategies over the snapshot; the
// first strategy that produces a match wins.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wrenfin/wren/api/schemas"
)

// Strategy names, in waterfall order. A not-found report lists the ones
// attempted so a failed run can be diagnosed.
const (
	StrategyTextRole    = "text+role"
	StrategyAriaLabel   = "aria-label"
	StrategyPlaceholder = "placeholder"
	StrategyTitle       = "title"
	StrategyNearbyLabel = "nearby-label"
	StrategyFuzzyText   = "fuzzy-text"
	StrategyCoordinates = "coordinates"
	StrategyCrossFrame  = "cross-frame"
	StrategyPartialText = "partial-text"
)

// Match is a resolved element: the winning candidate plus the strategy that
// found it.
type Match struct {
	Candidate Candidate
	Strategy  string
}

// Selector renders the frame-independent attribute selector for the match.
func (m Match) Selector() string {
	return fmt.Sprintf(`[%s=%q]`, HandleAttr, m.Candidate.Handle)
}

// NotFoundError reports resolution failure with the ordered strategies that
// were attempted.
type NotFoundError struct {
	Attempted []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element not found after strategies: %s", strings.Join(e.Attempted, ", "))
}

// Resolver locates elements for playback.
type Resolver struct {
	log *zap.Logger
}

// New creates a resolver.
func New(logger *zap.Logger) *Resolver {
	return &Resolver{log: logger.Named("resolver")}
}

// Resolve snapshots the page and runs the strategy waterfall. The expected
// role (button/input/select/link, or "") narrows the early strategies.
//
// Re-running Resolve on an unchanged page for the same identification
// returns the same element: the snapshot stamps stable handles and every
// strategy is deterministic over it.
func (r *Resolver) Resolve(ctx context.Context, ev Evaluator, ident schemas.ElementIdentification, expectedRole string) (*Match, error) {
	cands, err := Collect(ctx, ev)
	if err != nil {
		return nil, err
	}
	m, nf := FindMatch(cands, ident, expectedRole)
	if nf != nil {
		r.log.Debug("Element resolution failed",
			zap.Strings("strategies_attempted", nf.Attempted),
			zap.String("role", expectedRole))
		return nil, nf
	}
	r.log.Debug("Element resolved",
		zap.String("strategy", m.Strategy),
		zap.String("frame", m.Candidate.Frame),
		zap.String("handle", m.Candidate.Handle))
	return m, nil
}

// FindMatch runs the waterfall over an already-collected snapshot. Exposed
// separately so the strategies are testable without a live page.
func FindMatch(cands []Candidate, ident schemas.ElementIdentification, expectedRole string) (*Match, *NotFoundError) {
	if expectedRole == "" {
		expectedRole = ident.Role
	}

	type strategy struct {
		name string
		find func() *Candidate
	}
	main := mainFrameVisible(cands)
	strategies := []strategy{
		{StrategyTextRole, func() *Candidate { return byTextAndRole(main, ident.Text, expectedRole) }},
		{StrategyAriaLabel, func() *Candidate { return byAriaLabel(main, ident.AriaLabel) }},
		{StrategyPlaceholder, func() *Candidate { return byPlaceholder(main, ident.Placeholder) }},
		{StrategyTitle, func() *Candidate { return byTitle(main, ident.Title) }},
		{StrategyNearbyLabel, func() *Candidate { return byNearbyLabel(main, ident.NearbyLabels) }},
		{StrategyFuzzyText, func() *Candidate { return byFuzzyText(main, ident.Text) }},
		{StrategyCoordinates, func() *Candidate { return byCoordinates(cands, ident.Coordinates, expectedRole) }},
		{StrategyCrossFrame, func() *Candidate { return byCrossFrame(cands, ident, expectedRole) }},
		{StrategyPartialText, func() *Candidate { return byPartialText(cands, ident.Text) }},
	}

	var attempted []string
	for _, s := range strategies {
		attempted = append(attempted, s.name)
		if c := s.find(); c != nil {
			return &Match{Candidate: *c, Strategy: s.name}, nil
		}
	}
	return nil, &NotFoundError{Attempted: attempted}
}

// matchesRole reports whether the candidate plays the expected role. An
// empty expectation matches anything.
func (c Candidate) matchesRole(role string) bool {
	switch role {
	case "":
		return true
	case "button":
		return c.Tag == "button" || c.Role == "button" ||
			(c.Tag == "input" && (c.Type == "submit" || c.Type == "button"))
	case "input":
		return c.Tag == "input" || c.Tag == "textarea" || c.Role == "textbox"
	case "select":
		return c.Tag == "select"
	case "link":
		return c.Tag == "a" || c.Role == "link"
	default:
		return c.Tag == role || c.Role == role
	}
}

// mainFrameVisible filters the snapshot down to laid-out elements of the top
// document. Elements with display:none never left a candidate footprint
// anyway (offsetParent === null excludes them at collection).
func mainFrameVisible(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Frame == "" && c.Visible {
			out = append(out, c)
		}
	}
	return out
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// containsEither reports case-insensitive containment in either direction.
func containsEither(a, b string) bool {
	a, b = fold(a), fold(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// pickUnique prefers an unambiguous winner: a single match is returned
// directly; among several, a candidate whose text matches exactly and
// uniquely wins; otherwise the first in document order.
func pickUnique(matches []Candidate, text string) *Candidate {
	switch len(matches) {
	case 0:
		return nil
	case 1:
		return &matches[0]
	}
	var exact []Candidate
	for _, c := range matches {
		if fold(c.Text) == fold(text) {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return &exact[0]
	}
	return &matches[0]
}

// Strategy 1: visible text or placeholder containment in either direction,
// narrowed to the expected role. Among several containment hits, a unique
// exact-text candidate wins over longer labels that merely embed the
// recorded text.
func byTextAndRole(cands []Candidate, text, role string) *Candidate {
	if text == "" {
		return nil
	}
	var matches []Candidate
	for _, c := range cands {
		if !c.matchesRole(role) {
			continue
		}
		if containsEither(c.Text, text) || containsEither(c.Placeholder, text) {
			matches = append(matches, c)
		}
	}
	return pickUnique(matches, text)
}

// Strategy 2: ARIA label exact or substring match.
func byAriaLabel(cands []Candidate, label string) *Candidate {
	if label == "" {
		return nil
	}
	var matches []Candidate
	for _, c := range cands {
		if c.AriaLabel != "" && (fold(c.AriaLabel) == fold(label) || containsEither(c.AriaLabel, label)) {
			matches = append(matches, c)
		}
	}
	return pickUnique(matches, label)
}

// Strategy 3: placeholder exact match.
func byPlaceholder(cands []Candidate, placeholder string) *Candidate {
	if placeholder == "" {
		return nil
	}
	for i, c := range cands {
		if fold(c.Placeholder) == fold(placeholder) {
			return &cands[i]
		}
	}
	return nil
}

// Strategy 4: title attribute exact match.
func byTitle(cands []Candidate, title string) *Candidate {
	if title == "" {
		return nil
	}
	for i, c := range cands {
		if fold(c.Title) == fold(title) {
			return &cands[i]
		}
	}
	return nil
}

// Strategy 5: a <label> associated with the control (via for= or wrapping)
// matches one of the recorded nearby labels.
func byNearbyLabel(cands []Candidate, nearby []string) *Candidate {
	if len(nearby) == 0 {
		return nil
	}
	for _, want := range nearby {
		if fold(want) == "" {
			continue
		}
		for i, c := range cands {
			for _, have := range c.Labels {
				if containsEither(have, want) {
					return &cands[i]
				}
			}
		}
	}
	return nil
}

// Strategy 6: best normalized Levenshtein similarity over the candidate's
// text, placeholder and aria label, above the acceptance threshold.
func byFuzzyText(cands []Candidate, text string) *Candidate {
	if text == "" {
		return nil
	}
	best := -1
	bestScore := 0.0
	for i, c := range cands {
		score := Similarity(c.Text, text)
		if s := Similarity(c.Placeholder, text); s > score {
			score = s
		}
		if s := Similarity(c.AriaLabel, text); s > score {
			score = s
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 && bestScore > FuzzyThreshold {
		return &cands[best]
	}
	return nil
}

// Strategy 7: the element physically under the recorded point. Prefers the
// expected role; failing that, takes the smallest box containing the point,
// which approximates the innermost descendant. The child search is the one
// place a non-laid-out candidate may still win.
func byCoordinates(cands []Candidate, pt *schemas.Point, role string) *Candidate {
	if pt == nil {
		return nil
	}
	var fallback *Candidate
	fallbackArea := 0.0
	for i, c := range cands {
		if c.Frame != "" || !c.Rect.Contains(pt.X, pt.Y) {
			continue
		}
		if c.Visible && c.matchesRole(role) && role != "" {
			return &cands[i]
		}
		if fallback == nil || c.Rect.Area() < fallbackArea {
			fallback = &cands[i]
			fallbackArea = c.Rect.Area()
		}
	}
	return fallback
}

// Strategy 8: repeat the attribute strategies inside every reachable
// same-origin iframe, with a "first visible input" fallback for input
// steps. Cross-origin frames never appear in the snapshot.
func byCrossFrame(cands []Candidate, ident schemas.ElementIdentification, role string) *Candidate {
	var framed []Candidate
	for _, c := range cands {
		if c.Frame != "" && c.Visible {
			framed = append(framed, c)
		}
	}
	if len(framed) == 0 {
		return nil
	}
	if c := byTextAndRole(framed, ident.Text, role); c != nil {
		return c
	}
	if c := byAriaLabel(framed, ident.AriaLabel); c != nil {
		return c
	}
	if c := byPlaceholder(framed, ident.Placeholder); c != nil {
		return c
	}
	if c := byTitle(framed, ident.Title); c != nil {
		return c
	}
	if role == "input" {
		for i, c := range framed {
			if c.matchesRole("input") {
				return &framed[i]
			}
		}
	}
	return nil
}

// Strategy 9: lenient case-insensitive substring over any frame. The length
// guard keeps two-character fragments from matching half the page.
func byPartialText(cands []Candidate, text string) *Candidate {
	if len(fold(text)) < 3 {
		return nil
	}
	for i, c := range cands {
		if !c.Visible || len(fold(c.Text)) < 3 {
			continue
		}
		if containsEither(c.Text, text) {
			return &cands[i]
		}
	}
	return nil
}
