// File: internal/resolver/candidates.go
package resolver

import (
	"context"
	"fmt"
)

// Evaluator executes a JavaScript expression in the live page and decodes
// the JSON result. The browser session satisfies it.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out any) error
}

// Rect is an element's page-coordinate bounding box.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.W && y >= r.Y && y <= r.Y+r.H
}

// Area is the box surface, used to prefer the innermost hit on overlap.
func (r Rect) Area() float64 { return r.W * r.H }

// Candidate is a snapshot of one live interactive element, tagged in the
// page with a stable handle attribute so a later action can address it.
// Frame is "" for the main document, otherwise the iframe path
// (e.g. "iframe[0]" or "iframe[0]/iframe[2]").
type Candidate struct {
	Handle      string   `json:"handle"`
	Frame       string   `json:"frame"`
	Tag         string   `json:"tag"`
	Type        string   `json:"type"`
	Role        string   `json:"role"`
	Text        string   `json:"text"`
	AriaLabel   string   `json:"ariaLabel"`
	Placeholder string   `json:"placeholder"`
	Title       string   `json:"title"`
	Labels      []string `json:"labels"`
	Visible     bool     `json:"visible"`
	Rect        Rect     `json:"rect"`
}

// HandleAttr is the attribute the collection script stamps on every
// candidate. Playback addresses elements by it.
const HandleAttr = "data-wren-id"

// collectScript walks the document and every reachable same-origin iframe,
// stamps each interactive element with a handle, and returns the candidate
// snapshot. Cross-origin frames raise on contentDocument access and are
// skipped silently.
const collectScript = `(() => {
	const out = [];
	let seq = 0;
	const collect = (doc, win, frame) => {
		const sel = 'a, button, input, select, textarea, option, [role="button"], [role="link"], [role="textbox"], [onclick], [tabindex]';
		const els = doc.querySelectorAll(sel);
		for (const el of els) {
			let handle = el.getAttribute('data-wren-id');
			if (!handle) {
				handle = 'w' + Date.now().toString(36) + '-' + (seq++);
				el.setAttribute('data-wren-id', handle);
			}
			const rect = el.getBoundingClientRect();
			const labels = [];
			if (el.id) {
				try {
					doc.querySelectorAll('label[for="' + CSS.escape(el.id) + '"]')
						.forEach((l) => labels.push((l.innerText || '').trim()));
				} catch (e) {}
			}
			const wrap = el.closest('label');
			if (wrap) labels.push((wrap.innerText || '').trim());
			out.push({
				handle: handle,
				frame: frame,
				tag: el.tagName.toLowerCase(),
				type: (el.getAttribute('type') || '').toLowerCase(),
				role: (el.getAttribute('role') || '').toLowerCase(),
				text: ((el.innerText || el.value || '') + '').trim().slice(0, 200),
				ariaLabel: el.getAttribute('aria-label') || '',
				placeholder: el.getAttribute('placeholder') || '',
				title: el.getAttribute('title') || '',
				labels: labels.filter(Boolean),
				visible: el.offsetParent !== null,
				rect: {
					x: rect.x + win.scrollX,
					y: rect.y + win.scrollY,
					w: rect.width,
					h: rect.height,
				},
			});
		}
		const iframes = doc.querySelectorAll('iframe');
		for (let i = 0; i < iframes.length; i++) {
			try {
				const sub = iframes[i].contentDocument;
				const subWin = iframes[i].contentWindow;
				if (sub && subWin) {
					collect(sub, subWin, frame ? frame + '/iframe[' + i + ']' : 'iframe[' + i + ']');
				}
			} catch (e) {
				// Cross-origin frame; not reachable.
			}
		}
	};
	collect(document, window, '');
	return out;
})()`

// Collect snapshots the current page's interactive elements.
func Collect(ctx context.Context, ev Evaluator) ([]Candidate, error) {
	var out []Candidate
	if err := ev.Evaluate(ctx, collectScript, &out); err != nil {
		return nil, fmt.Errorf("candidate collection failed: %w", err)
	}
	return out, nil
}
