// File: internal/playback/actions.go
package playback

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/wrenfin/wren/internal/resolver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// actionScript locates a resolved element by its stamped handle attribute,
// descending into same-origin frames, and performs the requested action in
// page context. Input values are set through the native prototype setter so
// framework-controlled inputs (React and friends) observe the change, then
// the field is blurred so validate-on-blur login forms run their checks.
const actionScript = `
(() => {
  const args = %s;
  const findIn = (doc) => {
    let el = doc.querySelector('[%s=' + JSON.stringify(args.handle) + ']');
    if (el) return el;
    for (const frame of doc.querySelectorAll('iframe, frame')) {
      try {
        const inner = frame.contentDocument;
        if (inner) {
          el = findIn(inner);
          if (el) return el;
        }
      } catch (e) { /* cross-origin */ }
    }
    return null;
  };
  const el = findIn(document);
  if (!el) return { ok: false, reason: 'handle not found' };
  el.scrollIntoView({ block: 'center', inline: 'center' });
  switch (args.action) {
    case 'click': {
      el.click();
      return { ok: true };
    }
    case 'input': {
      el.focus();
      const proto = el.tagName === 'TEXTAREA'
        ? window.HTMLTextAreaElement.prototype
        : window.HTMLInputElement.prototype;
      const setter = Object.getOwnPropertyDescriptor(proto, 'value');
      if (setter && setter.set) {
        setter.set.call(el, args.value);
      } else {
        el.value = args.value;
      }
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new KeyboardEvent('keydown', { bubbles: true }));
      el.dispatchEvent(new KeyboardEvent('keyup', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      el.blur();
      return { ok: true };
    }
    case 'select': {
      let matched = false;
      for (const opt of el.options || []) {
        if (opt.value === args.value || opt.textContent.trim() === args.value) {
          el.value = opt.value;
          matched = true;
          break;
        }
      }
      if (!matched) el.value = args.value;
      el.dispatchEvent(new Event('input', { bubbles: true }));
      el.dispatchEvent(new Event('change', { bubbles: true }));
      return { ok: matched, reason: matched ? '' : 'no matching option' };
    }
  }
  return { ok: false, reason: 'unknown action ' + args.action };
})()
`

type actionArgs struct {
	Handle string `json:"handle"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

type actionResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// performAction executes click/input/select against the element carrying the
// given snapshot handle.
func performAction(ctx context.Context, sess Session, handle, action, value string) error {
	raw, err := json.Marshal(actionArgs{Handle: handle, Action: action, Value: value})
	if err != nil {
		return fmt.Errorf("encoding action args: %w", err)
	}
	expr := fmt.Sprintf(actionScript, string(raw), resolver.HandleAttr)

	var res actionResult
	if err := sess.Evaluate(ctx, expr, &res); err != nil {
		return fmt.Errorf("executing %s action: %w", action, err)
	}
	if !res.OK {
		return fmt.Errorf("%s action failed: %s", action, res.Reason)
	}
	return nil
}
