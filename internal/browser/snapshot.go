package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

// Element describes one interactable node surfaced by a snapshot, keyed by
// its data-nx-ref attribute.
type Element struct {
	Ref         int     `json:"ref"`
	Tag         string  `json:"tag"`
	ID          string  `json:"id,omitempty"`
	Role        string  `json:"role,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	AriaLabel   string  `json:"ariaLabel,omitempty"`
	Placeholder string  `json:"placeholder,omitempty"`
	Href        string  `json:"href,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// Snapshot is the result of the accessibility snapshot protocol.
type Snapshot struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Elements  []Element `json:"elements"`
}

// snapshotScript clears prior refs, walks a fixed union of interactable
// selectors, filters invisible elements, deduplicates near-identical nodes,
// and assigns sequential data-nx-ref attributes up to maxElements.
const snapshotScript = `(function(maxElements) {
  document.querySelectorAll('[data-nx-ref]').forEach(function(el) { el.removeAttribute('data-nx-ref'); });

  var selector = [
    'a[href]', 'button', 'input', 'select', 'textarea',
    '[role="button"]', '[role="link"]', '[role="menuitem"]',
    '[onclick]', '[contenteditable="true"]',
    '[tabindex]:not([tabindex="-1"])', '[aria-label]'
  ].join(',');

  function visible(el) {
    var r = el.getBoundingClientRect();
    if (r.width <= 0 || r.height <= 0) return false;
    var style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.display !== 'none';
  }

  var seen = {};
  var out = [];
  var nodes = document.querySelectorAll(selector);
  for (var i = 0; i < nodes.length && out.length < maxElements; i++) {
    var el = nodes[i];
    if (!visible(el)) continue;
    var r = el.getBoundingClientRect();
    var text = (el.innerText || el.value || '').trim().slice(0, 40);
    var key = [el.tagName, el.id || '', el.getAttribute('name') || '', Math.round(r.x) + ',' + Math.round(r.y), text].join('|');
    if (seen[key]) continue;
    seen[key] = true;
    out.push({
      el: el,
      tag: el.tagName.toLowerCase(),
      id: el.id || '',
      role: el.getAttribute('role') || '',
      name: el.getAttribute('name') || '',
      type: el.getAttribute('type') || '',
      text: (el.innerText || el.value || '').trim().slice(0, 160),
      ariaLabel: el.getAttribute('aria-label') || '',
      placeholder: el.getAttribute('placeholder') || '',
      href: el.getAttribute('href') || '',
      x: r.x, y: r.y, width: r.width, height: r.height
    });
  }

  var result = [];
  for (var j = 0; j < out.length; j++) {
    var ref = j + 1;
    out[j].el.setAttribute('data-nx-ref', String(ref));
    var e = out[j];
    delete e.el;
    e.ref = ref;
    result.push(e);
  }
  return JSON.stringify({ url: document.location.href, title: document.title, elements: result });
})(%d)`

// Snapshot runs the accessibility snapshot protocol against the session's
// page and records the resulting refs for subsequent clickByRef/typeByRef
// calls.
func (c *Controller) Snapshot(ctx context.Context, sessionID string, maxElements int) (*Snapshot, error) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("browser session %s not found", sessionID))
	}

	if maxElements <= 0 || maxElements > hardMaxSnapshotElements {
		maxElements = defaultMaxSnapshotElements
	}

	var raw string
	script := fmt.Sprintf(snapshotScript, maxElements)
	if err := chromedp.Run(sess.ctx, chromedp.Evaluate(script, &raw)); err != nil {
		return nil, apperr.Wrap(apperr.KindBrowserUnavail, "snapshot evaluation failed", err)
	}

	var payload struct {
		URL      string    `json:"url"`
		Title    string    `json:"title"`
		Elements []Element `json:"elements"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, apperr.Wrap(apperr.KindBrowserUnavail, "snapshot response decode failed", err)
	}

	c.mu.Lock()
	sess.elements = make(map[int]Element, len(payload.Elements))
	for _, el := range payload.Elements {
		sess.elements[el.Ref] = el
	}
	sess.LastSnapshotAt = time.Now()
	sess.Title = payload.Title
	sess.touch()
	c.mu.Unlock()

	return &Snapshot{
		URL:       payload.URL,
		Title:     payload.Title,
		Timestamp: time.Now(),
		Elements:  payload.Elements,
	}, nil
}
