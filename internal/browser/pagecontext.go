// internal/browser/pagecontext.go
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
)

// snapshotScript gathers the page signals and visible interactive elements in
// a single evaluation. It only reads the DOM.
const snapshotScript = `() => {
	const vw = window.innerWidth, vh = window.innerHeight;
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		return r.bottom > 0 && r.right > 0 && r.top < vh && r.left < vw;
	};
	const label = (el) => {
		const text = (el.innerText || el.value || el.placeholder ||
			el.getAttribute('aria-label') || el.getAttribute('title') || '').trim();
		return text.replace(/\s+/g, ' ').substring(0, 60);
	};
	const kindOf = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'a') return 'link';
		if (tag === 'button' || el.getAttribute('role') === 'button') return 'button';
		if (tag === 'select') return 'select';
		if (tag === 'textarea') return 'input';
		if (tag === 'input') {
			const t = (el.type || 'text').toLowerCase();
			if (t === 'submit' || t === 'button') return 'button';
			if (t === 'checkbox' || t === 'radio') return 'toggle';
			return 'input';
		}
		return 'other';
	};
	const els = [];
	const selector = 'a[href], button, input, select, textarea, [role="button"], [role="link"], [role="tab"], [onclick]';
	document.querySelectorAll(selector).forEach(el => {
		if (!visible(el) || el.disabled) return;
		const r = el.getBoundingClientRect();
		els.push({
			kind: kindOf(el),
			label: label(el),
			left: Math.floor(r.left), top: Math.floor(r.top),
			width: Math.floor(r.width), height: Math.floor(r.height),
		});
	});
	const body = document.body ? document.body.innerText.toLowerCase() : '';
	const hasSearchInput = !!document.querySelector(
		'input[type="search"], input[name*="search" i], input[placeholder*="search" i]');
	const hasPassword = !!document.querySelector('input[type="password"]');
	return {
		title: document.title,
		heading: document.querySelector('h1') ? document.querySelector('h1').innerText.trim().substring(0, 120) : '',
		path: window.location.pathname,
		formCount: document.forms.length,
		hasSearchInput: hasSearchInput,
		hasPassword: hasPassword,
		looksProduct: body.includes('add to cart') || body.includes('add to bag') || body.includes('price:'),
		looksResults: document.title.toLowerCase().includes('search') || body.includes('search results') || body.includes('items found'),
		looksCheckout: body.includes('checkout') || body.includes('payment') || body.includes('shipping'),
		elements: els,
	};
}`

// pageSnapshot mirrors the snapshotScript return shape.
type pageSnapshot struct {
	Title         string `json:"title"`
	Heading       string `json:"heading"`
	Path          string `json:"path"`
	FormCount     int    `json:"formCount"`
	HasSearch     bool   `json:"hasSearchInput"`
	HasPassword   bool   `json:"hasPassword"`
	LooksProduct  bool   `json:"looksProduct"`
	LooksResults  bool   `json:"looksResults"`
	LooksCheckout bool   `json:"looksCheckout"`
	Elements      []struct {
		Kind   string `json:"kind"`
		Label  string `json:"label"`
		Left   int    `json:"left"`
		Top    int    `json:"top"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"elements"`
}

// ContextBuilder produces the oracle-facing page summary for one session.
// Capture never mutates the page.
type ContextBuilder struct {
	page   playwright.Page
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewContextBuilder creates a builder bound to a session's page.
func NewContextBuilder(s *Session, cfg config.BrowserConfig, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		page:   s.Page(),
		cfg:    cfg,
		logger: logger.Named("context_builder"),
	}
}

// Capture snapshots the current page: structured summary plus a viewport
// screenshot. A screenshot failure degrades to a context without one.
func (b *ContextBuilder) Capture(ctx context.Context) (*schemas.PageContext, error) {
	raw, err := b.page.Evaluate(snapshotScript)
	if err != nil {
		return nil, fmt.Errorf("page snapshot failed: %w", err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("page snapshot malformed: %w", err)
	}

	pc := &schemas.PageContext{
		URL:        b.page.URL(),
		Title:      snap.Title,
		Kind:       classify(snap),
		Heading:    snap.Heading,
		Elements:   rankElements(snap, b.cfg),
		CapturedAt: time.Now(),
	}

	shot, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		b.logger.Warn("Screenshot failed; continuing without one.", zap.Error(err))
	} else {
		pc.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}
	return pc, nil
}

// classify maps snapshot signals to a coarse page kind. Checkout wins over
// product signals since checkout pages routinely mention prices too.
func classify(s *pageSnapshot) schemas.PageKind {
	switch {
	case s.LooksCheckout && s.FormCount > 0:
		return schemas.PageCheckout
	case s.LooksResults:
		return schemas.PageListing
	case s.LooksProduct:
		return schemas.PageDetail
	case s.HasPassword || s.FormCount > 0 && !s.HasSearch:
		return schemas.PageForm
	case s.HasSearch && (s.Path == "/" || s.Path == ""):
		return schemas.PageHome
	case s.HasSearch:
		return schemas.PageSearch
	case s.Path == "/" || s.Path == "":
		return schemas.PageHome
	default:
		return schemas.PageUnknown
	}
}

// rankElements orders elements by prominence and truncates to the configured
// cap. Prominence is area discounted by vertical position, so big
// above-the-fold controls come first.
func rankElements(s *pageSnapshot, cfg config.BrowserConfig) []schemas.PageElement {
	type ranked struct {
		el    schemas.PageElement
		score float64
	}
	out := make([]ranked, 0, len(s.Elements))
	for _, e := range s.Elements {
		if e.Label == "" && e.Kind != "input" {
			continue
		}
		depth := 1.0 + float64(e.Top)/float64(cfg.ViewportHeight)
		out = append(out, ranked{
			el: schemas.PageElement{
				Kind:    e.Kind,
				Label:   e.Label,
				CenterX: e.Left + e.Width/2,
				CenterY: e.Top + e.Height/2,
				Left:    e.Left,
				Top:     e.Top,
				Width:   e.Width,
				Height:  e.Height,
			},
			score: float64(e.Width*e.Height) / depth,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if cfg.MaxElements > 0 && len(out) > cfg.MaxElements {
		out = out[:cfg.MaxElements]
	}
	els := make([]schemas.PageElement, len(out))
	for i, r := range out {
		els[i] = r.el
	}
	return els
}

// decodeSnapshot converts the loosely typed Evaluate result into a
// pageSnapshot through JSON round-tripping, which tolerates missing fields.
func decodeSnapshot(raw interface{}) (*pageSnapshot, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var snap pageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
