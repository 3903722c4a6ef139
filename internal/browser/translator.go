// internal/browser/translator.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
)

// targetProbeScript reports what sits at a viewport coordinate. Used to
// reject clicks aimed at nothing actionable before the mouse moves.
const targetProbeScript = `(pt) => {
	const el = document.elementFromPoint(pt.x, pt.y);
	if (!el) return { found: false };
	const interactive = el.closest('a, button, input, select, textarea, label, [role="button"], [role="link"], [role="tab"], [role="menuitem"], [onclick], [contenteditable]');
	return { found: true, interactive: !!interactive };
}`

// focusProbeScript reports whether the focused element accepts typed text.
const focusProbeScript = `() => {
	const el = document.activeElement;
	if (!el || el === document.body) return false;
	const tag = el.tagName.toLowerCase();
	if (tag === 'input' || tag === 'textarea' || tag === 'select') return !el.disabled && !el.readOnly;
	return el.isContentEditable === true;
}`

// Translator turns oracle actions into browser driver calls on one session's
// page. Action-level failures come back inside the outcome; the returned
// error is reserved for infrastructure breakage.
type Translator struct {
	session *Session
	builder *ContextBuilder
	cfg     config.BrowserConfig
	logger  *zap.Logger
}

// NewTranslator creates a translator bound to a session.
func NewTranslator(s *Session, builder *ContextBuilder, cfg config.BrowserConfig, logger *zap.Logger) *Translator {
	return &Translator{
		session: s,
		builder: builder,
		cfg:     cfg,
		logger:  logger.Named("translator").With(zap.String("project_id", s.ProjectID())),
	}
}

// Execute applies one action and reports what happened, including a fresh
// page capture. The session survives every outcome, failed or not.
func (t *Translator) Execute(ctx context.Context, action schemas.Action) (schemas.ActionOutcome, error) {
	start := time.Now()
	startURL := t.session.Page().URL()

	outcome := t.apply(ctx, action)
	outcome.Action = action
	outcome.Duration = time.Since(start)

	endURL := t.session.Page().URL()
	if endURL != startURL {
		outcome.PageChanged = true
		// A click that triggered navigation needs the new document before
		// the capture below means anything.
		t.settle(t.cfg.ActionTimeout)
	}

	pc, err := t.builder.Capture(ctx)
	if err != nil {
		t.logger.Warn("Post-action capture failed.", zap.Error(err))
	} else {
		outcome.Context = pc
	}

	t.logger.Debug("Action applied.",
		zap.String("type", string(action.Type)),
		zap.Bool("success", outcome.Success),
		zap.String("code", string(outcome.Code)),
		zap.Bool("page_changed", outcome.PageChanged))
	return outcome, nil
}

func (t *Translator) apply(ctx context.Context, action schemas.Action) schemas.ActionOutcome {
	page := t.session.Page()

	switch action.Type {
	case schemas.ActionClick, schemas.ActionDoubleClick:
		x, y := t.clamp(action.X, action.Y)
		ok, err := t.probeTarget(x, y)
		if err != nil {
			return failure(schemas.CodeInvalidTarget, fmt.Sprintf("cannot probe (%d,%d): %v", x, y, err))
		}
		if !ok {
			return failure(schemas.CodeInvalidTarget, fmt.Sprintf("nothing interactive at (%d,%d)", x, y))
		}
		if action.Type == schemas.ActionDoubleClick {
			err = page.Mouse().Dblclick(float64(x), float64(y))
		} else {
			err = page.Mouse().Click(float64(x), float64(y))
		}
		return t.fromDriverErr(err, fmt.Sprintf("%s at (%d,%d)", action.Type, x, y))

	case schemas.ActionTypeText:
		focused, err := t.probeFocus()
		if err != nil {
			return failure(schemas.CodeNoFocusTarget, fmt.Sprintf("cannot probe focus: %v", err))
		}
		if !focused {
			return failure(schemas.CodeNoFocusTarget, "no editable element is focused")
		}
		err = page.Keyboard().Type(action.Text, playwright.KeyboardTypeOptions{
			Delay: playwright.Float(float64(t.cfg.TypingDelay.Milliseconds())),
		})
		return t.fromDriverErr(err, fmt.Sprintf("typed %d chars", len(action.Text)))

	case schemas.ActionKeypress:
		err := page.Keyboard().Press(normalizeKey(action.Key), playwright.KeyboardPressOptions{})
		return t.fromDriverErr(err, fmt.Sprintf("pressed %q", action.Key))

	case schemas.ActionScroll:
		err := page.Mouse().Wheel(float64(action.DeltaX), float64(action.DeltaY))
		return t.fromDriverErr(err, fmt.Sprintf("scrolled (%d,%d)", action.DeltaX, action.DeltaY))

	case schemas.ActionDrag:
		x1, y1 := t.clamp(action.X, action.Y)
		x2, y2 := t.clamp(action.X2, action.Y2)
		err := t.drag(x1, y1, x2, y2)
		return t.fromDriverErr(err, fmt.Sprintf("dragged (%d,%d) to (%d,%d)", x1, y1, x2, y2))

	case schemas.ActionWait:
		d := time.Duration(action.DurationMs) * time.Millisecond
		if d <= 0 || d > t.cfg.ActionTimeout {
			d = t.cfg.ActionTimeout
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return failure(schemas.CodeActionTimeout, "wait interrupted")
		}
		return success(fmt.Sprintf("waited %s", d))

	case schemas.ActionNavigate:
		return t.navigate(action.URL)

	case schemas.ActionDone:
		// Terminal decisions never reach the page.
		return success("done")

	default:
		return failure(schemas.CodeInvalidTarget, fmt.Sprintf("unsupported action type %q", action.Type))
	}
}

// Navigate loads a URL on the session, outside any oracle decision. The
// navigate job kind goes through here.
func (t *Translator) Navigate(ctx context.Context, rawURL string) (schemas.ActionOutcome, error) {
	return t.Execute(ctx, schemas.Action{Type: schemas.ActionNavigate, URL: rawURL})
}

func (t *Translator) navigate(rawURL string) schemas.ActionOutcome {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return failure(schemas.CodeBlockedNavigation, fmt.Sprintf("unusable url %q: %v", rawURL, err))
	}
	if host := hostOf(target); host == "" || HostBlocked(host, t.cfg.BlockedDomains) {
		return failure(schemas.CodeBlockedNavigation, fmt.Sprintf("navigation to %q is not allowed", rawURL))
	}

	page := t.session.Page()
	_, gotoErr := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(t.cfg.NavigationTimeout.Milliseconds())),
	})
	// A slow page is a partial load, not a failure: proceed with whatever has
	// rendered. Only non-timeout errors fail the navigation.
	partial, failed := classifyGotoError(gotoErr)
	if failed {
		return failure(schemas.CodeActionTimeout, fmt.Sprintf("navigation to %s failed: %v", target, gotoErr))
	}
	if partial {
		t.logger.Warn("Navigation timed out; proceeding with partial load.", zap.String("url", target))
	}

	// Best effort quiet-network wait; a busy page stays a partial load.
	if !partial {
		if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateNetworkidle,
			Timeout: playwright.Float(float64(t.cfg.SettleTimeout.Milliseconds())),
		}); err != nil {
			partial = true
		}
	}

	if err := t.session.Checkpoint(); err != nil {
		t.logger.Warn("State checkpoint after navigation failed.", zap.Error(err))
	}

	msg := fmt.Sprintf("navigated to %s", target)
	if partial {
		msg += " (page still loading)"
	}
	out := success(msg)
	out.PageChanged = true
	return out
}

func (t *Translator) drag(x1, y1, x2, y2 int) error {
	mouse := t.session.Page().Mouse()
	if err := mouse.Move(float64(x1), float64(y1)); err != nil {
		return err
	}
	if err := mouse.Down(); err != nil {
		return err
	}
	if err := mouse.Move(float64(x2), float64(y2), playwright.MouseMoveOptions{
		Steps: playwright.Int(12),
	}); err != nil {
		mouse.Up()
		return err
	}
	return mouse.Up()
}

// settle waits for the next document to reach domcontentloaded, bounded.
func (t *Translator) settle(bound time.Duration) {
	_ = t.session.Page().WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(bound.Milliseconds())),
	})
}

func (t *Translator) probeTarget(x, y int) (bool, error) {
	raw, err := t.session.Page().Evaluate(targetProbeScript, map[string]interface{}{"x": x, "y": y})
	if err != nil {
		return false, err
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return false, errors.New("unexpected probe result")
	}
	interactive, _ := m["interactive"].(bool)
	return interactive, nil
}

func (t *Translator) probeFocus() (bool, error) {
	raw, err := t.session.Page().Evaluate(focusProbeScript)
	if err != nil {
		return false, err
	}
	focused, _ := raw.(bool)
	return focused, nil
}

func (t *Translator) clamp(x, y int) (int, int) {
	return clampTo(x, t.cfg.ViewportWidth-1), clampTo(y, t.cfg.ViewportHeight-1)
}

func (t *Translator) fromDriverErr(err error, detail string) schemas.ActionOutcome {
	if err == nil {
		return success(detail)
	}
	if isTimeout(err) {
		return failure(schemas.CodeActionTimeout, fmt.Sprintf("%s: %v", detail, err))
	}
	return failure(schemas.CodeInvalidTarget, fmt.Sprintf("%s: %v", detail, err))
}

func success(detail string) schemas.ActionOutcome {
	return schemas.ActionOutcome{Success: true, Detail: detail}
}

func failure(code schemas.ErrorCode, detail string) schemas.ActionOutcome {
	return schemas.ActionOutcome{Success: false, Code: code, Detail: detail}
}

func clampTo(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// classifyGotoError sorts a navigation error into the partial-load fallback
// (timeouts) or a hard failure (everything else).
func classifyGotoError(err error) (partial, failed bool) {
	if err == nil {
		return false, false
	}
	if isTimeout(err) {
		return true, false
	}
	return false, true
}

// normalizeKey maps oracle key spellings onto driver key names, preserving
// modifier combos like "Control+a".
func normalizeKey(key string) string {
	parts := strings.Split(key, "+")
	for i, p := range parts {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "ctrl", "control":
			parts[i] = "Control"
		case "alt", "option":
			parts[i] = "Alt"
		case "shift":
			parts[i] = "Shift"
		case "cmd", "meta", "super":
			parts[i] = "Meta"
		case "enter", "return":
			parts[i] = "Enter"
		case "esc", "escape":
			parts[i] = "Escape"
		case "space", "spacebar":
			parts[i] = "Space"
		case "tab":
			parts[i] = "Tab"
		case "backspace":
			parts[i] = "Backspace"
		case "delete", "del":
			parts[i] = "Delete"
		case "pageup":
			parts[i] = "PageUp"
		case "pagedown":
			parts[i] = "PageDown"
		case "up", "arrowup":
			parts[i] = "ArrowUp"
		case "down", "arrowdown":
			parts[i] = "ArrowDown"
		case "left", "arrowleft":
			parts[i] = "ArrowLeft"
		case "right", "arrowright":
			parts[i] = "ArrowRight"
		default:
			parts[i] = strings.TrimSpace(p)
		}
	}
	return strings.Join(parts, "+")
}

// NormalizeURL fills in a https scheme when none was given and validates the
// result parses.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.New("missing host")
	}
	return u.String(), nil
}

// HostBlocked reports whether host matches a blocked domain exactly or as a
// subdomain. Matching is case-insensitive.
func HostBlocked(host string, blocked []string) bool {
	host = strings.ToLower(host)
	for _, d := range blocked {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
