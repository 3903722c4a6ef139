// internal/audit/audit.go

// Package audit runs lightweight read-only page checks over a live session:
// accessibility, performance, and SEO heuristics gathered in one JS
// evaluation each.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/internal/browser"
)

// Kind names an audit family.
type Kind string

const (
	Accessibility Kind = "accessibility"
	Performance   Kind = "performance"
	SEO           Kind = "seo"
)

// Finding is one observed problem with how often it occurs.
type Finding struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Report is the outcome of one audit: findings plus a 0-100 score where 100
// means nothing was flagged.
type Report struct {
	Kind     Kind      `json:"kind"`
	URL      string    `json:"url"`
	Score    int       `json:"score"`
	Findings []Finding `json:"findings"`
}

const accessibilityScript = `() => {
	const out = {};
	out.imagesWithoutAlt = document.querySelectorAll('img:not([alt])').length;
	out.inputsWithoutLabel = Array.from(document.querySelectorAll('input, select, textarea')).filter(el => {
		if (el.type === 'hidden' || el.type === 'submit' || el.type === 'button') return false;
		if (el.getAttribute('aria-label') || el.getAttribute('aria-labelledby')) return false;
		return !(el.id && document.querySelector('label[for="' + el.id + '"]')) && !el.closest('label');
	}).length;
	out.buttonsWithoutText = Array.from(document.querySelectorAll('button')).filter(b =>
		!b.innerText.trim() && !b.getAttribute('aria-label')).length;
	const levels = Array.from(document.querySelectorAll('h1,h2,h3,h4,h5,h6')).map(h => +h.tagName[1]);
	out.headingJumps = levels.filter((l, i) => i > 0 && l - levels[i-1] > 1).length;
	out.missingLang = document.documentElement.getAttribute('lang') ? 0 : 1;
	return out;
}`

const performanceScript = `() => {
	const nav = performance.getEntriesByType('navigation')[0];
	const resources = performance.getEntriesByType('resource');
	return {
		domContentLoadedMs: nav ? Math.round(nav.domContentLoadedEventEnd) : 0,
		loadMs: nav ? Math.round(nav.loadEventEnd) : 0,
		resourceCount: resources.length,
		transferBytes: resources.reduce((s, r) => s + (r.transferSize || 0), 0),
		blockingScripts: document.querySelectorAll('head script[src]:not([async]):not([defer])').length,
	};
}`

const seoScript = `() => {
	const meta = (name) => document.querySelector('meta[name="' + name + '"]');
	return {
		titleLength: document.title.length,
		hasDescription: !!meta('description'),
		hasCanonical: !!document.querySelector('link[rel="canonical"]'),
		h1Count: document.querySelectorAll('h1').length,
		noindex: !!(meta('robots') && /noindex/i.test(meta('robots').content)),
	};
}`

// Auditor runs audits against one session's page.
type Auditor struct {
	session *browser.Session
	logger  *zap.Logger
}

// NewAuditor binds an auditor to a session.
func NewAuditor(s *browser.Session, logger *zap.Logger) *Auditor {
	return &Auditor{session: s, logger: logger.Named("auditor")}
}

// Run executes the named audit on the current page.
func (a *Auditor) Run(ctx context.Context, kind Kind) (*Report, error) {
	switch kind {
	case Accessibility:
		return a.accessibility()
	case Performance:
		return a.performance()
	case SEO:
		return a.seo()
	default:
		return nil, fmt.Errorf("unknown audit kind %q", kind)
	}
}

func (a *Auditor) accessibility() (*Report, error) {
	var raw struct {
		ImagesWithoutAlt   int `json:"imagesWithoutAlt"`
		InputsWithoutLabel int `json:"inputsWithoutLabel"`
		ButtonsWithoutText int `json:"buttonsWithoutText"`
		HeadingJumps       int `json:"headingJumps"`
		MissingLang        int `json:"missingLang"`
	}
	if err := a.eval(accessibilityScript, &raw); err != nil {
		return nil, err
	}
	var findings []Finding
	findings = appendCounted(findings, "images without alt text", raw.ImagesWithoutAlt)
	findings = appendCounted(findings, "form controls without a label", raw.InputsWithoutLabel)
	findings = appendCounted(findings, "buttons without an accessible name", raw.ButtonsWithoutText)
	findings = appendCounted(findings, "heading levels skipped", raw.HeadingJumps)
	findings = appendCounted(findings, "document is missing a lang attribute", raw.MissingLang)
	return a.report(Accessibility, findings), nil
}

func (a *Auditor) performance() (*Report, error) {
	var raw struct {
		DomContentLoadedMs int `json:"domContentLoadedMs"`
		LoadMs             int `json:"loadMs"`
		ResourceCount      int `json:"resourceCount"`
		TransferBytes      int `json:"transferBytes"`
		BlockingScripts    int `json:"blockingScripts"`
	}
	if err := a.eval(performanceScript, &raw); err != nil {
		return nil, err
	}
	var findings []Finding
	if raw.DomContentLoadedMs > 3000 {
		findings = append(findings, Finding{
			Message: fmt.Sprintf("slow DOMContentLoaded: %dms", raw.DomContentLoadedMs), Count: 1})
	}
	if raw.ResourceCount > 150 {
		findings = appendCounted(findings, "excessive resource requests", raw.ResourceCount)
	}
	if raw.TransferBytes > 5<<20 {
		findings = append(findings, Finding{
			Message: fmt.Sprintf("heavy page: %d bytes transferred", raw.TransferBytes), Count: 1})
	}
	findings = appendCounted(findings, "render-blocking head scripts", raw.BlockingScripts)
	return a.report(Performance, findings), nil
}

func (a *Auditor) seo() (*Report, error) {
	var raw struct {
		TitleLength    int  `json:"titleLength"`
		HasDescription bool `json:"hasDescription"`
		HasCanonical   bool `json:"hasCanonical"`
		H1Count        int  `json:"h1Count"`
		Noindex        bool `json:"noindex"`
	}
	if err := a.eval(seoScript, &raw); err != nil {
		return nil, err
	}
	var findings []Finding
	if raw.TitleLength == 0 {
		findings = append(findings, Finding{Message: "missing page title", Count: 1})
	} else if raw.TitleLength > 70 {
		findings = append(findings, Finding{Message: "title longer than 70 characters", Count: 1})
	}
	if !raw.HasDescription {
		findings = append(findings, Finding{Message: "missing meta description", Count: 1})
	}
	if !raw.HasCanonical {
		findings = append(findings, Finding{Message: "missing canonical link", Count: 1})
	}
	if raw.H1Count == 0 {
		findings = append(findings, Finding{Message: "no h1 heading", Count: 1})
	} else if raw.H1Count > 1 {
		findings = appendCounted(findings, "multiple h1 headings", raw.H1Count)
	}
	if raw.Noindex {
		findings = append(findings, Finding{Message: "page is marked noindex", Count: 1})
	}
	return a.report(SEO, findings), nil
}

func (a *Auditor) eval(script string, out interface{}) error {
	raw, err := a.session.Page().Evaluate(script)
	if err != nil {
		return fmt.Errorf("audit evaluation failed: %w", err)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (a *Auditor) report(kind Kind, findings []Finding) *Report {
	return &Report{
		Kind:     kind,
		URL:      a.session.Page().URL(),
		Score:    score(findings),
		Findings: findings,
	}
}

// score starts at 100 and subtracts a weighted penalty per finding, floored
// at zero.
func score(findings []Finding) int {
	s := 100
	for _, f := range findings {
		penalty := 5 + f.Count
		if penalty > 25 {
			penalty = 25
		}
		s -= penalty
	}
	if s < 0 {
		return 0
	}
	return s
}

func appendCounted(findings []Finding, msg string, count int) []Finding {
	if count <= 0 {
		return findings
	}
	return append(findings, Finding{Message: msg, Count: count})
}
