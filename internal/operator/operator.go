// internal/operator/operator.go

// Package operator wires sessions, the oracle, and the agent loop into the
// four job operations.
package operator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/agent"
	"github.com/halcyondata/browser-operator/internal/browser"
	"github.com/halcyondata/browser-operator/internal/config"
	"github.com/halcyondata/browser-operator/internal/oracle"
)

// Operator implements jobs.Runner against real browser sessions.
type Operator struct {
	sessions *browser.Manager
	oracle   oracle.Oracle
	cfg      *config.Config
	logger   *zap.Logger
}

// New assembles the production runner.
func New(sessions *browser.Manager, o oracle.Oracle, cfg *config.Config, logger *zap.Logger) *Operator {
	return &Operator{
		sessions: sessions,
		oracle:   o,
		cfg:      cfg,
		logger:   logger.Named("operator"),
	}
}

// CreateSession launches the project's browser, or reports the live one. The
// second create for a project is a cheap no-op.
func (o *Operator) CreateSession(ctx context.Context, projectID string) (*schemas.OperationResult, error) {
	if _, ok := o.sessions.Get(projectID); ok {
		return &schemas.OperationResult{Text: fmt.Sprintf("session for %q is already active", projectID)}, nil
	}
	s, err := o.sessions.Acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("session for %q is ready", projectID)
	if s.Restored() {
		text += " (state restored)"
	}
	return &schemas.OperationResult{Text: text}, nil
}

// Navigate loads a URL on the project's live session.
func (o *Operator) Navigate(ctx context.Context, projectID, url string) (*schemas.OperationResult, error) {
	s, err := o.require(projectID)
	if err != nil {
		return nil, err
	}
	builder := browser.NewContextBuilder(s, o.cfg.Browser, o.logger)
	translator := browser.NewTranslator(s, builder, o.cfg.Browser, o.logger)

	outcome, err := translator.Navigate(ctx, url)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable, "navigation broke the session", err)
	}
	if !outcome.Success {
		return nil, schemas.NewOperationError(outcome.Code, outcome.Detail, nil)
	}

	res := &schemas.OperationResult{Text: outcome.Detail}
	if outcome.Context != nil {
		res.Screenshot = outcome.Context.Screenshot
		res.FinalURL = outcome.Context.URL
	}
	return res, nil
}

// Operate runs the agent loop for one instruction on the project's session.
func (o *Operator) Operate(ctx context.Context, projectID, instruction string) (*schemas.OperationResult, error) {
	s, err := o.require(projectID)
	if err != nil {
		return nil, err
	}
	builder := browser.NewContextBuilder(s, o.cfg.Browser, o.logger)
	translator := browser.NewTranslator(s, builder, o.cfg.Browser, o.logger)
	loop := agent.New(o.oracle, builder, translator, o.cfg.Agent, o.logger)

	res, err := loop.Run(ctx, instruction)
	if err != nil {
		return nil, err
	}
	return &schemas.OperationResult{
		Text:       res.Text,
		Screenshot: res.Screenshot,
		Steps:      res.Steps,
		FinalURL:   res.FinalURL,
	}, nil
}

// CloseSession releases the project's session. Unknown projects succeed as a
// no-op so close is safe to call unconditionally.
func (o *Operator) CloseSession(ctx context.Context, projectID string) (*schemas.OperationResult, error) {
	if _, ok := o.sessions.Get(projectID); !ok {
		return &schemas.OperationResult{Text: fmt.Sprintf("no active session for %q", projectID)}, nil
	}
	if err := o.sessions.Release(ctx, projectID); err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			fmt.Sprintf("failed to close session for %q", projectID), err)
	}
	return &schemas.OperationResult{Text: fmt.Sprintf("session for %q closed", projectID)}, nil
}

// Screenshot captures the project's current page without acting on it.
func (o *Operator) Screenshot(ctx context.Context, projectID string) (*schemas.PageContext, error) {
	s, err := o.require(projectID)
	if err != nil {
		return nil, err
	}
	return browser.NewContextBuilder(s, o.cfg.Browser, o.logger).Capture(ctx)
}

// Session exposes the live session for read-only helpers such as audits.
func (o *Operator) Session(projectID string) (*browser.Session, error) {
	return o.require(projectID)
}

func (o *Operator) require(projectID string) (*browser.Session, error) {
	s, ok := o.sessions.Get(projectID)
	if !ok {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			fmt.Sprintf("no session for project %q; create one first", projectID), nil)
	}
	return s, nil
}
