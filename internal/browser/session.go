// internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/internal/config"
)

// Session is one project's live browser: a dedicated browser instance, one
// context, one page. The context is created from the project's persisted
// storage state when a valid one exists and is flushed back on Close.
type Session struct {
	projectID string
	statePath string
	restored  bool

	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page

	cfg    config.BrowserConfig
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	onClose func()
}

// newSession launches a browser for the project and opens its page. The state
// file is loaded only when it parses as JSON; a corrupt file is logged and
// ignored so the session starts clean.
func newSession(browserType playwright.BrowserType, projectID string, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := &Session{
		projectID: projectID,
		statePath: StatePath(cfg.StateDir, projectID),
		cfg:       cfg,
		logger:    logger.Named("session").With(zap.String("project_id", projectID)),
	}

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-gpu",
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	s.browser = browser

	ctxOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
	}
	if stateFileUsable(s.statePath, s.logger) {
		ctxOpts.StorageStatePath = playwright.String(s.statePath)
		s.restored = true
	}

	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	s.bctx = bctx

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	s.page = page

	s.logger.Info("Session started.", zap.Bool("state_restored", s.restored))
	return s, nil
}

// stateFileUsable reports whether a persisted state file exists and parses.
func stateFileUsable(path string, logger *zap.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var probe map[string]any
	if err := json.Unmarshal(data, &probe); err != nil {
		logger.Warn("Persisted state file is corrupt; starting clean.",
			zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// ProjectID returns the project this session belongs to.
func (s *Session) ProjectID() string { return s.projectID }

// Page returns the session's single page.
func (s *Session) Page() playwright.Page { return s.page }

// Restored reports whether the session started from persisted state.
func (s *Session) Restored() bool { return s.restored }

// Checkpoint writes the current storage state to the project's state file.
// Called after settled navigations and on Close so a crash between operations
// loses at most the most recent page's mutations.
func (s *Session) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, err := s.bctx.StorageState(s.statePath); err != nil {
		return fmt.Errorf("failed to persist storage state: %w", err)
	}
	return nil
}

// Close flushes storage state and tears the browser down. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var closeErr error
	if _, err := s.bctx.StorageState(s.statePath); err != nil {
		s.logger.Warn("Failed to persist storage state on close.", zap.Error(err))
		closeErr = fmt.Errorf("failed to persist storage state: %w", err)
	}
	if err := s.bctx.Close(); err != nil {
		s.logger.Warn("Failed to close browser context.", zap.Error(err))
	}
	if err := s.browser.Close(); err != nil {
		s.logger.Warn("Failed to close browser.", zap.Error(err))
		if closeErr == nil {
			closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if s.onClose != nil {
		s.onClose()
	}
	s.logger.Info("Session closed.")
	return closeErr
}
