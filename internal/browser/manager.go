// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// Manager owns the Playwright driver and the per-project sessions. Driver
// startup is deferred until the first session is requested; at most one
// session exists per project at a time.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	pw       *playwright.Playwright
	initOnce sync.Once
	initErr  error

	mu       sync.Mutex
	sessions map[string]*Session
	shutdown bool
}

// NewManager creates a session manager. Driver initialization is deferred.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("session_manager"),
		sessions: make(map[string]*Session),
	}
}

// initialize installs and starts the Playwright driver once.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Initializing Playwright driver...")
		if err := m.ensureInstallation(ctx); err != nil {
			m.initErr = err
			return
		}
		pw, err := playwright.Run()
		if err != nil {
			m.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		m.pw = pw
		m.logger.Info("Playwright driver ready.")
	})
	return m.initErr
}

func (m *Manager) ensureInstallation(ctx context.Context) error {
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	// Install blocks, so run it in a goroutine and respect the deadline.
	errCh := make(chan error, 1)
	go func() {
		errCh <- playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to install playwright browsers: %w", err)
		}
		return nil
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for playwright installation: %w", installCtx.Err())
	}
}

// Acquire returns the project's session, launching one if none is live.
// A second Acquire for a live project is a cheap no-op returning the same
// session. Launch failures classify as SESSION_UNAVAILABLE.
func (m *Manager) Acquire(ctx context.Context, projectID string) (*Session, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			"session manager is shut down", nil)
	}
	if s, ok := m.sessions[projectID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	if err := m.initialize(ctx); err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			"browser driver unavailable", err)
	}
	if err := os.MkdirAll(m.cfg.Browser.StateDir, 0o755); err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			"cannot create state directory", err)
	}

	s, err := newSession(m.pw.Chromium, projectID, m.cfg.Browser, m.logger)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			fmt.Sprintf("cannot launch browser for project %q", projectID), err)
	}
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, projectID)
		m.mu.Unlock()
	}

	m.mu.Lock()
	if existing, ok := m.sessions[projectID]; ok {
		// Lost a launch race; keep the first session.
		m.mu.Unlock()
		s.onClose = nil
		s.Close(ctx)
		return existing, nil
	}
	m.sessions[projectID] = s
	m.mu.Unlock()

	m.logger.Info("Session acquired.", zap.String("project_id", projectID),
		zap.Bool("state_restored", s.Restored()))
	return s, nil
}

// Get returns the live session for a project without creating one.
func (m *Manager) Get(projectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	return s, ok
}

// Release closes the project's session, persisting storage state first.
// Releasing a project with no live session is a no-op.
func (m *Manager) Release(ctx context.Context, projectID string) error {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Shutdown releases every live session in parallel, then stops the driver.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	toClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClose = append(toClose, s)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range toClose {
		s := s
		g.Go(func() error { return s.Close(gctx) })
	}
	err := g.Wait()

	if m.pw != nil {
		if stopErr := m.pw.Stop(); stopErr != nil {
			m.logger.Error("Failed to stop Playwright driver.", zap.Error(stopErr))
			if err == nil {
				err = fmt.Errorf("failed to stop playwright driver: %w", stopErr)
			}
		}
	}
	m.logger.Info("Session manager shutdown complete.")
	return err
}
