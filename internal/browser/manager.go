// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
	"github.com/xkilldash9x/cdpfleet/internal/browser/driver"
	"github.com/xkilldash9x/cdpfleet/internal/browser/launcher"
	"github.com/xkilldash9x/cdpfleet/internal/browser/layout"
	"github.com/xkilldash9x/cdpfleet/internal/config"
)

// ProcessLauncher is the part of *launcher.Launcher the manager needs.
type ProcessLauncher interface {
	Launch(ctx context.Context, req launcher.Request) (*launcher.Instance, error)
	Close(profileID string) bool
	IsRunning(profileID string) bool
}

// PageOpener attaches an automation backend to a launched browser.
// driver.Open satisfies it.
type PageOpener func(ctx context.Context, backend string, ep driver.Endpoint, opts cdp.Options, logger *zap.Logger) (driver.Page, error)

// Session is one launched profile, optionally with an attached page.
type Session struct {
	ProfileID string
	Instance  *launcher.Instance
	Position  layout.Point
	Page      driver.Page
	StartedAt time.Time
}

// Manager launches browsers per profile, lays their windows out on a grid
// and tracks them until they are closed.
type Manager struct {
	launcher     ProcessLauncher
	openPage     PageOpener
	grid         layout.Grid
	profilesRoot string
	protocol     config.ProtocolConfig
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithPageOpener replaces driver.Open.
func WithPageOpener(open PageOpener) ManagerOption {
	return func(m *Manager) { m.openPage = open }
}

// NewManager creates a browser manager over l.
func NewManager(cfg *config.Config, l ProcessLauncher, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if l == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	m := &Manager{
		launcher:     l,
		openPage:     driver.Open,
		grid:         layout.NewGrid(cfg.Layout),
		profilesRoot: cfg.Launcher.ProfilesRoot,
		protocol:     cfg.Protocol,
		logger:       logger.Named("browser_manager"),
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger.Info("Browser manager created.",
		zap.String("profiles_root", m.profilesRoot),
		zap.String("backend", m.protocol.Backend),
		zap.Bool("attach", m.protocol.Attach),
	)
	return m, nil
}

// ProfileDir is where profileID keeps its browser data.
func (m *Manager) ProfileDir(profileID string) string {
	return filepath.Join(m.profilesRoot, profileID)
}

// Launch starts (or reuses) the browser for profileID. The window is placed
// at the grid slot matching the number of sessions already open.
func (m *Manager) Launch(ctx context.Context, profileID string) error {
	if profileID == "" {
		return errors.New("profile id cannot be empty")
	}

	m.mu.Lock()
	stale, ok := m.sessions[profileID]
	if ok {
		if m.launcher.IsRunning(profileID) {
			m.mu.Unlock()
			return nil
		}
		delete(m.sessions, profileID)
	}
	pos := m.grid.Position(len(m.sessions))
	m.mu.Unlock()

	if stale != nil {
		m.logger.Info("Dropping stale session.", zap.String("profile", profileID))
		m.detach(stale)
	}

	inst, err := m.launcher.Launch(ctx, launcher.Request{
		ProfileID:      profileID,
		ProfileDir:     m.ProfileDir(profileID),
		WindowPosition: &pos,
	})
	if err != nil {
		return err
	}

	session := &Session{ProfileID: profileID, Instance: inst, Position: pos, StartedAt: time.Now()}
	if m.protocol.Attach {
		ep := driver.Endpoint{Port: inst.Port, BrowserURL: inst.WebSocketURL}
		page, err := m.openPage(ctx, m.protocol.Backend, ep, cdp.OptionsFromConfig(m.protocol), m.logger)
		if err != nil {
			m.launcher.Close(profileID)
			return fmt.Errorf("failed to attach to %s: %w", profileID, err)
		}
		session.Page = page
	}

	m.mu.Lock()
	m.sessions[profileID] = session
	m.mu.Unlock()

	m.logger.Info("Session started.",
		zap.String("profile", profileID),
		zap.Int("port", inst.Port),
		zap.Stringer("position", pos),
	)
	return nil
}

// Close detaches and terminates the browser for profileID and reports
// whether the launcher knew it.
func (m *Manager) Close(profileID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[profileID]
	delete(m.sessions, profileID)
	m.mu.Unlock()

	if ok {
		m.detach(s)
	}
	closed := m.launcher.Close(profileID)
	if ok || closed {
		m.logger.Debug("Session removed from manager.", zap.String("profile", profileID))
	}
	return closed
}

// CloseAll closes every session in parallel and returns how many browsers
// were closed.
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	results := make([]bool, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i] = m.Close(id)
			return nil
		})
	}
	_ = g.Wait()

	closed := 0
	for _, ok := range results {
		if ok {
			closed++
		}
	}
	if closed > 0 {
		m.logger.Info("All sessions closed.", zap.Int("count", closed))
	}
	return closed
}

// ActiveCount is the number of sessions whose browser is still running.
func (m *Manager) ActiveCount() int {
	return len(m.Active())
}

// Active lists profile ids with a running browser, sorted.
func (m *Manager) Active() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		if m.launcher.IsRunning(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsActive reports whether profileID has a running browser.
func (m *Manager) IsActive(profileID string) bool {
	m.mu.RLock()
	_, ok := m.sessions[profileID]
	m.mu.RUnlock()
	return ok && m.launcher.IsRunning(profileID)
}

// Session returns the tracked session for profileID.
func (m *Manager) Session(profileID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[profileID]
	return s, ok
}

// Page returns the attached page for profileID, if any.
func (m *Manager) Page(profileID string) (driver.Page, bool) {
	s, ok := m.Session(profileID)
	if !ok || s.Page == nil {
		return nil, false
	}
	return s.Page, true
}

func (m *Manager) detach(s *Session) {
	if s.Page == nil {
		return
	}
	if err := s.Page.Close(); err != nil {
		m.logger.Warn("Error detaching page.", zap.String("profile", s.ProfileID), zap.Error(err))
	}
}
