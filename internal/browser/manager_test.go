package browser_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser"
	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
	"github.com/xkilldash9x/cdpfleet/internal/browser/driver"
	"github.com/xkilldash9x/cdpfleet/internal/browser/launcher"
	"github.com/xkilldash9x/cdpfleet/internal/browser/layout"
	"github.com/xkilldash9x/cdpfleet/internal/config"
)

// -- Mocks --

// fakeLauncher tracks launches in memory; tests flip liveness with kill.
type fakeLauncher struct {
	mock.Mock

	mu    sync.Mutex
	alive map[string]bool
	port  int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: map[string]bool{}, port: 9222}
}

func (f *fakeLauncher) Launch(ctx context.Context, req launcher.Request) (*launcher.Instance, error) {
	args := f.Called(req.ProfileID)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[req.ProfileID] = true
	f.port++
	return &launcher.Instance{
		ProfileID:    req.ProfileID,
		Port:         f.port,
		ProfileDir:   req.ProfileDir,
		WebSocketURL: "ws://127.0.0.1/devtools/browser/" + req.ProfileID,
	}, nil
}

func (f *fakeLauncher) Close(profileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.alive[profileID]
	delete(f.alive, profileID)
	return ok
}

func (f *fakeLauncher) IsRunning(profileID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[profileID]
}

func (f *fakeLauncher) kill(profileID string) {
	f.mu.Lock()
	f.alive[profileID] = false
	f.mu.Unlock()
}

type stubPage struct {
	driver.Page
	closed bool
}

func (p *stubPage) Close() error {
	p.closed = true
	return nil
}

// -- Test Helpers --

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Launcher.ProfilesRoot = t.TempDir()
	return cfg
}

func newManager(t *testing.T, cfg *config.Config, l browser.ProcessLauncher, opts ...browser.ManagerOption) *browser.Manager {
	t.Helper()
	m, err := browser.NewManager(cfg, l, zap.NewNop(), opts...)
	require.NoError(t, err)
	return m
}

// -- Test Cases --

func TestNewManagerRejectsNil(t *testing.T) {
	cfg := testConfig(t)
	_, err := browser.NewManager(nil, newFakeLauncher(), zap.NewNop())
	assert.Error(t, err)
	_, err = browser.NewManager(cfg, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = browser.NewManager(cfg, newFakeLauncher(), nil)
	assert.Error(t, err)
}

func TestManagerLaunch(t *testing.T) {
	cfg := testConfig(t)
	fl := newFakeLauncher()
	fl.On("Launch", mock.Anything).Return(nil)
	m := newManager(t, cfg, fl)
	ctx := context.Background()

	require.NoError(t, m.Launch(ctx, "alice"))
	require.NoError(t, m.Launch(ctx, "bob"))
	require.NoError(t, m.Launch(ctx, "carol"))

	t.Run("windows follow the grid", func(t *testing.T) {
		want := map[string]layout.Point{
			"alice": {X: 0, Y: 0},
			"bob":   {X: 800, Y: 0},
			"carol": {X: 20, Y: 20},
		}
		for id, pos := range want {
			s, ok := m.Session(id)
			require.True(t, ok, id)
			assert.Equal(t, pos, s.Position, id)
			assert.Equal(t, filepath.Join(cfg.Launcher.ProfilesRoot, id), s.Instance.ProfileDir)
		}
	})

	t.Run("relaunching a live profile is a no-op", func(t *testing.T) {
		require.NoError(t, m.Launch(ctx, "alice"))
		fl.AssertNumberOfCalls(t, "Launch", 3)
	})

	t.Run("a dead profile is relaunched", func(t *testing.T) {
		fl.kill("bob")
		assert.Equal(t, 2, m.ActiveCount())
		assert.False(t, m.IsActive("bob"))

		require.NoError(t, m.Launch(ctx, "bob"))
		fl.AssertNumberOfCalls(t, "Launch", 4)
		assert.True(t, m.IsActive("bob"))
		assert.Equal(t, []string{"alice", "bob", "carol"}, m.Active())
	})

	t.Run("close and close all", func(t *testing.T) {
		assert.True(t, m.Close("alice"))
		assert.False(t, m.Close("alice"))
		assert.Equal(t, 2, m.CloseAll())
		assert.Zero(t, m.ActiveCount())
	})
}

func TestManagerLaunchFailure(t *testing.T) {
	fl := newFakeLauncher()
	fl.On("Launch", "broken").Return(launcher.ErrLaunchTimeout)
	m := newManager(t, testConfig(t), fl)

	err := m.Launch(context.Background(), "broken")
	assert.ErrorIs(t, err, launcher.ErrLaunchTimeout)
	_, tracked := m.Session("broken")
	assert.False(t, tracked)
	assert.Error(t, m.Launch(context.Background(), ""))
}

func TestManagerAttach(t *testing.T) {
	cfg := testConfig(t)
	cfg.Protocol.Attach = true
	cfg.Protocol.Backend = config.BackendRod

	t.Run("page is opened on the instance endpoint", func(t *testing.T) {
		fl := newFakeLauncher()
		fl.On("Launch", mock.Anything).Return(nil)

		page := &stubPage{}
		var gotBackend string
		var gotEndpoint driver.Endpoint
		opener := func(_ context.Context, backend string, ep driver.Endpoint, _ cdp.Options, _ *zap.Logger) (driver.Page, error) {
			gotBackend, gotEndpoint = backend, ep
			return page, nil
		}
		m := newManager(t, cfg, fl, browser.WithPageOpener(opener))

		require.NoError(t, m.Launch(context.Background(), "dave"))
		assert.Equal(t, config.BackendRod, gotBackend)
		assert.Equal(t, 9223, gotEndpoint.Port)
		assert.Equal(t, "ws://127.0.0.1/devtools/browser/dave", gotEndpoint.BrowserURL)

		got, ok := m.Page("dave")
		require.True(t, ok)
		assert.Same(t, page, got)

		m.Close("dave")
		assert.True(t, page.closed)
	})

	t.Run("attach failure closes the browser", func(t *testing.T) {
		fl := newFakeLauncher()
		fl.On("Launch", mock.Anything).Return(nil)
		opener := func(context.Context, string, driver.Endpoint, cdp.Options, *zap.Logger) (driver.Page, error) {
			return nil, errors.New("refused")
		}
		m := newManager(t, cfg, fl, browser.WithPageOpener(opener))

		err := m.Launch(context.Background(), "erin")
		assert.ErrorContains(t, err, "refused")
		assert.False(t, fl.IsRunning("erin"))
		assert.Zero(t, m.ActiveCount())
	})
}
