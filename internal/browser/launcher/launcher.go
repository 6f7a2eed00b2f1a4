// File: internal/browser/launcher/launcher.go
// Description: Spawns debuggable browser processes, one per profile, and
// tracks them until they are closed.

package launcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/layout"
	"github.com/xkilldash9x/cdpfleet/internal/config"
	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

// PortAllocator hands out debug ports. *ports.Allocator satisfies it.
type PortAllocator interface {
	Next() (int, error)
}

// Options is the launcher-wide configuration shared by every launch.
type Options struct {
	BinaryPath    string
	ExtensionsDir string
	Headless      bool
	ExtraFlags    []string
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
	CloseTimeout  time.Duration
}

// OptionsFromConfig maps the launcher config section onto Options. The
// binary path is taken as configured; New resolves it.
func OptionsFromConfig(cfg config.LauncherConfig) Options {
	return Options{
		BinaryPath:    cfg.BinaryPath,
		ExtensionsDir: cfg.ExtensionsDir,
		Headless:      cfg.Headless,
		ExtraFlags:    cfg.ExtraFlags,
		ReadyInterval: cfg.ReadyInterval,
		ReadyTimeout:  cfg.ReadyTimeout,
		CloseTimeout:  cfg.CloseTimeout,
	}
}

// Request describes one browser to start.
type Request struct {
	ProfileID  string
	ProfileDir string
	// Port is the debug port; 0 allocates one.
	Port           int
	ExtraFlags     []string
	WindowPosition *layout.Point
}

// Instance is a running browser owned by the Launcher.
type Instance struct {
	ProfileID    string
	Port         int
	ProfileDir   string
	WebSocketURL string
	StartedAt    time.Time

	cmd  *exec.Cmd
	done chan struct{}
}

// PID returns the operating system process id.
func (i *Instance) PID() int {
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// Alive reports whether the process has not exited yet.
func (i *Instance) Alive() bool {
	select {
	case <-i.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// DebugURL is the base of the instance's DevTools HTTP surface.
func (i *Instance) DebugURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", i.Port)
}

// Launcher spawns browsers and owns the profile id to Instance table.
type Launcher struct {
	opts   Options
	ports  PortAllocator
	logger *zap.Logger
	client *http.Client

	mu        sync.Mutex
	instances map[string]*Instance
}

// New creates a Launcher. The browser binary is resolved eagerly so a
// misconfigured path fails here rather than on the first launch.
func New(opts Options, alloc PortAllocator, logger *zap.Logger) (*Launcher, error) {
	if alloc == nil {
		return nil, errors.New("port allocator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.ReadyInterval <= 0 || opts.ReadyTimeout <= 0 || opts.CloseTimeout <= 0 {
		return nil, errors.New("launcher intervals and timeouts must be positive")
	}

	binary, err := ResolveBinary(opts.BinaryPath)
	if err != nil {
		return nil, err
	}
	opts.BinaryPath = binary

	return &Launcher{
		opts:   opts,
		ports:  alloc,
		logger: logger.Named("launcher"),
		client: &http.Client{
			Transport: &http.Transport{DisableKeepAlives: true},
		},
		instances: make(map[string]*Instance),
	}, nil
}

// Launch starts a browser for req.ProfileID. If a live instance is already
// tracked for that profile it is returned unchanged and nothing is spawned.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Instance, error) {
	if req.ProfileID == "" {
		return nil, errors.New("profile id cannot be empty")
	}
	if req.ProfileDir == "" {
		return nil, errors.New("profile dir cannot be empty")
	}
	logger := l.logger.With(zap.String("profile", req.ProfileID))

	l.mu.Lock()
	if inst, ok := l.instances[req.ProfileID]; ok {
		if inst.Alive() {
			l.mu.Unlock()
			logger.Info("Browser already running.", zap.Int("port", inst.Port))
			observability.RecordLaunch("reused")
			return inst, nil
		}
		logger.Info("Purging exited browser entry.", zap.Int("pid", inst.PID()))
		delete(l.instances, req.ProfileID)
		observability.SetRunningBrowsers(len(l.instances))
	}
	l.mu.Unlock()

	port := req.Port
	if port == 0 {
		p, err := l.ports.Next()
		if err != nil {
			observability.RecordLaunch("failed")
			return nil, launchErr(req.ProfileID, "allocate port", err)
		}
		port = p
	}

	profileDir, err := filepath.Abs(req.ProfileDir)
	if err != nil {
		observability.RecordLaunch("failed")
		return nil, launchErr(req.ProfileID, "resolve profile dir", err)
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		observability.RecordLaunch("failed")
		return nil, launchErr(req.ProfileID, "create profile dir", err)
	}
	extensions, err := ExtensionPaths(l.opts.ExtensionsDir)
	if err != nil {
		// Extensions are optional; launch without them.
		logger.Warn("Could not scan extensions dir.", zap.Error(err))
	}

	args := BuildArgs(l.opts, req, port, profileDir, extensions)
	cmd := exec.Command(l.opts.BinaryPath, args...)
	setProcessGroup(cmd)

	spawnedAt := time.Now()
	if err := cmd.Start(); err != nil {
		observability.RecordLaunch("failed")
		return nil, launchErr(req.ProfileID, "start process", err)
	}

	inst := &Instance{
		ProfileID:  req.ProfileID,
		Port:       port,
		ProfileDir: profileDir,
		StartedAt:  spawnedAt,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(inst.done)
	}()

	logger.Debug("Browser spawned, waiting for debug endpoint.",
		zap.Int("pid", inst.PID()),
		zap.Int("port", port),
		zap.Strings("args", args),
	)

	info, err := WaitForReady(ctx, l.client, port, l.opts.ReadyInterval, l.opts.ReadyTimeout, inst.done)
	if err != nil {
		l.terminate(inst)
		if errors.Is(err, ErrLaunchTimeout) {
			observability.RecordLaunch("timeout")
		} else {
			observability.RecordLaunch("failed")
		}
		logger.Warn("Browser never became ready; process terminated.", zap.Int("port", port), zap.Error(err))
		return nil, launchErr(req.ProfileID, "wait for debug endpoint", err)
	}
	inst.WebSocketURL = info.WebSocketDebuggerURL
	observability.RecordReadyWait(time.Since(spawnedAt))

	l.mu.Lock()
	l.instances[req.ProfileID] = inst
	observability.SetRunningBrowsers(len(l.instances))
	l.mu.Unlock()

	observability.RecordLaunch("started")
	logger.Info("Browser launched.",
		zap.Int("pid", inst.PID()),
		zap.Int("port", port),
		zap.String("browser", info.Browser),
	)
	return inst, nil
}

// Close terminates the browser for profileID and forgets it. The entry is
// removed even if the process had to be killed. It reports whether an entry
// existed.
func (l *Launcher) Close(profileID string) bool {
	l.mu.Lock()
	inst, ok := l.instances[profileID]
	if ok {
		delete(l.instances, profileID)
		observability.SetRunningBrowsers(len(l.instances))
	}
	l.mu.Unlock()

	if !ok {
		return false
	}
	l.terminate(inst)
	l.logger.Info("Browser closed.", zap.String("profile", profileID), zap.Int("pid", inst.PID()))
	return true
}

// CloseAll closes every tracked browser and returns how many were closed.
func (l *Launcher) CloseAll() int {
	closed := 0
	for _, id := range l.Running() {
		if l.Close(id) {
			closed++
		}
	}
	return closed
}

// IsRunning reports whether profileID has a tracked, live process.
func (l *Launcher) IsRunning(profileID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.instances[profileID]
	return ok && inst.Alive()
}

// Get returns the tracked instance for profileID.
func (l *Launcher) Get(profileID string) (*Instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.instances[profileID]
	return inst, ok
}

// Running lists tracked profile ids in sorted order.
func (l *Launcher) Running() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.instances))
	for id := range l.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// terminate asks the process group to exit, escalating to a kill after
// CloseTimeout, and waits for the process to be reaped.
func (l *Launcher) terminate(inst *Instance) {
	if !inst.Alive() {
		return
	}
	signalGroup(inst.cmd, false)

	select {
	case <-inst.done:
		return
	case <-time.After(l.opts.CloseTimeout):
	}

	l.logger.Warn("Browser ignored termination; killing.",
		zap.String("profile", inst.ProfileID),
		zap.Int("pid", inst.PID()),
	)
	signalGroup(inst.cmd, true)

	select {
	case <-inst.done:
	case <-time.After(l.opts.CloseTimeout):
		l.logger.Error("Browser still not reaped after kill.", zap.Int("pid", inst.PID()))
	}
}
