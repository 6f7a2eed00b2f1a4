// File: cmd/components.go
package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser"
	"github.com/xkilldash9x/cdpfleet/internal/browser/driver"
	"github.com/xkilldash9x/cdpfleet/internal/browser/launcher"
	"github.com/xkilldash9x/cdpfleet/internal/browser/ports"
	"github.com/xkilldash9x/cdpfleet/internal/config"
	"github.com/xkilldash9x/cdpfleet/internal/orchestrator"
)

// components holds the wired control plane for one command run.
type components struct {
	Launcher     *launcher.Launcher
	Manager      *browser.Manager
	Orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

// newComponents builds launcher, session manager and orchestrator from cfg.
func newComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	alloc, err := ports.NewAllocator(cfg.Launcher.BasePort)
	if err != nil {
		return nil, fmt.Errorf("failed to create port allocator: %w", err)
	}

	l, err := launcher.New(launcher.OptionsFromConfig(cfg.Launcher), alloc, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create launcher: %w", err)
	}

	mgr, err := browser.NewManager(cfg, l, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser manager: %w", err)
	}

	orch, err := orchestrator.New(cfg.Orchestrator, mgr, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &components{Launcher: l, Manager: mgr, Orchestrator: orch, logger: logger}, nil
}

// Shutdown stops any batch, closes every browser and stops the shared
// playwright driver if one was started.
func (c *components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence.")

	closed := c.Orchestrator.StopBatch()
	// Sessions launched directly through the manager are not batch-owned.
	closed += c.Manager.CloseAll()
	closed += c.Launcher.CloseAll()

	if err := driver.StopPlaywright(); err != nil {
		c.logger.Warn("Error stopping playwright driver.", zap.Error(err))
	}
	c.logger.Debug("Components shut down.", zap.Int("browsers_closed", closed))
}
