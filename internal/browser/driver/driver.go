// Package driver puts the raw DevTools client and the third-party automation
// libraries behind one Page interface so a launched browser can be driven by
// whichever backend the configuration names.
package driver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
	"github.com/xkilldash9x/cdpfleet/internal/config"
)

// ErrUnknownBackend is returned by Open for a backend name it does not know.
var ErrUnknownBackend = errors.New("unknown browser backend")

// Page is the automation surface every backend offers for one tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expr string) (any, error)
	Click(ctx context.Context, selector string) error
	TypeInto(ctx context.Context, selector, text string) error
	PressKey(ctx context.Context, name string) error
	Screenshot(ctx context.Context, path string) ([]byte, error)
	Close() error
}

// Endpoint locates the debug surface of a running browser.
type Endpoint struct {
	Port int
	// BrowserURL is the browser-level WebSocket URL from /json/version.
	BrowserURL string
	// TargetID optionally pins the tab to attach to.
	TargetID string
}

type opener func(ctx context.Context, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error)

var backends = map[string]opener{
	config.BackendCDP:        openCDP,
	config.BackendChromedp:   openChromedp,
	config.BackendRod:        openRod,
	config.BackendPlaywright: openPlaywright,
}

// Open attaches the named backend to the browser at ep.
func Open(ctx context.Context, backend string, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error) {
	open, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("driver").With(zap.String("backend", backend), zap.Int("port", ep.Port))

	page, err := open(ctx, ep, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to attach %s backend on port %d: %w", backend, ep.Port, err)
	}
	logger.Debug("Backend attached.")
	return page, nil
}

// checkKey rejects key names outside the shared key table so every backend
// accepts the same set.
func checkKey(name string) error {
	if !cdp.KnownKey(name) {
		return fmt.Errorf("%w: %q", cdp.ErrUnknownKey, name)
	}
	return nil
}
