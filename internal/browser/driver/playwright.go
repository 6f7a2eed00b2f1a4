package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
)

const playwrightInstallTimeout = 5 * time.Minute

// pwDriver is the process-wide playwright driver. A failed start is not
// remembered, so a later caller with a live context can try again.
var pwDriver struct {
	mu sync.Mutex
	pw *playwright.Playwright
}

// Overridden in tests.
var (
	startDriver = startPlaywright
	stopDriver  = func(pw *playwright.Playwright) error { return pw.Stop() }
)

// sharedPlaywright starts the playwright driver once per process. Browsers
// are never downloaded; every page attaches to a launcher-owned Chrome.
func sharedPlaywright(ctx context.Context, logger *zap.Logger) (*playwright.Playwright, error) {
	pwDriver.mu.Lock()
	defer pwDriver.mu.Unlock()
	if pwDriver.pw != nil {
		return pwDriver.pw, nil
	}
	pw, err := startDriver(ctx, logger)
	if err != nil {
		return nil, err
	}
	pwDriver.pw = pw
	return pw, nil
}

func startPlaywright(ctx context.Context, logger *zap.Logger) (*playwright.Playwright, error) {
	logger.Info("Starting playwright driver...")
	opts := &playwright.RunOptions{SkipInstallBrowsers: true}

	installErr := make(chan error, 1)
	go func() {
		installErr <- playwright.Install(opts)
	}()

	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()
	select {
	case err := <-installErr:
		if err != nil {
			return nil, fmt.Errorf("failed to install playwright driver: %w", err)
		}
	case <-installCtx.Done():
		return nil, fmt.Errorf("timeout waiting for playwright driver install: %w", installCtx.Err())
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	return pw, nil
}

// StopPlaywright stops the shared driver if it was started. A later
// playwright page starts a fresh one.
func StopPlaywright() error {
	pwDriver.mu.Lock()
	defer pwDriver.mu.Unlock()
	if pwDriver.pw == nil {
		return nil
	}
	pw := pwDriver.pw
	pwDriver.pw = nil
	return stopDriver(pw)
}

type playwrightPage struct {
	browser playwright.Browser
	page    playwright.Page
	opts    cdp.Options
}

func openPlaywright(ctx context.Context, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error) {
	pw, err := sharedPlaywright(ctx, logger)
	if err != nil {
		return nil, err
	}

	// ConnectOverCDP resolves the browser endpoint from the http address.
	browser, err := pw.Chromium.ConnectOverCDP(fmt.Sprintf("http://127.0.0.1:%d", ep.Port))
	if err != nil {
		return nil, err
	}

	var page playwright.Page
	for _, bctx := range browser.Contexts() {
		if pages := bctx.Pages(); len(pages) > 0 {
			page = pages[0]
			break
		}
	}
	if page == nil {
		contexts := browser.Contexts()
		if len(contexts) == 0 {
			_ = browser.Close()
			return nil, fmt.Errorf("%w: no browser context", cdp.ErrNoTarget)
		}
		if page, err = contexts[0].NewPage(); err != nil {
			_ = browser.Close()
			return nil, err
		}
	}
	return &playwrightPage{browser: browser, page: page, opts: opts}, nil
}

func (p *playwrightPage) timeoutMs(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: p.timeoutMs(p.opts.NavigationTimeout)})
	return err
}

func (p *playwrightPage) Evaluate(ctx context.Context, expr string) (any, error) {
	return p.page.Evaluate(expr)
}

func (p *playwrightPage) Click(ctx context.Context, selector string) error {
	return p.page.Locator(selector).Click(playwright.LocatorClickOptions{
		Timeout: p.timeoutMs(p.opts.CommandTimeout),
	})
}

func (p *playwrightPage) TypeInto(ctx context.Context, selector, text string) error {
	loc := p.page.Locator(selector)
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: p.timeoutMs(p.opts.CommandTimeout)}); err != nil {
		return err
	}
	return loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(float64(p.opts.TypeDelay.Milliseconds())),
		Timeout: p.timeoutMs(p.opts.CommandTimeout),
	})
}

func (p *playwrightPage) PressKey(ctx context.Context, name string) error {
	if err := checkKey(name); err != nil {
		return err
	}
	return p.page.Keyboard().Press(name)
}

func (p *playwrightPage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	buf, err := p.page.Screenshot()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := writeFile(path, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Close disconnects playwright from the browser. For a CDP-attached browser
// this drops the connection; the process itself is stopped by the launcher.
func (p *playwrightPage) Close() error {
	return p.browser.Close()
}
