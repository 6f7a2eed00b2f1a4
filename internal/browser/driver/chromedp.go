package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
)

var chromedpKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Backspace":  kb.Backspace,
	"Escape":     kb.Escape,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Delete":     kb.Delete,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
	"Space":      " ",
}

// chromedpPage runs chromedp actions against a tab of a remote browser. The
// tab context outlives the ctx given to Open; Close cancels it.
type chromedpPage struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        cdp.Options
	logger      *zap.Logger
}

func openChromedp(ctx context.Context, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error) {
	if ep.BrowserURL == "" {
		return nil, fmt.Errorf("chromedp needs the browser websocket url")
	}
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(context.Background(), ep.BrowserURL)

	var ctxOpts []chromedp.ContextOption
	if ep.TargetID != "" {
		ctxOpts = append(ctxOpts, chromedp.WithTargetID(target.ID(ep.TargetID)))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, ctxOpts...)

	p := &chromedpPage{tabCtx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc, opts: opts, logger: logger}
	// The first Run attaches to the tab and must use the tab context itself;
	// a derived deadline would tear the tab down when it fires.
	if err := chromedp.Run(tabCtx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// run executes actions on the tab, bounded by both ctx and CommandTimeout.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tabCtx, p.opts.CommandTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) Evaluate(ctx context.Context, expr string) (any, error) {
	var out any
	if err := p.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromedpPage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromedpPage) TypeInto(ctx context.Context, selector, text string) error {
	return p.run(ctx,
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (p *chromedpPage) PressKey(ctx context.Context, name string) error {
	if err := checkKey(name); err != nil {
		return err
	}
	return p.run(ctx, chromedp.KeyEvent(chromedpKeys[name]))
}

func (p *chromedpPage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	if path != "" {
		if err := writeFile(path, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Close detaches from the tab without closing the browser, which belongs to
// the launcher.
func (p *chromedpPage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}
