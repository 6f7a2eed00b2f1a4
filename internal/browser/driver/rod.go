package driver

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	rodcdp "github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
)

var rodKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Backspace":  input.Backspace,
	"Escape":     input.Escape,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Delete":     input.Delete,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Space":      input.Space,
}

type rodPage struct {
	ws     *rodcdp.WebSocket
	page   *rod.Page
	opts   cdp.Options
	logger *zap.Logger
}

func openRod(ctx context.Context, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error) {
	if ep.BrowserURL == "" {
		return nil, fmt.Errorf("rod needs the browser websocket url")
	}
	// Own the socket so Close can detach without Browser.Close, which would
	// terminate a process the launcher owns.
	ws := &rodcdp.WebSocket{}
	if err := ws.Connect(ctx, ep.BrowserURL, nil); err != nil {
		return nil, err
	}
	browser := rod.New().Client(rodcdp.New().Start(ws))
	if err := browser.Connect(); err != nil {
		_ = ws.Close()
		return nil, err
	}

	page, err := pickRodPage(browser, ep.TargetID)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	return &rodPage{ws: ws, page: page, opts: opts, logger: logger}, nil
}

func pickRodPage(browser *rod.Browser, targetID string) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		if targetID == "" || string(p.TargetID) == targetID {
			return p, nil
		}
	}
	if targetID != "" {
		return nil, fmt.Errorf("%w: id %q", cdp.ErrNoTarget, targetID)
	}
	return browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// bound scopes the page to ctx and CommandTimeout.
func (p *rodPage) bound(ctx context.Context) *rod.Page {
	return p.page.Context(ctx).Timeout(p.opts.CommandTimeout)
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx).Timeout(p.opts.NavigationTimeout)
	if err := page.Navigate(url); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		p.logger.Debug("Load wait ended early.", zap.String("url", url), zap.Error(err))
	}
	return nil
}

func (p *rodPage) Evaluate(ctx context.Context, expr string) (any, error) {
	obj, err := p.bound(ctx).Eval("() => (" + expr + ")")
	if err != nil {
		return nil, err
	}
	return obj.Value.Val(), nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p *rodPage) TypeInto(ctx context.Context, selector, text string) error {
	el, err := p.bound(ctx).Element(selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	return el.Input(text)
}

func (p *rodPage) PressKey(ctx context.Context, name string) error {
	if err := checkKey(name); err != nil {
		return err
	}
	return p.bound(ctx).KeyActions().Type(rodKeys[name]).Do()
}

func (p *rodPage) Screenshot(ctx context.Context, path string) ([]byte, error) {
	buf, err := p.bound(ctx).Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
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

// Close drops the rod connection and leaves the browser running.
func (p *rodPage) Close() error {
	p.logger.Debug("Detaching rod page.")
	return p.ws.Close()
}
