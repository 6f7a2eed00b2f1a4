package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"
)

type lifecycleEvent struct {
	FrameID string `json:"frameId"`
	Name    string `json:"name"`
}

type navigateResult struct {
	FrameID   string `json:"frameId"`
	LoaderID  string `json:"loaderId"`
	ErrorText string `json:"errorText,omitempty"`
}

// Navigate loads url and waits up to NavigationTimeout for the load
// lifecycle event. A page that never fires load is not an error; only a
// failed Page.navigate is.
func (c *Client) Navigate(ctx context.Context, url string) error {
	loaded := c.awaitLifecycle("load")
	defer loaded.cancel()

	var res navigateResult
	if err := c.SendInto(ctx, page.CommandNavigate, page.Navigate(url), &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("navigate to %s: %s", url, res.ErrorText)
	}

	if !loaded.wait(ctx, c.opts.NavigationTimeout) {
		c.logger.Debug("Load event not seen before timeout.", zap.String("url", url))
	}
	return nil
}

// WaitForLoad blocks until the next load lifecycle event or timeout and
// reports whether it was seen.
func (c *Client) WaitForLoad(ctx context.Context, timeout time.Duration) bool {
	if resp := c.Send(ctx, page.CommandSetLifecycleEventsEnabled, page.SetLifecycleEventsEnabled(true)); !resp.Success() {
		return false
	}
	loaded := c.awaitLifecycle("load")
	defer loaded.cancel()
	return loaded.wait(ctx, timeout)
}

type lifecycleWaiter struct {
	seen   chan struct{}
	cancel func()
}

func (w lifecycleWaiter) wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.seen:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) awaitLifecycle(name string) lifecycleWaiter {
	seen := make(chan struct{}, 1)
	cancel := c.subscribe(cdproto.EventPageLifecycleEvent, func(params json.RawMessage) {
		var ev lifecycleEvent
		if err := codec.Unmarshal(params, &ev); err != nil || ev.Name != name {
			return
		}
		select {
		case seen <- struct{}{}:
		default:
		}
	})
	return lifecycleWaiter{seen: seen, cancel: cancel}
}

type evaluateResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value,omitempty"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception,omitempty"`
	} `json:"exceptionDetails,omitempty"`
}

// Evaluate runs expr in the page, awaiting a returned promise, and returns
// the JSON value of the result. The value is nil when the script threw,
// the command failed, or the result has no by-value form.
func (c *Client) Evaluate(ctx context.Context, expr string) (any, error) {
	params := runtime.Evaluate(expr).WithReturnByValue(true).WithAwaitPromise(true)

	var res evaluateResult
	if err := c.SendInto(ctx, runtime.CommandEvaluate, params, &res); err != nil {
		return nil, err
	}
	if d := res.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return nil, fmt.Errorf("script threw: %s", msg)
	}
	if len(res.Result.Value) == 0 {
		return nil, nil
	}

	var value any
	if err := codec.Unmarshal(res.Result.Value, &value); err != nil {
		return nil, fmt.Errorf("failed to decode script value: %w", err)
	}
	return value, nil
}

// evaluateBool runs expr and reports whether it returned literal true.
func (c *Client) evaluateBool(ctx context.Context, expr string) (bool, error) {
	v, err := c.Evaluate(ctx, expr)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Screenshot captures the viewport as PNG. When path is not empty the bytes
// are also written there.
func (c *Client) Screenshot(ctx context.Context, path string) ([]byte, error) {
	params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)

	var res struct {
		Data string `json:"data"`
	}
	if err := c.SendInto(ctx, page.CommandCaptureScreenshot, params, &res); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create screenshot dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write screenshot: %w", err)
		}
	}
	return data, nil
}

// commandGetAllCookies is deprecated upstream and gone from cdproto, but
// Chrome still serves it and it covers every cookie in the store.
const commandGetAllCookies = "Network.getAllCookies"

// GetCookies returns every cookie in the browser's store.
func (c *Client) GetCookies(ctx context.Context) ([]Cookie, error) {
	var res struct {
		Cookies []Cookie `json:"cookies"`
	}
	if err := c.SendInto(ctx, commandGetAllCookies, nil, &res); err != nil {
		return nil, err
	}
	return res.Cookies, nil
}

// SetCookie stores one cookie for domain.
func (c *Client) SetCookie(ctx context.Context, name, value, domain string, extra CookieParams) error {
	params := network.SetCookie(name, value).WithDomain(domain)
	if extra.Path != "" {
		params = params.WithPath(extra.Path)
	}
	if extra.URL != "" {
		params = params.WithURL(extra.URL)
	}
	if extra.Secure {
		params = params.WithSecure(true)
	}
	if extra.HTTPOnly {
		params = params.WithHTTPOnly(true)
	}

	var res struct {
		Success *bool `json:"success,omitempty"`
	}
	if err := c.SendInto(ctx, network.CommandSetCookie, params, &res); err != nil {
		return err
	}
	if res.Success != nil && !*res.Success {
		return fmt.Errorf("browser rejected cookie %q for %s", name, domain)
	}
	return nil
}
