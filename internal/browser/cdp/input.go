package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"golang.org/x/time/rate"
)

// settleDelay is the pause between focusing click and typing in TypeInto.
const settleDelay = 200 * time.Millisecond

type keyDef struct {
	key  string
	code string
	vk   int64
}

var namedKeys = map[string]keyDef{
	"Enter":      {"Enter", "Enter", 13},
	"Tab":        {"Tab", "Tab", 9},
	"Backspace":  {"Backspace", "Backspace", 8},
	"Escape":     {"Escape", "Escape", 27},
	"ArrowUp":    {"ArrowUp", "ArrowUp", 38},
	"ArrowDown":  {"ArrowDown", "ArrowDown", 40},
	"ArrowLeft":  {"ArrowLeft", "ArrowLeft", 37},
	"ArrowRight": {"ArrowRight", "ArrowRight", 39},
	"Delete":     {"Delete", "Delete", 46},
	"Home":       {"Home", "Home", 36},
	"End":        {"End", "End", 35},
	"PageUp":     {"PageUp", "PageUp", 33},
	"PageDown":   {"PageDown", "PageDown", 34},
	"Space":      {" ", "Space", 32},
}

// KnownKey reports whether PressKey accepts name.
func KnownKey(name string) bool {
	_, ok := namedKeys[name]
	return ok
}

// TypeText sends a keyDown/keyUp pair per character, spaced by delay. A
// negative delay uses the client's TypeDelay.
func (c *Client) TypeText(ctx context.Context, text string, delay time.Duration) error {
	if delay < 0 {
		delay = c.opts.TypeDelay
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for _, ch := range text {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		s := string(ch)
		down := input.DispatchKeyEvent(input.KeyDown).WithText(s)
		if err := c.SendInto(ctx, input.CommandDispatchKeyEvent, down, nil); err != nil {
			return err
		}
		up := input.DispatchKeyEvent(input.KeyUp).WithText(s)
		if err := c.SendInto(ctx, input.CommandDispatchKeyEvent, up, nil); err != nil {
			return err
		}
	}
	return nil
}

// TypeInto clicks selector, lets focus settle, then types text at the
// default cadence.
func (c *Client) TypeInto(ctx context.Context, selector, text string) error {
	if err := c.Click(ctx, selector); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(settleDelay):
	}
	return c.TypeText(ctx, text, c.opts.TypeDelay)
}

// PressKey sends a keyDown/keyUp pair for a named key such as "Enter".
func (c *Client) PressKey(ctx context.Context, name string) error {
	def, ok := namedKeys[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}

	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey(def.key).
		WithCode(def.code).
		WithWindowsVirtualKeyCode(def.vk)
	if err := c.SendInto(ctx, input.CommandDispatchKeyEvent, down, nil); err != nil {
		return err
	}
	up := input.DispatchKeyEvent(input.KeyUp).WithKey(def.key).WithCode(def.code)
	return c.SendInto(ctx, input.CommandDispatchKeyEvent, up, nil)
}
