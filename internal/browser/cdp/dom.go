package cdp

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	cdptypes "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

// clickWait bounds how long Click waits for its selector to appear.
const clickWait = 5 * time.Second

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, err := codec.Marshal(s)
	if err != nil {
		// Marshalling a string cannot fail.
		panic(err)
	}
	return string(b)
}

func (c *Client) documentRoot(ctx context.Context) (cdptypes.NodeID, error) {
	var res struct {
		Root struct {
			NodeID cdptypes.NodeID `json:"nodeId"`
		} `json:"root"`
	}
	if err := c.SendInto(ctx, dom.CommandGetDocument, dom.GetDocument(), &res); err != nil {
		return 0, err
	}
	return res.Root.NodeID, nil
}

// QuerySelector returns the node id of the first match, or zero when nothing
// matches.
func (c *Client) QuerySelector(ctx context.Context, selector string) (int64, error) {
	root, err := c.documentRoot(ctx)
	if err != nil {
		return 0, err
	}
	var res struct {
		NodeID cdptypes.NodeID `json:"nodeId"`
	}
	if err := c.SendInto(ctx, dom.CommandQuerySelector, dom.QuerySelector(root, selector), &res); err != nil {
		return 0, err
	}
	return res.NodeID.Int64(), nil
}

// QuerySelectorAll returns the node ids of every match.
func (c *Client) QuerySelectorAll(ctx context.Context, selector string) ([]int64, error) {
	root, err := c.documentRoot(ctx)
	if err != nil {
		return nil, err
	}
	var res struct {
		NodeIDs []cdptypes.NodeID `json:"nodeIds"`
	}
	if err := c.SendInto(ctx, dom.CommandQuerySelectorAll, dom.QuerySelectorAll(root, selector), &res); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(res.NodeIDs))
	for _, id := range res.NodeIDs {
		ids = append(ids, id.Int64())
	}
	return ids, nil
}

// WaitForSelector polls QuerySelector every PollInterval until a node
// matches or timeout passes. It returns zero on timeout.
func (c *Client) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (int64, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		id, err := c.QuerySelector(ctx, selector)
		if err == nil && id != 0 {
			return id, nil
		}
		if !c.IsConnected() {
			return 0, ErrNotConnected
		}
		if time.Now().After(deadline) {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

type boxModel struct {
	Model *struct {
		Content []float64 `json:"content"`
	} `json:"model"`
}

// center returns the midpoint of the content quad.
func (b boxModel) center() (x, y float64, ok bool) {
	if b.Model == nil || len(b.Model.Content) < 8 {
		return 0, 0, false
	}
	q := b.Model.Content
	return (q[0] + q[2]) / 2, (q[1] + q[5]) / 2, true
}

// Click waits for selector and clicks the centre of its box with a
// press/release pair. Nodes without a box model are clicked from script
// instead. Exactly one of the two paths runs.
func (c *Client) Click(ctx context.Context, selector string) error {
	nodeID, err := c.WaitForSelector(ctx, selector, clickWait)
	if err != nil {
		return err
	}
	if nodeID == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, selector)
	}

	var box boxModel
	boxErr := c.SendInto(ctx, dom.CommandGetBoxModel, dom.GetBoxModel().WithNodeID(cdptypes.NodeID(nodeID)), &box)
	x, y, ok := box.center()
	if boxErr != nil || !ok {
		cause := boxErr
		if cause == nil {
			cause = ErrNoBoxModel
		}
		c.logger.Debug("No box model, clicking from script.", zap.String("selector", selector), zap.Error(cause))
		_, err := c.Evaluate(ctx, "document.querySelector("+jsString(selector)+").click()")
		return err
	}

	for _, typ := range []input.MouseType{input.MousePressed, input.MouseReleased} {
		ev := input.DispatchMouseEvent(typ, x, y).WithButton(input.Left).WithClickCount(1)
		if err := c.SendInto(ctx, input.CommandDispatchMouseEvent, ev, nil); err != nil {
			return err
		}
	}
	return nil
}

// UploadFile sets the file list of the input matched by selector to path.
func (c *Client) UploadFile(ctx context.Context, selector, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	nodeID, err := c.QuerySelector(ctx, selector)
	if err != nil {
		return err
	}
	if nodeID == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, selector)
	}
	params := dom.SetFileInputFiles([]string{abs}).WithNodeID(cdptypes.NodeID(nodeID))
	return c.SendInto(ctx, dom.CommandSetFileInputFiles, params, nil)
}

// GetText returns the textContent of the first match, or "" when none.
func (c *Client) GetText(ctx context.Context, selector string) (string, error) {
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.textContent : null; })()`, jsString(selector))
	v, err := c.Evaluate(ctx, expr)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// GetAttribute returns the named attribute of the first match and whether
// it was present.
func (c *Client) GetAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? el.getAttribute(%s) : null; })()`,
		jsString(selector), jsString(name))
	v, err := c.Evaluate(ctx, expr)
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Exists reports whether selector matches anything right now.
func (c *Client) Exists(ctx context.Context, selector string) (bool, error) {
	return c.evaluateBool(ctx, fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector)))
}

// Scroll scrolls the window by dx, dy pixels.
func (c *Client) Scroll(ctx context.Context, dx, dy int) error {
	_, err := c.Evaluate(ctx, fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy))
	return err
}

// ScrollToElement smooth-scrolls the first match to the middle of the
// viewport and reports whether a match existed.
func (c *Client) ScrollToElement(ctx context.Context, selector string) (bool, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({behavior: 'smooth', block: 'center'});
		return true;
	})()`, jsString(selector))
	return c.evaluateBool(ctx, expr)
}
