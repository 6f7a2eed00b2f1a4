package driver

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/browser/cdp"
)

// cdpPage drives a tab with the in-house client.
type cdpPage struct {
	*cdp.Client
}

func openCDP(ctx context.Context, ep Endpoint, opts cdp.Options, logger *zap.Logger) (Page, error) {
	client := cdp.New(ep.Port, opts, logger)
	if err := client.Connect(ctx, ep.TargetID); err != nil {
		return nil, err
	}
	return &cdpPage{Client: client}, nil
}

func (p *cdpPage) Close() error {
	return p.Disconnect()
}
