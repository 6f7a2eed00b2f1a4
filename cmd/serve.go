// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cdpfleet/internal/api"
	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

// newServeCmd creates the `serve` command, which exposes the orchestrator
// over HTTP until interrupted.
func newServeCmd(opts *rootOptions) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP control API for batches and sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			comps, err := newComponents(opts.cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			srv, err := api.NewServer(opts.cfg.API, comps.Orchestrator, comps.Manager, logger)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}

	serveCmd.Flags().String("listen", "127.0.0.1:8765", "address for the control API")
	serveCmd.Flags().Int("max", 5, "maximum concurrent sessions")
	serveCmd.Flags().String("backend", "cdp", "automation backend: cdp, chromedp, rod or playwright")
	serveCmd.Flags().Bool("attach", false, "attach an automation backend to each browser")
	serveCmd.Flags().Bool("headless", false, "run browsers without a window")
	serveCmd.Flags().Int("base-port", 9222, "first debug port to probe")
	return serveCmd
}
