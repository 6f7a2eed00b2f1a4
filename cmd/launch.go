// File: cmd/launch.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/observability"
)

type launchFlags struct {
	url        string
	screenshot string
	eval       string
	keep       bool
}

// newLaunchCmd creates the `launch` command.
func newLaunchCmd(opts *rootOptions) *cobra.Command {
	flags := &launchFlags{}

	launchCmd := &cobra.Command{
		Use:   "launch <profile>",
		Short: "Launches one browser profile and optionally drives its first page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			// Page actions need a backend attached.
			if flags.url != "" || flags.screenshot != "" || flags.eval != "" {
				cfg.Protocol.Attach = true
			}

			logger := observability.GetLogger()
			comps, err := newComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			return runLaunch(cmd, comps, args[0], flags)
		},
	}

	launchCmd.Flags().StringVar(&flags.url, "url", "", "navigate the first page to this URL")
	launchCmd.Flags().StringVar(&flags.screenshot, "screenshot", "", "write a PNG of the page to this path")
	launchCmd.Flags().StringVar(&flags.eval, "eval", "", "evaluate a JavaScript expression and print the result")
	launchCmd.Flags().BoolVar(&flags.keep, "keep", true, "keep the browser open until interrupted")
	launchCmd.Flags().String("backend", "cdp", "automation backend: cdp, chromedp, rod or playwright")
	launchCmd.Flags().Bool("headless", false, "run the browser without a window")
	launchCmd.Flags().Int("base-port", 9222, "first debug port to probe")
	return launchCmd
}

func runLaunch(cmd *cobra.Command, comps *components, profileID string, flags *launchFlags) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	out := cmd.OutOrStdout()

	if err := comps.Manager.Launch(ctx, profileID); err != nil {
		return fmt.Errorf("failed to launch %s: %w", profileID, err)
	}
	session, _ := comps.Manager.Session(profileID)
	fmt.Fprintf(out, "%s: pid %d, debug %s\n", profileID, session.Instance.PID(), session.Instance.DebugURL())

	if page, ok := comps.Manager.Page(profileID); ok {
		if flags.url != "" {
			if err := page.Navigate(ctx, flags.url); err != nil {
				return fmt.Errorf("navigation failed: %w", err)
			}
		}
		if flags.eval != "" {
			v, err := page.Evaluate(ctx, flags.eval)
			if err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}
			fmt.Fprintf(out, "%v\n", v)
		}
		if flags.screenshot != "" {
			data, err := page.Screenshot(ctx, flags.screenshot)
			if err != nil {
				return fmt.Errorf("screenshot failed: %w", err)
			}
			logger.Info("Screenshot saved.", zap.String("path", flags.screenshot), zap.Int("bytes", len(data)))
		}
	}

	if !flags.keep {
		return nil
	}

	logger.Info("Browser running; press Ctrl+C to close.", zap.String("profile", profileID))
	select {
	case <-ctx.Done():
		return nil
	case <-session.Instance.Done():
		logger.Info("Browser exited.", zap.String("profile", profileID))
		return nil
	}
}

