// File: cmd/ports.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/cdpfleet/internal/browser/ports"
)

// newPortsCmd creates the `ports` command, which shows which debug ports
// the next launches would get.
func newPortsCmd(opts *rootOptions) *cobra.Command {
	var count int

	portsCmd := &cobra.Command{
		Use:   "ports",
		Short: "Prints the next free debug ports at or above the base port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			alloc, err := ports.NewAllocator(opts.cfg.Launcher.BasePort)
			if err != nil {
				return err
			}
			for range count {
				port, err := alloc.Next()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), port)
			}
			return nil
		},
	}

	portsCmd.Flags().IntVarP(&count, "count", "n", 1, "how many ports to list")
	portsCmd.Flags().Int("base-port", 9222, "first debug port to probe")
	return portsCmd
}
