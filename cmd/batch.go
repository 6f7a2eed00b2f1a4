// File: cmd/batch.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/cdpfleet/internal/observability"
	"github.com/xkilldash9x/cdpfleet/internal/orchestrator"
)

// profileFile is the YAML layout accepted by --file. A bare list of ids is
// accepted as well.
type profileFile struct {
	Profiles []string `yaml:"profiles"`
}

// loadProfileFile reads profile ids from a YAML file.
func loadProfileFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var ids []string
	switch root := doc.Content[0]; root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&ids)
	case yaml.MappingNode:
		var pf profileFile
		err = root.Decode(&pf)
		ids = pf.Profiles
	default:
		err = errors.New("expected a list of ids or a 'profiles' key")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}
	return ids, nil
}

// collectProfiles merges positional ids with ids from file, dropping blanks
// and duplicates while keeping first-seen order.
func collectProfiles(args []string, file string) ([]string, error) {
	all := append([]string(nil), args...)
	if file != "" {
		fromFile, err := loadProfileFile(file)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}

	seen := make(map[string]bool, len(all))
	ids := make([]string, 0, len(all))
	for _, id := range all {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

type batchFlags struct {
	file string
	keep bool
}

// newBatchCmd creates the `batch` command.
func newBatchCmd(opts *rootOptions) *cobra.Command {
	flags := &batchFlags{}

	batchCmd := &cobra.Command{
		Use:   "batch [profiles...]",
		Short: "Launches many profiles under a concurrency cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := collectProfiles(args, flags.file)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return errors.New("no profiles given; pass ids as arguments or use --file")
			}

			logger := observability.GetLogger()
			comps, err := newComponents(opts.cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			return runBatch(cmd, comps.Orchestrator, ids, opts.cfg.Orchestrator.LaunchDelay, flags.keep)
		},
	}

	batchCmd.Flags().StringVarP(&flags.file, "file", "f", "", "YAML file listing profile ids")
	batchCmd.Flags().BoolVar(&flags.keep, "keep", true, "keep browsers open after the batch until interrupted")
	batchCmd.Flags().Int("max", 5, "maximum concurrent sessions")
	batchCmd.Flags().Duration("delay", time.Second, "pause between launches")
	batchCmd.Flags().String("backend", "cdp", "automation backend: cdp, chromedp, rod or playwright")
	batchCmd.Flags().Bool("attach", false, "attach an automation backend to each browser")
	batchCmd.Flags().Bool("headless", false, "run browsers without a window")
	batchCmd.Flags().Int("base-port", 9222, "first debug port to probe")
	return batchCmd
}

func runBatch(cmd *cobra.Command, orch *orchestrator.Orchestrator, ids []string, delay time.Duration, keep bool) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()
	out := cmd.OutOrStdout()

	var outMu sync.Mutex
	onComplete := func(res orchestrator.SessionResult) {
		outMu.Lock()
		defer outMu.Unlock()
		if res.Error != "" {
			fmt.Fprintf(out, "%-20s %s (%s)\n", res.ProfileID, res.Status, res.Error)
			return
		}
		fmt.Fprintf(out, "%-20s %s\n", res.ProfileID, res.Status)
	}

	if !orch.StartBatch(ids, delay, onComplete) {
		return orchestrator.ErrBatchRunning
	}

	if err := orch.Wait(ctx); err == nil && keep {
		logger.Info("Batch dispatched; press Ctrl+C to close all browsers.", zap.Int("profiles", len(ids)))
		<-ctx.Done()
	}
	if ctx.Err() != nil {
		logger.Info("Interrupted; closing browsers.")
		orch.StopBatch()
	}

	printStatistics(out, orch)
	return nil
}

func printStatistics(w io.Writer, orch *orchestrator.Orchestrator) {
	s := orch.Statistics()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOTAL\tRUNNING\tCOMPLETED\tFAILED\tSTOPPED")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", s.Total, s.Running, s.Completed, s.Failed, s.Stopped)
	_ = tw.Flush()
}
