package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/media"
	"github.com/camden-git/photoner/workers"
	"github.com/spf13/cobra"
)

func parseMode(s string) (config.Mode, error) {
	switch m := config.Mode(s); m {
	case config.ModeIncoming, config.ModeArchive, config.ModeTest:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want incoming, archive or test)", s)
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		modeFlag  string
		input     string
		batchSize int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enhance one batch of photos",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := parseMode(modeFlag)
			if err != nil {
				return err
			}
			if batchSize < 0 {
				return fmt.Errorf("batch size cannot be negative")
			}
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			roots, err := cfg.SourceRoots(mode, input)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := workers.RunOptions{Mode: mode, Roots: roots, BatchSize: batchSize}
			store := media.NewFileStore(media.StoreOptions{
				BackupRoot:          cfg.Paths.Backup,
				CreateBackups:       cfg.Processing.CreateBackups,
				RelocateOriginals:   cfg.Processing.MoveProcessedOriginals,
				OriginalsFolderName: cfg.Processing.OriginalsFolderName,
			}, logger)

			if dryRun {
				orch := workers.NewOrchestrator(cfg, nil, store, nil, logger)
				plan, err := orch.Plan(runCtx, opts)
				if err != nil {
					return err
				}
				printPlan(cmd.OutOrStdout(), plan, cfg.Processing.ReplaceWithEnhanced)
				return nil
			}

			repo, closeDB, err := ctx.openAudit()
			if err != nil {
				return err
			}
			defer closeDB()

			orch := workers.NewOrchestrator(cfg, media.NewProcessorFromConfig(cfg, logger), store, repo, logger)
			metrics, runErr := orch.Run(runCtx, opts)
			printMetrics(cmd.OutOrStdout(), metrics)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&modeFlag, "mode", "m", string(config.ModeIncoming), "Source selection: incoming, archive or test")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Scan this directory instead of the mode's roots")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "n", 0, "Cap the batch (0 uses MAX_BATCH_SIZE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be processed and exit")
	return cmd
}

func printPlan(w io.Writer, plan []workers.Candidate, replace bool) {
	if len(plan) == 0 {
		fmt.Fprintln(w, "Nothing to process")
		return
	}
	rows := make([][]string, 0, len(plan))
	for i, c := range plan {
		out := c.Output
		if replace {
			out = c.Placement
			if c.Resume {
				out += " (resume)"
			}
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Path, string(c.Kind), megabytes(c.Size), out})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"#", "Source", "Kind", "Size", "Output"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))
	fmt.Fprintf(w, "%d file(s) would be processed\n", len(plan))
}

func printMetrics(w io.Writer, m workers.BatchMetrics) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Session\t%s\n", m.SessionID)
	fmt.Fprintf(tw, "Mode\t%s\n", m.Mode)
	fmt.Fprintf(tw, "Result\t%s\n", m.State)
	fmt.Fprintf(tw, "Queued\t%d\n", m.Queued)
	fmt.Fprintf(tw, "Successful\t%d\n", m.Successful)
	fmt.Fprintf(tw, "Failed\t%d\n", m.Failed)
	fmt.Fprintf(tw, "Skipped\t%d\n", m.Skipped)
	if m.NotAttempted > 0 {
		fmt.Fprintf(tw, "Not attempted\t%d\n", m.NotAttempted)
	}
	fmt.Fprintf(tw, "Error rate\t%.1f%%\n", m.ErrorRate)
	fmt.Fprintf(tw, "Average time\t%.2fs\n", m.AvgProcessingTime)
	fmt.Fprintf(tw, "Throughput\t%.2f images/min\n", m.ImagesPerMinute)
	fmt.Fprintf(tw, "Size\t%s -> %s\n", megabytes(m.OriginalBytes), megabytes(m.EnhancedBytes))
	fmt.Fprintf(tw, "Duration\t%s\n", m.Duration.Round(time.Second))
	tw.Flush()
}
