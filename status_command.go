package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/camden-git/photoner/media"
	"github.com/spf13/cobra"
)

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, disk space and the last day of activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

			fmt.Fprintln(tw, "Configuration")
			fmt.Fprintf(tw, "  Profile\t%s\n", cfg.ProfileName)
			fmt.Fprintf(tw, "  Incoming\t%s\n", cfg.Paths.Incoming)
			fmt.Fprintf(tw, "  Archive\t%s\n", cfg.Paths.Archive)
			if cfg.Processing.ReplaceWithEnhanced {
				fmt.Fprintf(tw, "  Output\treplace in place (originals kept in %q)\n", cfg.Processing.OriginalsFolderName)
			} else {
				fmt.Fprintf(tw, "  Output\t%s\n", cfg.Paths.Enhanced)
			}
			fmt.Fprintf(tw, "  Database\t%s\n", cfg.Paths.Database)
			fmt.Fprintf(tw, "  Workers\t%d\n", cfg.Processing.Workers)
			fmt.Fprintf(tw, "  Max batch size\t%d\n", cfg.Processing.MaxBatchSize)
			fmt.Fprintf(tw, "  Recursive scan\t%s\n", yesNo(cfg.Processing.Recursive))
			fmt.Fprintf(tw, "  Backups\t%s\n", yesNo(cfg.Processing.CreateBackups && cfg.Paths.Backup != ""))
			fmt.Fprintf(tw, "  Move originals\t%s\n", yesNo(cfg.Processing.MoveProcessedOriginals))
			fmt.Fprintf(tw, "  RAW files\t%s\n", yesNo(cfg.FileTypes.Raw.Enabled))

			fmt.Fprintln(tw, "Disk")
			for _, p := range []string{cfg.Paths.Incoming, cfg.Paths.Archive, cfg.Paths.Enhanced, cfg.Paths.Temp} {
				if p == "" {
					continue
				}
				if _, err := os.Stat(p); err != nil {
					fmt.Fprintf(tw, "  %s\tnot found\n", p)
					continue
				}
				space, err := media.CheckDiskSpace(p, cfg.Advanced.MinFreeSpaceGB)
				if err != nil {
					logger.Warn("disk check failed", "path", p, "error", err)
					continue
				}
				warn := ""
				if space.Warning {
					warn = "  LOW"
				}
				fmt.Fprintf(tw, "  %s\t%.2f GB free of %.2f GB (%.1f%% used)%s\n", p, space.FreeGB, space.TotalGB, space.PercentUsed, warn)
			}

			repo, closeDB, err := ctx.openAudit()
			if err != nil {
				tw.Flush()
				return err
			}
			defer closeDB()
			stats, err := repo.StatsOver(cmd.Context(), 24*time.Hour)
			if err != nil {
				tw.Flush()
				return err
			}
			fmt.Fprintln(tw, "Last 24 hours")
			fmt.Fprintf(tw, "  Processed\t%d\n", stats.Total)
			fmt.Fprintf(tw, "  Successful\t%d (%.1f%%)\n", stats.Successful, stats.SuccessRate())
			fmt.Fprintf(tw, "  Failed\t%d\n", stats.Failed)
			fmt.Fprintf(tw, "  Skipped\t%d\n", stats.Skipped)
			return tw.Flush()
		},
	}
}
