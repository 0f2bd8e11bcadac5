package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/camden-git/photoner/repository"
	"github.com/camden-git/photoner/services"
	"github.com/spf13/cobra"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var (
		olderThanDays int
		dryRun        bool
		assumeYes     bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete relocated originals whose enhanced versions are old enough",
		Long: "Writes a manifest of relocated originals processed at least --older-than-days ago, " +
			"then deletes them after confirmation. Use --dry-run to review without deleting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays <= 0 {
				return fmt.Errorf("older-than-days must be positive")
			}
			_, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			repo, closeDB, err := ctx.openAudit()
			if err != nil {
				return err
			}
			defer closeDB()

			svc := services.NewCleanupService(repo, logger)
			manifest, err := svc.Plan(cmd.Context(), time.Duration(olderThanDays)*24*time.Hour)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Manifest: %s\n", manifest.Path)
			fmt.Fprintf(w, "Eligible: %d file(s), %s, processed on or before %s\n",
				len(manifest.Candidates), megabytes(manifest.TotalSize), manifest.Cutoff.Local().Format("2006-01-02"))
			if len(manifest.Candidates) == 0 {
				return nil
			}

			if !dryRun && !assumeYes && !confirm(cmd.InOrStdin(), w, manifest) {
				fmt.Fprintln(w, "Cleanup cancelled")
				return nil
			}

			res, err := svc.Execute(cmd.Context(), manifest, dryRun)
			printCleanup(w, res)
			return err
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 30, "Only originals processed at least this many days ago")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted without deleting")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func confirm(in io.Reader, out io.Writer, m repository.CleanupManifest) bool {
	fmt.Fprintf(out, "Permanently delete %d original(s) (%s)? Type 'yes' to continue: ", len(m.Candidates), megabytes(m.TotalSize))
	answer, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func printCleanup(w io.Writer, res services.CleanupResult) {
	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	fmt.Fprintf(w, "%s %d file(s), %s\n", verb, res.Deleted, megabytes(res.FreedBytes))
	if res.Missing > 0 {
		fmt.Fprintf(w, "Already gone: %d\n", res.Missing)
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "Could not delete: %s\n", f)
	}
	for _, d := range res.RemovedDirs {
		fmt.Fprintf(w, "Removed empty directory: %s\n", d)
	}
}
