package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/camden-git/photoner/services"
	"github.com/spf13/cobra"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var (
		days      int
		exportCSV bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recent processing and optionally export it as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("days must be positive")
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

			svc := services.NewReportService(repo, ctx.reportsDir(), logger)
			report, err := svc.Summary(cmd.Context(), days)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd, report)
			}

			if exportCSV {
				path, n, err := svc.ExportCSV(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Exported %d record(s) to %s\n", n, path)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "Window to report on, in days")
	cmd.Flags().BoolVar(&exportCSV, "csv", false, "Also export the records to a CSV file under the reports directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, r services.Report) {
	w := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Last %d day(s)\n", r.Days)
	fmt.Fprintf(tw, "  Total\t%d\n", r.Stats.Total)
	fmt.Fprintf(tw, "  Successful\t%d (%.1f%%)\n", r.Stats.Successful, r.SuccessRate)
	fmt.Fprintf(tw, "  Failed\t%d\n", r.Stats.Failed)
	fmt.Fprintf(tw, "  Skipped\t%d\n", r.Stats.Skipped)
	fmt.Fprintf(tw, "  Average time\t%.2fs\n", r.Stats.AvgProcessingTime)
	fmt.Fprintf(tw, "  Original size\t%s\n", megabytes(r.Stats.TotalOriginalSize))
	fmt.Fprintf(tw, "  Enhanced size\t%s\n", megabytes(r.Stats.TotalEnhancedSize))
	tw.Flush()

	if len(r.TopErrors) == 0 {
		return
	}
	rows := make([][]string, 0, len(r.TopErrors))
	for _, e := range r.TopErrors {
		rows = append(rows, []string{strconv.Itoa(e.Count), e.Message, e.LastSeenAt.Local().Format("2006-01-02 15:04")})
	}
	fmt.Fprintln(w, "Most frequent errors")
	fmt.Fprintln(w, renderTable([]string{"Count", "Error", "Last seen"}, rows, []columnAlignment{alignRight}))
}
