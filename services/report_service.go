package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/media"
	"github.com/camden-git/photoner/models"
	"github.com/camden-git/photoner/repository"
)

const (
	reportTimestampFmt = "20060102_150405"
	topErrorLimit      = 10
)

// CSVHeader is the column order of exported processing reports.
var CSVHeader = []string{
	"Timestamp",
	"Original Path",
	"Enhanced Path",
	"Status",
	"Processing Time (sec)",
	"Error",
	"Moved to Processed",
	"Processed Folder Path",
}

// Report is the summary shown by the report command and the HTTP surface.
type Report struct {
	Days        int                      `json:"days"`
	Stats       database.ProcessingStats `json:"stats"`
	SuccessRate float64                  `json:"success_rate"`
	TopErrors   []database.ErrorCount    `json:"top_errors"`
}

// ReportService turns the audit trail into summaries and CSV exports.
type ReportService struct {
	repo       repository.AuditRepositoryInterface
	reportsDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewReportService creates a new report service writing exports under reportsDir
func NewReportService(repo repository.AuditRepositoryInterface, reportsDir string, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{repo: repo, reportsDir: reportsDir, logger: logger.With("component", "reports"), now: time.Now}
}

func window(days int) time.Duration {
	if days <= 0 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Summary aggregates the last days of attempts together with the most
// frequent failure messages.
func (s *ReportService) Summary(ctx context.Context, days int) (Report, error) {
	stats, err := s.repo.StatsOver(ctx, window(days))
	if err != nil {
		return Report{}, err
	}
	errs, err := s.repo.ErrorSummary(ctx, window(days), topErrorLimit)
	if err != nil {
		return Report{}, err
	}
	return Report{Days: days, Stats: stats, SuccessRate: stats.SuccessRate(), TopErrors: errs}, nil
}

// ExportCSV writes the last days of attempts to
// <reports>/processing_report_<timestamp>.csv. It returns the path and the
// number of rows written.
func (s *ReportService) ExportCSV(ctx context.Context, days int) (string, int, error) {
	recs, err := s.repo.RecordsInWindow(ctx, window(days))
	if err != nil {
		return "", 0, err
	}
	path := filepath.Join(s.reportsDir, fmt.Sprintf("processing_report_%s.csv", s.now().Format(reportTimestampFmt)))
	err = media.WriteAtomically(path, func(w io.Writer) error {
		return WriteCSV(w, recs)
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to export report: %w", err)
	}
	s.logger.Info("report exported", "path", path, "records", len(recs), "days", days)
	return path, len(recs), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteCSV renders records under CSVHeader.
func WriteCSV(w io.Writer, recs []models.ProcessingRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.InputPath,
			deref(r.OutputPath),
			r.Status,
			strconv.FormatFloat(r.ProcessingTime, 'f', 2, 64),
			deref(r.ErrorMessage),
			strconv.FormatBool(r.MovedToProcessed),
			deref(r.ProcessedFolderPath),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
