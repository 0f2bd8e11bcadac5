package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const recordsTable = "processing_records"

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ProcessingStats aggregates the attempts inside a time window.
type ProcessingStats struct {
	Total             int     `json:"total"`
	Successful        int     `json:"successful"`
	Failed            int     `json:"failed"`
	Skipped           int     `json:"skipped"`
	AvgProcessingTime float64 `json:"avg_processing_time"` // seconds, successful attempts only
	TotalOriginalSize int64   `json:"total_original_size"`
	TotalEnhancedSize int64   `json:"total_enhanced_size"`
}

// SuccessRate is the share of attempts that succeeded, as a percentage.
func (s ProcessingStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total) * 100
}

// ErrorCount is one distinct failure message.
type ErrorCount struct {
	Message    string    `json:"message"`
	Count      int       `json:"count"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// sqlite hands back aggregated datetimes as text
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSuffix(raw, "Z")
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// GetProcessingStats computes counts by status, average duration and byte
// totals for records at or after since.
func GetProcessingStats(ctx context.Context, db Querier, since time.Time) (ProcessingStats, error) {
	queryBuilder := psql.Select(
		"status",
		"COUNT(*)",
		"COALESCE(AVG(processing_time), 0)",
		"COALESCE(SUM(original_size), 0)",
		"COALESCE(SUM(enhanced_size), 0)",
	).
		From(recordsTable).
		Where(sq.GtOrEq{"timestamp": since.UTC()}).
		GroupBy("status")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return ProcessingStats{}, fmt.Errorf("failed to build SQL query for GetProcessingStats: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return ProcessingStats{}, fmt.Errorf("failed to query processing stats: %w", err)
	}
	defer rows.Close()

	var stats ProcessingStats
	for rows.Next() {
		var (
			status            string
			count             int
			avgTime           float64
			origSize, enhSize int64
		)
		if err := rows.Scan(&status, &count, &avgTime, &origSize, &enhSize); err != nil {
			return ProcessingStats{}, fmt.Errorf("failed to scan processing stats row: %w", err)
		}
		stats.Total += count
		stats.TotalOriginalSize += origSize
		stats.TotalEnhancedSize += enhSize
		switch status {
		case StatusSuccess:
			stats.Successful = count
			stats.AvgProcessingTime = avgTime
		case StatusFailed:
			stats.Failed = count
		case StatusSkipped:
			stats.Skipped = count
		}
	}
	if err := rows.Err(); err != nil {
		return ProcessingStats{}, fmt.Errorf("error iterating processing stats rows: %w", err)
	}
	return stats, nil
}

// GetErrorSummary groups failed attempts since the given time by message,
// most frequent first. A limit of 0 returns every group.
func GetErrorSummary(ctx context.Context, db Querier, since time.Time, limit uint64) ([]ErrorCount, error) {
	queryBuilder := psql.Select("error_message", "COUNT(*) AS occurrences", "MAX(timestamp)").
		From(recordsTable).
		Where(sq.Eq{"status": StatusFailed}).
		Where(sq.NotEq{"error_message": nil}).
		Where(sq.GtOrEq{"timestamp": since.UTC()}).
		GroupBy("error_message").
		OrderBy("occurrences DESC", "error_message ASC")
	if limit > 0 {
		queryBuilder = queryBuilder.Limit(limit)
	}

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for GetErrorSummary: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query error summary: %w", err)
	}
	defer rows.Close()

	var summary []ErrorCount
	for rows.Next() {
		var (
			ec       ErrorCount
			lastSeen string
		)
		if err := rows.Scan(&ec.Message, &ec.Count, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan error summary row: %w", err)
		}
		ec.LastSeenAt, err = parseTimestamp(lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last occurrence of %q: %w", ec.Message, err)
		}
		summary = append(summary, ec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating error summary rows: %w", err)
	}
	return summary, nil
}
