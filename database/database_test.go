package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProcessingStatsFoldsStatusRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"status", "count", "avg", "orig", "enh"}).
		AddRow(StatusSuccess, 8, 2.5, int64(8000), int64(9000)).
		AddRow(StatusFailed, 2, 0.4, int64(0), int64(0)).
		AddRow(StatusSkipped, 1, 0.0, int64(0), int64(0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM processing_records WHERE timestamp >= ? GROUP BY status")).
		WithArgs(since).
		WillReturnRows(rows)

	stats, err := GetProcessingStats(context.Background(), db, since)
	require.NoError(t, err)
	assert.Equal(t, 11, stats.Total)
	assert.Equal(t, 8, stats.Successful)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2.5, stats.AvgProcessingTime)
	assert.Equal(t, int64(8000), stats.TotalOriginalSize)
	assert.InDelta(t, 72.72, stats.SuccessRate(), 0.01)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProcessingStatsQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT status").WillReturnError(errors.New("disk I/O error"))

	_, err = GetProcessingStats(context.Background(), db, time.Now())
	assert.ErrorContains(t, err, "disk I/O error")
}

func TestGetErrorSummaryOrdersAndParsesTimestamps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"error_message", "occurrences", "max"}).
		AddRow("decode failed", 4, "2026-03-02 10:00:00+00:00").
		AddRow("dimension mismatch", 1, "2026-03-01 09:30:00.5+00:00")
	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY error_message ORDER BY occurrences DESC, error_message ASC LIMIT 10")).
		WillReturnRows(rows)

	summary, err := GetErrorSummary(context.Background(), db, time.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "decode failed", summary[0].Message)
	assert.Equal(t, 4, summary[0].Count)
	assert.Equal(t, 2026, summary[0].LastSeenAt.Year())
	assert.Equal(t, 500*time.Millisecond, time.Duration(summary[1].LastSeenAt.Nanosecond()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetErrorSummaryRejectsGarbageTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT error_message").
		WillReturnRows(sqlmock.NewRows([]string{"m", "c", "t"}).AddRow("x", 1, "yesterday"))

	_, err = GetErrorSummary(context.Background(), db, time.Now(), 0)
	assert.Error(t, err)
}
