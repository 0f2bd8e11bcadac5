package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/models"
	"github.com/camden-git/photoner/repository"
	"github.com/camden-git/photoner/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*repository.AuditRepository, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "audit.db"), false, utils.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	reports := filepath.Join(dir, "reports")
	return repository.NewAuditRepository(db, reports), reports
}

func add(t *testing.T, repo *repository.AuditRepository, rec models.ProcessingRecord) {
	t.Helper()
	_, err := repo.Record(context.Background(), &rec)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

// relocated creates an original under <dir>/originals and records it as
// processed age ago.
func relocated(t *testing.T, repo *repository.AuditRepository, dir, name string, size int, age time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, "originals", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0644))
	add(t, repo, models.ProcessingRecord{
		Timestamp:           time.Now().Add(-age),
		InputPath:           filepath.Join(dir, name),
		OutputPath:          strPtr(filepath.Join(dir, name)),
		Status:              database.StatusSuccess,
		MovedToProcessed:    true,
		ProcessedFolderPath: &p,
	})
	return p
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	recs := []models.ProcessingRecord{
		{Timestamp: ts, InputPath: "/in/a,b.jpg", Status: database.StatusFailed, ProcessingTime: 0.5, ErrorMessage: strPtr("decode failed")},
		{Timestamp: ts, InputPath: "/in/c.jpg", OutputPath: strPtr("/out/c.jpg"), Status: database.StatusSuccess,
			ProcessingTime: 3, MovedToProcessed: true, ProcessedFolderPath: strPtr("/in/originals/c.jpg")},
	}
	require.NoError(t, WriteCSV(&buf, recs))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"2026-05-01T09:30:00Z", "/in/a,b.jpg", "", "failed", "0.50", "decode failed", "false", ""}, rows[1])
	assert.Equal(t, "true", rows[2][6])
	assert.Equal(t, "/in/originals/c.jpg", rows[2][7])
}

func TestReportSummaryAndExport(t *testing.T) {
	repo, reports := newRepo(t)
	now := time.Now()
	add(t, repo, models.ProcessingRecord{Timestamp: now.Add(-time.Hour), InputPath: "a", Status: database.StatusSuccess, ProcessingTime: 2})
	add(t, repo, models.ProcessingRecord{Timestamp: now.Add(-time.Hour), InputPath: "b", Status: database.StatusFailed, ErrorMessage: strPtr("boom")})
	add(t, repo, models.ProcessingRecord{Timestamp: now.Add(-10 * 24 * time.Hour), InputPath: "old", Status: database.StatusSuccess})

	svc := NewReportService(repo, reports, utils.NopLogger())
	report, err := svc.Summary(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Total)
	assert.InDelta(t, 50.0, report.SuccessRate, 1e-9)
	require.Len(t, report.TopErrors, 1)

	path, n, err := svc.ExportCSV(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, reports, filepath.Dir(path))
	assert.Regexp(t, `^processing_report_\d{8}_\d{6}\.csv$`, filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCleanupDryRunDeletesNothing(t *testing.T) {
	repo, _ := newRepo(t)
	dir := t.TempDir()
	p := relocated(t, repo, dir, "old.jpg", 100, 40*24*time.Hour)

	svc := NewCleanupService(repo, utils.NopLogger())
	m, err := svc.Plan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, m.Candidates, 1)
	assert.FileExists(t, m.Path)

	res, err := svc.Execute(context.Background(), m, true)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, int64(100), res.FreedBytes)
	assert.FileExists(t, p)

	history, err := repo.CleanupHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCleanupDeletesRecordsAndRemovesEmptyDirs(t *testing.T) {
	repo, _ := newRepo(t)
	emptied := t.TempDir()
	shared := t.TempDir()
	a := relocated(t, repo, emptied, "a.jpg", 10, 40*24*time.Hour)
	b := relocated(t, repo, shared, "b.jpg", 20, 40*24*time.Hour)
	fresh := relocated(t, repo, shared, "fresh.jpg", 30, time.Hour)
	vanished := relocated(t, repo, shared, "vanished.jpg", 5, 40*24*time.Hour)

	svc := NewCleanupService(repo, utils.NopLogger())
	m, err := svc.Plan(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, m.Candidates, 3)
	require.NoError(t, os.Remove(vanished))

	res, err := svc.Execute(context.Background(), m, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, int64(30), res.FreedBytes)
	assert.Equal(t, 1, res.Missing)
	assert.NotZero(t, res.EventID)

	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
	assert.FileExists(t, fresh)
	assert.Equal(t, []string{filepath.Dir(a)}, res.RemovedDirs)
	assert.DirExists(t, filepath.Dir(b))

	history, err := repo.CleanupHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].FilesDeleted)
	require.NotNil(t, history[0].ManifestPath)
	assert.Equal(t, m.Path, *history[0].ManifestPath)
}
