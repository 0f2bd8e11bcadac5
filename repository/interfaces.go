package repository

import (
	"context"
	"time"

	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/models"
)

// RecordWriter is the write side used by a running batch
type RecordWriter interface {
	Record(ctx context.Context, rec *models.ProcessingRecord) (uint, error)
}

// AuditRepositoryInterface defines the methods for audit store operations
type AuditRepositoryInterface interface {
	RecordWriter
	StatsOver(ctx context.Context, window time.Duration) (database.ProcessingStats, error)
	ErrorSummary(ctx context.Context, window time.Duration, limit uint64) ([]database.ErrorCount, error)
	RecordsInWindow(ctx context.Context, window time.Duration) ([]models.ProcessingRecord, error)
	CleanupCandidates(ctx context.Context) ([]CleanupCandidate, error)
	EligibleCandidates(ctx context.Context, ageCutoff time.Duration) ([]CleanupCandidate, time.Time, error)
	CleanupManifest(ctx context.Context, ageCutoff time.Duration) (CleanupManifest, error)
	RecordCleanup(ctx context.Context, deleted int, freedBytes int64, dirs []string, manifestRef *string) (uint, error)
	CleanupHistory(ctx context.Context, limit int) ([]models.CleanupEvent, error)
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)
