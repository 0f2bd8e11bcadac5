package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/media"
	"github.com/camden-git/photoner/models"
	"github.com/facette/natsort"
	"gorm.io/gorm"
)

const manifestTimestampFmt = "20060102_150405"

// CleanupCandidate is a relocated original that still exists on disk.
type CleanupCandidate struct {
	Record       models.ProcessingRecord
	OriginalPath string // current location of the relocated original
	Size         int64
}

// CleanupManifest is the reviewable list produced before any deletion.
type CleanupManifest struct {
	Path       string
	Cutoff     time.Time
	Candidates []CleanupCandidate
	TotalSize  int64
}

// AuditRepository is the durable log of processing attempts and cleanup runs.
type AuditRepository struct {
	DB         *gorm.DB
	ReportsDir string

	now func() time.Time
}

// NewAuditRepository creates a new instance of AuditRepository. Manifests are
// written under reportsDir.
func NewAuditRepository(db *gorm.DB, reportsDir string) *AuditRepository {
	return &AuditRepository{DB: db, ReportsDir: reportsDir, now: time.Now}
}

// Record inserts one attempt and returns its id. Any error here means the
// audit trail is incomplete.
func (r *AuditRepository) Record(ctx context.Context, rec *models.ProcessingRecord) (uint, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if err := r.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("failed to insert processing record for %s: %w", rec.InputPath, err)
	}
	return rec.ID, nil
}

func (r *AuditRepository) since(window time.Duration) time.Time {
	return r.now().Add(-window).UTC()
}

// StatsOver aggregates the attempts of the last window.
func (r *AuditRepository) StatsOver(ctx context.Context, window time.Duration) (database.ProcessingStats, error) {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return database.ProcessingStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return database.GetProcessingStats(ctx, sqlDB, r.since(window))
}

// ErrorSummary groups failures of the last window by message.
func (r *AuditRepository) ErrorSummary(ctx context.Context, window time.Duration, limit uint64) ([]database.ErrorCount, error) {
	sqlDB, err := r.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return database.GetErrorSummary(ctx, sqlDB, r.since(window), limit)
}

// RecordsInWindow lists the attempts of the last window, oldest first.
func (r *AuditRepository) RecordsInWindow(ctx context.Context, window time.Duration) ([]models.ProcessingRecord, error) {
	var records []models.ProcessingRecord
	err := r.DB.WithContext(ctx).
		Where("timestamp >= ?", r.since(window)).
		Order("timestamp ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list processing records: %w", err)
	}
	return records, nil
}

// CleanupCandidates returns successful, relocated records whose relocated
// original is still on disk right now. Files removed out of band are left out.
func (r *AuditRepository) CleanupCandidates(ctx context.Context) ([]CleanupCandidate, error) {
	var records []models.ProcessingRecord
	err := r.DB.WithContext(ctx).
		Where("status = ? AND moved_to_processed = ? AND processed_folder_path IS NOT NULL", database.StatusSuccess, true).
		Order("timestamp ASC").Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query cleanup candidates: %w", err)
	}

	var candidates []CleanupCandidate
	for _, rec := range records {
		info, err := os.Stat(*rec.ProcessedFolderPath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		candidates = append(candidates, CleanupCandidate{Record: rec, OriginalPath: *rec.ProcessedFolderPath, Size: info.Size()})
	}
	return candidates, nil
}

// EligibleCandidates is CleanupCandidates narrowed to records at least
// ageCutoff old.
func (r *AuditRepository) EligibleCandidates(ctx context.Context, ageCutoff time.Duration) ([]CleanupCandidate, time.Time, error) {
	cutoff := r.now().Add(-ageCutoff)
	all, err := r.CleanupCandidates(ctx)
	if err != nil {
		return nil, cutoff, err
	}
	var eligible []CleanupCandidate
	for _, c := range all {
		if !c.Record.Timestamp.After(cutoff) {
			eligible = append(eligible, c)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return natsort.Compare(eligible[i].OriginalPath, eligible[j].OriginalPath)
	})
	return eligible, cutoff, nil
}

// CleanupManifest writes the eligible candidates to a timestamped text file
// under the reports directory and returns what it wrote.
func (r *AuditRepository) CleanupManifest(ctx context.Context, ageCutoff time.Duration) (CleanupManifest, error) {
	eligible, cutoff, err := r.EligibleCandidates(ctx, ageCutoff)
	if err != nil {
		return CleanupManifest{}, err
	}
	m := CleanupManifest{
		Path:       filepath.Join(r.ReportsDir, fmt.Sprintf("cleanup_manifest_%s.txt", r.now().Format(manifestTimestampFmt))),
		Cutoff:     cutoff,
		Candidates: eligible,
	}
	for _, c := range eligible {
		m.TotalSize += c.Size
	}

	err = media.WriteAtomically(m.Path, func(w io.Writer) error {
		return writeManifest(w, m, r.now())
	})
	if err != nil {
		return CleanupManifest{}, fmt.Errorf("failed to write cleanup manifest: %w", err)
	}
	return m, nil
}

func writeManifest(w io.Writer, m CleanupManifest, generated time.Time) error {
	if _, err := fmt.Fprintf(w, "Cleanup manifest generated %s\n", generated.Format(time.RFC3339)); err != nil {
		return err
	}
	fmt.Fprintf(w, "Originals processed on or before %s\n", m.Cutoff.Format(time.RFC3339))
	fmt.Fprintf(w, "Files: %d\n", len(m.Candidates))
	fmt.Fprintf(w, "Total size: %.2f MB\n\n", float64(m.TotalSize)/(1024*1024))
	for _, c := range m.Candidates {
		enhanced := ""
		if c.Record.OutputPath != nil {
			enhanced = *c.Record.OutputPath
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.OriginalPath, c.Size, c.Record.Timestamp.Format(time.RFC3339), enhanced); err != nil {
			return err
		}
	}
	return nil
}

// RecordCleanup logs a completed cleanup run.
func (r *AuditRepository) RecordCleanup(ctx context.Context, deleted int, freedBytes int64, dirs []string, manifestRef *string) (uint, error) {
	sorted := append([]string(nil), dirs...)
	natsort.Sort(sorted)
	encoded, err := json.Marshal(sorted)
	if err != nil {
		return 0, fmt.Errorf("failed to encode cleaned directories: %w", err)
	}
	event := models.CleanupEvent{
		CleanupDate:  r.now().UTC(),
		FilesDeleted: deleted,
		SpaceFreed:   freedBytes,
		Directories:  string(encoded),
		ManifestPath: manifestRef,
	}
	if err := r.DB.WithContext(ctx).Create(&event).Error; err != nil {
		return 0, fmt.Errorf("failed to record cleanup event: %w", err)
	}
	return event.ID, nil
}

// CleanupHistory lists recorded cleanup runs, newest first.
func (r *AuditRepository) CleanupHistory(ctx context.Context, limit int) ([]models.CleanupEvent, error) {
	var events []models.CleanupEvent
	q := r.DB.WithContext(ctx).Order("cleanup_date DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list cleanup history: %w", err)
	}
	return events, nil
}
