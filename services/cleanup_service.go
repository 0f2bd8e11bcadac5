package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/camden-git/photoner/repository"
	"github.com/facette/natsort"
)

// CleanupResult describes what a cleanup run did, or would do on a dry run.
type CleanupResult struct {
	DryRun      bool     `json:"dry_run"`
	Deleted     int      `json:"deleted"`
	FreedBytes  int64    `json:"freed_bytes"`
	Missing     int      `json:"missing"` // gone since the manifest was written
	Failed      []string `json:"failed,omitempty"`
	Directories []string `json:"directories"`
	RemovedDirs []string `json:"removed_dirs,omitempty"`
	EventID     uint     `json:"event_id,omitempty"`
}

// CleanupService deletes relocated originals whose enhanced replacement has
// been in place long enough.
type CleanupService struct {
	repo   repository.AuditRepositoryInterface
	logger *slog.Logger
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(repo repository.AuditRepositoryInterface, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{repo: repo, logger: logger.With("component", "cleanup")}
}

// Plan writes the manifest of originals processed at least ageCutoff ago.
// Nothing is deleted.
func (s *CleanupService) Plan(ctx context.Context, ageCutoff time.Duration) (repository.CleanupManifest, error) {
	m, err := s.repo.CleanupManifest(ctx, ageCutoff)
	if err != nil {
		return repository.CleanupManifest{}, err
	}
	s.logger.Info("cleanup manifest written", "path", m.Path, "files", len(m.Candidates), "bytes", m.TotalSize)
	return m, nil
}

// Execute deletes the files listed in m. Callers confirm with the user before
// calling it with dryRun false. Originals folders left empty are removed and
// the run is recorded in the cleanup history.
func (s *CleanupService) Execute(ctx context.Context, m repository.CleanupManifest, dryRun bool) (CleanupResult, error) {
	res := CleanupResult{DryRun: dryRun}
	dirs := make(map[string]bool)

	for _, c := range m.Candidates {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("cleanup interrupted", "deleted", res.Deleted, "error", err)
			break
		}
		info, err := os.Lstat(c.OriginalPath)
		if err != nil {
			if os.IsNotExist(err) {
				res.Missing++
				continue
			}
			res.Failed = append(res.Failed, c.OriginalPath)
			continue
		}
		if !info.Mode().IsRegular() {
			s.logger.Warn("not a regular file, leaving it", "path", c.OriginalPath)
			res.Failed = append(res.Failed, c.OriginalPath)
			continue
		}
		dirs[filepath.Dir(c.OriginalPath)] = true

		if dryRun {
			s.logger.Info("would delete", "path", c.OriginalPath, "bytes", info.Size())
			res.Deleted++
			res.FreedBytes += info.Size()
			continue
		}
		if err := os.Remove(c.OriginalPath); err != nil {
			s.logger.Error("failed to delete original", "path", c.OriginalPath, "error", err)
			res.Failed = append(res.Failed, c.OriginalPath)
			continue
		}
		s.logger.Debug("deleted original", "path", c.OriginalPath)
		res.Deleted++
		res.FreedBytes += info.Size()
	}

	for d := range dirs {
		res.Directories = append(res.Directories, d)
	}
	natsort.Sort(res.Directories)

	if dryRun {
		return res, nil
	}

	res.RemovedDirs = removeEmptyDirs(res.Directories, s.logger)
	if res.Deleted == 0 {
		return res, nil
	}

	manifest := m.Path
	id, err := s.repo.RecordCleanup(ctx, res.Deleted, res.FreedBytes, res.Directories, &manifest)
	if err != nil {
		return res, fmt.Errorf("files were deleted but the cleanup could not be recorded: %w", err)
	}
	res.EventID = id
	s.logger.Info("cleanup finished", "deleted", res.Deleted, "freed_mb", fmt.Sprintf("%.2f", float64(res.FreedBytes)/(1024*1024)),
		"failed", len(res.Failed), "missing", res.Missing, "removed_dirs", len(res.RemovedDirs))
	return res, nil
}

func removeEmptyDirs(dirs []string, logger *slog.Logger) []string {
	var removed []string
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err != nil {
			logger.Warn("could not remove empty directory", "dir", d, "error", err)
			continue
		}
		removed = append(removed, d)
	}
	return removed
}
