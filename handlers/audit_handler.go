package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/camden-git/photoner/repository"
	"github.com/camden-git/photoner/services"
)

const (
	defaultWindowDays  = 7
	defaultCleanupDays = 30
	defaultErrorLimit  = 10
	defaultHistorySize = 20
)

// AuditHandler answers read-only queries over the audit store. Nothing here
// mutates files or records.
type AuditHandler struct {
	Repo    repository.AuditRepositoryInterface
	Reports *services.ReportService
	Logger  *slog.Logger
}

type cleanupCandidateResponse struct {
	OriginalPath string    `json:"original_path"`
	EnhancedPath string    `json:"enhanced_path,omitempty"`
	Size         int64     `json:"size"`
	ProcessedAt  time.Time `json:"processed_at"`
}

type cleanupCandidatesResponse struct {
	Cutoff     time.Time                  `json:"cutoff"`
	Count      int                        `json:"count"`
	TotalSize  int64                      `json:"total_size"`
	Candidates []cleanupCandidateResponse `json:"candidates"`
}

func (h *AuditHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error("audit query failed", "path", r.URL.Path, "error", err)
	WriteAPIError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "audit store query failed")
}

// GetStats handles GET /api/stats?days=N
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", defaultWindowDays)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "days must be a positive integer")
		return
	}
	report, err := h.Reports.Summary(r.Context(), days)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetErrors handles GET /api/errors?days=N&limit=M
func (h *AuditHandler) GetErrors(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", defaultWindowDays)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "days must be a positive integer")
		return
	}
	limit, ok := intParam(r, "limit", defaultErrorLimit)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "limit must be a positive integer")
		return
	}
	summary, err := h.Repo.ErrorSummary(r.Context(), time.Duration(days)*24*time.Hour, uint64(limit))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetRecordsCSV handles GET /api/records.csv?days=N and streams the same
// columns the report command exports.
func (h *AuditHandler) GetRecordsCSV(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", defaultWindowDays)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "days must be a positive integer")
		return
	}
	recs, err := h.Repo.RecordsInWindow(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"processing_last_%dd.csv\"", days))
	if err := services.WriteCSV(w, recs); err != nil {
		h.Logger.Warn("csv stream interrupted", "error", err)
	}
}

// GetCleanupCandidates handles GET /api/cleanup/candidates?older_than_days=N.
// It lists what a cleanup run would consider without writing a manifest.
func (h *AuditHandler) GetCleanupCandidates(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "older_than_days", defaultCleanupDays)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "older_than_days must be a positive integer")
		return
	}
	eligible, cutoff, err := h.Repo.EligibleCandidates(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	resp := cleanupCandidatesResponse{Cutoff: cutoff, Count: len(eligible), Candidates: make([]cleanupCandidateResponse, 0, len(eligible))}
	for _, c := range eligible {
		item := cleanupCandidateResponse{OriginalPath: c.OriginalPath, Size: c.Size, ProcessedAt: c.Record.Timestamp}
		if c.Record.OutputPath != nil {
			item.EnhancedPath = *c.Record.OutputPath
		}
		resp.TotalSize += c.Size
		resp.Candidates = append(resp.Candidates, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCleanupHistory handles GET /api/cleanup/history?limit=N
func (h *AuditHandler) GetCleanupHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultHistorySize)
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "limit must be a positive integer")
		return
	}
	history, err := h.Repo.CleanupHistory(r.Context(), limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
