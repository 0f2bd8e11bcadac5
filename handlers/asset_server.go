package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ReportFileServer serves exported CSV reports and cleanup manifests from
// reportsDir. It is mounted on a wildcard route; the wildcard is the file name
// relative to reportsDir.
//
//	r.Get("/reports/*", ReportFileServer(reportsDir, logger))
func ReportFileServer(reportsDir string, logger *slog.Logger) http.HandlerFunc {
	baseDir := filepath.Clean(reportsDir)
	logger = logger.With("component", "report_files")

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := chi.URLParam(r, "*")
		if relativePath == "" || strings.Contains(relativePath, "..") {
			WriteAPIError(w, http.StatusBadRequest, codeInvalidParameter, "invalid report path")
			return
		}

		requested := filepath.Clean(filepath.Join(baseDir, relativePath))
		if !strings.HasPrefix(requested, baseDir+string(filepath.Separator)) {
			logger.Warn("report access outside reports directory", "request", r.URL.Path, "resolved", requested)
			WriteAPIError(w, http.StatusForbidden, "forbidden", "path outside reports directory")
			return
		}

		info, err := os.Stat(requested)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			WriteAPIError(w, http.StatusNotFound, codeNotFound, "report not found")
			return
		} else if err != nil {
			logger.Error("failed to stat report", "path", requested, "error", err)
			WriteAPIError(w, http.StatusInternalServerError, "internal", "could not read report")
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, requested)
	}
}
