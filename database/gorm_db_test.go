package database

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRoutesGormLogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	db, err := Open(filepath.Join(t.TempDir(), "nested", "audit.db"), false, log)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	assert.Error(t, db.Exec("SELECT * FROM no_such_table").Error)

	out := buf.String()
	assert.Contains(t, out, "component=gorm")
	assert.Contains(t, out, "no_such_table")
	assert.Contains(t, out, "level=WARN")
}

func TestSlogWriterTrimsGormPrefix(t *testing.T) {
	var buf bytes.Buffer
	w := newSlogWriter(slog.New(slog.NewTextHandler(&buf, nil)), slog.LevelInfo)
	w.Printf("\n%s [%.3fms] %s", "file.go:12", 1.5, "SELECT 1")
	assert.Contains(t, buf.String(), `msg="file.go:12 [1.500ms] SELECT 1"`)
	assert.Contains(t, buf.String(), "component=gorm")
}
