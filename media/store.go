package media

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	TempFileSuffix       = ".tmp"
	backupTimestampFmt   = "20060102_150405"
	bytesPerGB           = 1024 * 1024 * 1024
	relocatedCollisionFm = "%s_%s%s"
)

// ErrEmptyOutput is returned by WriteAtomically when the producer wrote nothing.
var ErrEmptyOutput = errors.New("write produced empty file")

// Outcome reports whether an optional side effect happened.
type Outcome struct {
	Made   bool
	Path   string // set when Made
	Reason string // set when skipped
}

func Made(path string) Outcome { return Outcome{Made: true, Path: path} }
func Skipped(reason string) Outcome { return Outcome{Reason: reason} }

func (o Outcome) String() string {
	if o.Made {
		return "made: " + o.Path
	}
	return "skipped: " + o.Reason
}

// DiskSpace is a snapshot of the volume holding a path.
type DiskSpace struct {
	Path        string  `json:"path"`
	FreeGB      float64 `json:"free_gb"`
	UsedGB      float64 `json:"used_gb"`
	TotalGB     float64 `json:"total_gb"`
	PercentUsed float64 `json:"percent_used"`
	Warning     bool    `json:"warning"` // free space below the configured floor
}

// StoreOptions gates the optional file side effects.
type StoreOptions struct {
	BackupRoot          string
	CreateBackups       bool
	RelocateOriginals   bool
	OriginalsFolderName string
}

// FileStore implements the crash-safe file mutations a batch performs
type FileStore struct {
	opts   StoreOptions
	logger *slog.Logger
	now    func() time.Time
}

func NewFileStore(opts StoreOptions, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{opts: opts, logger: logger.With("component", "store"), now: time.Now}
}

// WriteAtomically populates target through produce. The data lands in a
// sibling temp file first and is renamed into place only once it is complete
// and non-empty. The temp file never survives a failure.
func WriteAtomically(target string, produce func(io.Writer) error) (err error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", filepath.Base(target), uuid.NewString(), TempFileSuffix))
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", target, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		f.Close()
		if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, fmt.Errorf("failed to remove temp file '%s': %w", tempPath, rmErr))
		}
	}()

	w := bufio.NewWriter(f)
	if err := produce(w); err != nil {
		return fmt.Errorf("failed to write '%s': %w", target, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush '%s': %w", target, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync '%s': %w", target, err)
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat temp file for '%s': %w", target, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("'%s': %w", target, ErrEmptyOutput)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for '%s': %w", target, err)
	}

	if err := os.Rename(tempPath, target); err != nil {
		return fmt.Errorf("failed to rename into '%s': %w", target, err)
	}
	committed = true
	return nil
}

// WriteAtomically is the method form of the package function.
func (fs *FileStore) WriteAtomically(target string, produce func(io.Writer) error) error {
	return WriteAtomically(target, produce)
}

// copyFile copies src to dst atomically, keeping the source modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %w", src, err)
	}

	err = WriteAtomically(dst, func(w io.Writer) error {
		_, copyErr := io.Copy(w, in)
		return copyErr
	})
	if err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// MoveFile renames src onto dst, falling back to copy-then-delete when the two
// live on different filesystems.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", dst, err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("failed to move '%s' to '%s': %w", src, dst, err)
	}
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("cross-device move of '%s' failed: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("copied '%s' but could not remove source: %w", src, err)
	}
	return nil
}

// Backup copies file into <backup root>/<timestamp>/. Disabled or
// unconfigured backups are reported as skipped, not as errors.
func (fs *FileStore) Backup(file string) (Outcome, error) {
	if !fs.opts.CreateBackups {
		return Skipped("backups disabled"), nil
	}
	if fs.opts.BackupRoot == "" {
		return Skipped("no backup root configured"), nil
	}

	dest := filepath.Join(fs.opts.BackupRoot, fs.now().Format(backupTimestampFmt), filepath.Base(file))
	if err := copyFile(file, dest); err != nil {
		return Outcome{}, fmt.Errorf("backup of '%s' failed: %w", file, err)
	}
	fs.logger.Debug("backup created", "source", file, "backup", dest)
	return Made(dest), nil
}

// OriginalsDir is the sibling folder a relocated file ends up in.
func (fs *FileStore) OriginalsDir(file string) string {
	return filepath.Join(filepath.Dir(file), fs.opts.OriginalsFolderName)
}

// RelocationTarget is where RelocateOriginal would put file. An existing file
// of the same name is never overwritten; the new arrival gets a timestamp suffix.
func (fs *FileStore) RelocationTarget(file string) string {
	base := filepath.Base(file)
	dest := filepath.Join(fs.OriginalsDir(file), base)
	if _, err := os.Lstat(dest); err == nil {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		dest = filepath.Join(fs.OriginalsDir(file), fmt.Sprintf(relocatedCollisionFm, stem, fs.now().Format(backupTimestampFmt), ext))
	}
	return dest
}

// RelocateOriginal moves file into its sibling originals folder.
func (fs *FileStore) RelocateOriginal(file string) (Outcome, error) {
	if !fs.opts.RelocateOriginals {
		return Skipped("relocation disabled"), nil
	}
	return fs.ForceRelocate(file)
}

// ForceRelocate relocates regardless of the feature flag. In-place
// replacement needs the original out of the way whatever the flag says.
func (fs *FileStore) ForceRelocate(file string) (Outcome, error) {
	dest := fs.RelocationTarget(file)
	if err := MoveFile(file, dest); err != nil {
		return Outcome{}, err
	}
	fs.logger.Debug("moved to originals", "source", file, "destination", dest)
	return Made(dest), nil
}

// CheckDiskSpace inspects the volume holding path. A path that does not exist
// yet is resolved to its closest existing ancestor.
func CheckDiskSpace(path string, minimumFreeGB float64) (DiskSpace, error) {
	probe := path
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	var st unix.Statfs_t
	if err := unix.Statfs(probe, &st); err != nil {
		return DiskSpace{}, fmt.Errorf("statfs '%s': %w", probe, err)
	}

	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	used := total - st.Bfree*bsize

	ds := DiskSpace{
		Path:    path,
		FreeGB:  round2(float64(free) / bytesPerGB),
		UsedGB:  round2(float64(used) / bytesPerGB),
		TotalGB: round2(float64(total) / bytesPerGB),
	}
	if total > 0 {
		ds.PercentUsed = round2(float64(used) / float64(total) * 100)
	}
	ds.Warning = float64(free)/bytesPerGB < minimumFreeGB
	return ds, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// SweepStaleTemp deletes leftover temp files directly inside tempDir and
// returns how many were removed. Individual failures are logged and skipped.
func (fs *FileStore) SweepStaleTemp(tempDir string) int {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.Warn("could not list temp directory", "dir", tempDir, "error", err)
		}
		return 0
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), TempFileSuffix) {
			continue
		}
		p := filepath.Join(tempDir, e.Name())
		if err := os.Remove(p); err != nil {
			fs.logger.Debug("could not delete temp file", "path", p, "error", err)
			continue
		}
		count++
	}
	if count > 0 {
		fs.logger.Info("cleaned up temporary files", "count", count)
	}
	return count
}

// isAtomicTemp matches the ".<name>.<uuid>.tmp" files WriteAtomically creates.
func isAtomicTemp(name string) bool {
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, TempFileSuffix) {
		return false
	}
	rest := strings.TrimSuffix(name, TempFileSuffix)
	dot := strings.LastIndex(rest, ".")
	if dot <= 0 {
		return false
	}
	_, err := uuid.Parse(rest[dot+1:])
	return err == nil
}

// SweepAbandonedWrites removes WriteAtomically temp files anywhere under
// root. They only outlive a write when the process was killed mid-write.
func (fs *FileStore) SweepAbandonedWrites(root string) int {
	count := 0
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			fs.logger.Debug("skipping unreadable path", "path", p, "error", err)
			return nil
		}
		if d.IsDir() || !isAtomicTemp(d.Name()) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			fs.logger.Debug("could not delete abandoned write", "path", p, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		fs.logger.Warn("could not sweep abandoned writes", "root", root, "error", err)
	}
	if count > 0 {
		fs.logger.Info("removed abandoned partial writes", "root", root, "count", count)
	}
	return count
}
