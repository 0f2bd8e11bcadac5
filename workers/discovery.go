package workers

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/utils"
	"github.com/google/uuid"
)

const (
	enhancedSuffix = "_enhanced"
	stagingPrefix  = "enhanced_"
)

// Candidate is a source file snapshot taken at scan time.
type Candidate struct {
	Path      string
	Root      string
	Kind      utils.FileKind
	ModTime   time.Time
	Size      int64
	Output    string // mirrored output, or the staging file in replace mode
	Placement string // replace mode: where the enhanced file ends up

	// Resume is set for an original already moved under the originals folder
	// whose enhanced replacement was never placed.
	Resume bool
}

// Discoverer builds the ordered work list for a batch.
type Discoverer struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewDiscoverer(cfg config.Config, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{cfg: cfg, logger: logger.With("component", "discovery")}
}

// category partitions the mirrored tree by the root a file came from.
func (d *Discoverer) category(root string) string {
	switch root {
	case d.cfg.Paths.Incoming:
		return string(config.ModeIncoming)
	case d.cfg.Paths.Archive:
		return string(config.ModeArchive)
	default:
		return filepath.Base(root)
	}
}

// MirroredOutput is <enhanced>/<category>/<dir relative to root>/<stem>_enhanced.jpg.
func (d *Discoverer) MirroredOutput(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = ""
	}
	name := utils.Stem(path) + enhancedSuffix + config.DefaultOutputExtension
	return filepath.Join(d.cfg.Paths.Enhanced, d.category(root), rel, name)
}

// StagingOutput is the temp file an in-place replacement is built in. The
// short path hash keeps same-named files from different folders apart.
func (d *Discoverer) StagingOutput(path string) string {
	tag := uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()[:8]
	return filepath.Join(d.cfg.Paths.Temp, fmt.Sprintf("%s%s_%s%s", stagingPrefix, utils.Stem(path), tag, config.DefaultOutputExtension))
}

// PlacementFor returns where the enhanced replacement of source goes. JPEG
// names are kept; anything else becomes <stem>.jpg.
func PlacementFor(dir, name string) string {
	if utils.IsJPEG(name) {
		return filepath.Join(dir, name)
	}
	return filepath.Join(dir, utils.Stem(name)+config.DefaultOutputExtension)
}

// ExpectedOutput derives the output location of a source file for the
// configured layout.
func (d *Discoverer) ExpectedOutput(root, path string) string {
	if d.cfg.Processing.ReplaceWithEnhanced {
		return d.StagingOutput(path)
	}
	return d.MirroredOutput(root, path)
}

func (d *Discoverer) kindOf(path string) utils.FileKind {
	if d.cfg.IsRawExtension(filepath.Ext(path)) {
		return utils.KindRaw
	}
	return utils.KindStandard
}

// placedSet maps every placement path under dir to the relocated original
// that produced it. Results are cached per directory for one scan.
type placedSet map[string]map[string]string

func (d *Discoverer) placed(cache placedSet, dir string) map[string]string {
	if m, ok := cache[dir]; ok {
		return m
	}
	m := make(map[string]string)
	originals := filepath.Join(dir, d.cfg.Processing.OriginalsFolderName)
	entries, err := os.ReadDir(originals)
	if err == nil {
		for _, e := range entries {
			if e.Type().IsRegular() {
				m[PlacementFor(dir, e.Name())] = filepath.Join(originals, e.Name())
			}
		}
	}
	cache[dir] = m
	return m
}

// done applies the idempotence rules to a fresh candidate.
func (d *Discoverer) done(c Candidate, cache placedSet) bool {
	if d.cfg.Processing.ReplaceWithEnhanced {
		// the file at this path is an already placed replacement
		_, ok := d.placed(cache, filepath.Dir(c.Path))[c.Path]
		return ok
	}
	if !d.cfg.Processing.SkipExisting {
		return false
	}
	out, err := os.Stat(c.Output)
	if err != nil {
		return false
	}
	if d.cfg.Processing.CheckTimestamp && c.ModTime.After(out.ModTime()) {
		d.logger.Debug("output is stale, reprocessing", "path", c.Path, "output", c.Output)
		return false
	}
	return true
}

// resumeCandidates lists originals under dir's originals folder whose
// placement path is empty.
func (d *Discoverer) resumeCandidates(root, dir string, exts map[string]bool) []Candidate {
	originals := filepath.Join(dir, d.cfg.Processing.OriginalsFolderName)
	entries, err := os.ReadDir(originals)
	if err != nil {
		return nil
	}
	var out []Candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || !exts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		placement := PlacementFor(dir, e.Name())
		if _, err := os.Lstat(placement); err == nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(originals, e.Name())
		d.logger.Warn("found relocated original without replacement, will resume", "original", path, "placement", placement)
		out = append(out, Candidate{
			Path:      path,
			Root:      root,
			Kind:      d.kindOf(path),
			ModTime:   info.ModTime(),
			Size:      info.Size(),
			Output:    d.StagingOutput(path),
			Placement: placement,
			Resume:    true,
		})
	}
	return out
}

func (d *Discoverer) candidate(root, path string, info fs.FileInfo) Candidate {
	c := Candidate{
		Path:    path,
		Root:    root,
		Kind:    d.kindOf(path),
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Output:  d.ExpectedOutput(root, path),
	}
	if d.cfg.Processing.ReplaceWithEnhanced {
		c.Placement = PlacementFor(filepath.Dir(path), filepath.Base(path))
	}
	return c
}

// scanRoot enumerates one root in filesystem order.
func (d *Discoverer) scanRoot(ctx context.Context, root string, exts map[string]bool, cache placedSet) ([]Candidate, error) {
	markers := d.cfg.MarkerSegments()
	replace := d.cfg.Processing.ReplaceWithEnhanced
	var found []Candidate

	consider := func(path string, info fs.FileInfo) {
		if !info.Mode().IsRegular() || !exts[strings.ToLower(filepath.Ext(path))] {
			return
		}
		rel, _ := filepath.Rel(root, path)
		if utils.HasSegment(rel, markers...) {
			return
		}
		c := d.candidate(root, path, info)
		if d.done(c, cache) {
			return
		}
		found = append(found, c)
	}

	if !d.cfg.Processing.Recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				d.logger.Warn("could not stat file", "path", filepath.Join(root, e.Name()), "error", err)
				continue
			}
			consider(filepath.Join(root, e.Name()), info)
		}
		if replace {
			found = append(found, d.resumeCandidates(root, root, exts)...)
		}
		return found, nil
	}

	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			d.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if de != nil && de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if de.IsDir() {
			if path != root {
				for _, m := range markers {
					if de.Name() == m {
						return filepath.SkipDir
					}
				}
			}
			if replace {
				found = append(found, d.resumeCandidates(root, path, exts)...)
			}
			return nil
		}
		info, err := de.Info()
		if err != nil {
			d.logger.Warn("could not stat file", "path", path, "error", err)
			return nil
		}
		consider(path, info)
		return nil
	})
	return found, err
}

// Discover scans roots and returns the ordered, capped work list. A missing
// root is logged and skipped. limit <= 0 means no cap.
func (d *Discoverer) Discover(ctx context.Context, roots []string, priority config.QueuePriority, limit int) ([]Candidate, error) {
	exts := d.cfg.SupportedExtensions()
	if len(exts) == 0 {
		d.logger.Warn("every file type group is disabled, nothing to scan")
		return nil, nil
	}

	cache := make(placedSet)
	var all []Candidate
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			d.logger.Warn("source directory does not exist, skipping", "root", root)
			continue
		}
		found, err := d.scanRoot(ctx, root, exts, cache)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.Warn("failed to scan source directory", "root", root, "error", err)
			continue
		}
		d.logger.Info("scanned source directory", "root", root, "pending", len(found))
		all = append(all, found...)
	}

	SortCandidates(all, priority)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// SortCandidates orders in place. Ties keep enumeration order.
func SortCandidates(cs []Candidate, priority config.QueuePriority) {
	switch priority {
	case config.PriorityNewestFirst:
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].ModTime.After(cs[j].ModTime) })
	case config.PriorityLargestFirst:
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Size > cs[j].Size })
	default:
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].ModTime.Before(cs[j].ModTime) })
	}
}
