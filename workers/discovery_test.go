package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Config{
		Paths: config.Paths{
			Incoming: filepath.Join(base, "incoming"),
			Archive:  filepath.Join(base, "archive"),
			Enhanced: filepath.Join(base, "enhanced"),
			Temp:     filepath.Join(base, "temp"),
			Logs:     filepath.Join(base, "logs"),
		},
		FileTypes: config.FileTypes{
			Standard: config.FileTypeGroup{Enabled: true, Extensions: []string{".jpg", ".jpeg", ".tif"}},
			Raw:      config.FileTypeGroup{Enabled: true, Extensions: []string{".nef", ".cr2"}},
		},
		Processing: config.Processing{
			SkipExisting:        true,
			CheckTimestamp:      true,
			OriginalsFolderName: config.DefaultOriginalsFolderName,
			JPEGQuality:         90,
			Recursive:           true,
			Workers:             1,
		},
		ErrorHandling: config.ErrorHandling{MaxConsecutiveFailures: 3},
		ProfileName:   config.DefaultProfile,
	}
	for _, d := range []string{cfg.Paths.Incoming, cfg.Paths.Archive, cfg.Paths.Temp} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	return cfg
}

// touch writes a small file and pins its modification time.
func touch(t *testing.T, path string, size int, mod time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func paths(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Path
	}
	return out
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestDiscoverFiltersExtensionsAndMarkers(t *testing.T) {
	cfg := testConfig(t)
	in := cfg.Paths.Incoming
	touch(t, filepath.Join(in, "a.jpg"), 10, base)
	touch(t, filepath.Join(in, "b.NEF"), 10, base.Add(time.Minute))
	touch(t, filepath.Join(in, "notes.txt"), 10, base)
	touch(t, filepath.Join(in, "originals", "c.jpg"), 10, base)
	touch(t, filepath.Join(in, "2024", "processed", "d.jpg"), 10, base)
	touch(t, filepath.Join(in, "processed_2024", "e.jpg"), 10, base)

	d := NewDiscoverer(cfg, utils.NopLogger())
	got, err := d.Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		filepath.Join(in, "a.jpg"),
		filepath.Join(in, "b.NEF"),
		filepath.Join(in, "processed_2024", "e.jpg"),
	}, paths(got))

	for _, c := range got {
		if filepath.Base(c.Path) == "b.NEF" {
			assert.Equal(t, utils.KindRaw, c.Kind)
		} else {
			assert.Equal(t, utils.KindStandard, c.Kind)
		}
	}
}

func TestDiscoverShallowScan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.Recursive = false
	in := cfg.Paths.Incoming
	touch(t, filepath.Join(in, "top.jpg"), 10, base)
	touch(t, filepath.Join(in, "sub", "deep.jpg"), 10, base)

	got, err := NewDiscoverer(cfg, utils.NopLogger()).Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(in, "top.jpg")}, paths(got))
}

func TestDiscoverOrderingAndCap(t *testing.T) {
	cfg := testConfig(t)
	in := cfg.Paths.Incoming
	touch(t, filepath.Join(in, "old.jpg"), 30, base)
	touch(t, filepath.Join(in, "mid.jpg"), 10, base.Add(time.Hour))
	touch(t, filepath.Join(in, "new.jpg"), 20, base.Add(2*time.Hour))
	d := NewDiscoverer(cfg, utils.NopLogger())
	ctx := context.Background()

	newest, err := d.Discover(ctx, []string{in}, config.PriorityNewestFirst, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(in, "new.jpg"), filepath.Join(in, "mid.jpg")}, paths(newest))

	oldest, err := d.Discover(ctx, []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, "old.jpg"), oldest[0].Path)

	largest, err := d.Discover(ctx, []string{in}, config.PriorityLargestFirst, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(in, "old.jpg")}, paths(largest))
}

func TestSortCandidatesIsStable(t *testing.T) {
	cs := []Candidate{
		{Path: "first", ModTime: base},
		{Path: "second", ModTime: base},
		{Path: "third", ModTime: base.Add(-time.Hour)},
	}
	SortCandidates(cs, config.PriorityOldestFirst)
	assert.Equal(t, []string{"third", "first", "second"}, paths(cs))
}

func TestDiscoverSkipsExistingOutputUnlessStale(t *testing.T) {
	cfg := testConfig(t)
	in := cfg.Paths.Incoming
	src := filepath.Join(in, "trip", "a.jpg")
	touch(t, src, 10, base)

	d := NewDiscoverer(cfg, utils.NopLogger())
	out := d.MirroredOutput(in, src)
	assert.Equal(t, filepath.Join(cfg.Paths.Enhanced, "incoming", "trip", "a_enhanced.jpg"), out)

	// output newer than input: done
	touch(t, out, 10, base.Add(time.Hour))
	got, err := d.Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	// input edited after the output was written: stale
	require.NoError(t, os.Chtimes(src, base.Add(2*time.Hour), base.Add(2*time.Hour)))
	got, err = d.Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, out, got[0].Output)

	// timestamp check off: existence alone is enough
	cfg.Processing.CheckTimestamp = false
	got, err = NewDiscoverer(cfg, utils.NopLogger()).Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDiscoverMissingRootIsNotAnError(t *testing.T) {
	cfg := testConfig(t)
	touch(t, filepath.Join(cfg.Paths.Archive, "a.jpg"), 10, base)
	got, err := NewDiscoverer(cfg, utils.NopLogger()).Discover(context.Background(),
		[]string{filepath.Join(cfg.Paths.Incoming, "missing"), cfg.Paths.Archive}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDiscoverAllGroupsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.FileTypes.Standard.Enabled = false
	cfg.FileTypes.Raw.Enabled = false
	touch(t, filepath.Join(cfg.Paths.Incoming, "a.jpg"), 10, base)
	got, err := NewDiscoverer(cfg, utils.NopLogger()).Discover(context.Background(), []string{cfg.Paths.Incoming}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReplaceModeDoneAndResume(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.ReplaceWithEnhanced = true
	in := cfg.Paths.Incoming

	// replaced already: placement exists and its original sits in originals
	touch(t, filepath.Join(in, "done.jpg"), 10, base)
	touch(t, filepath.Join(in, "originals", "done.jpg"), 10, base)
	// interrupted: original relocated, nothing placed
	touch(t, filepath.Join(in, "originals", "half.nef"), 10, base)
	// fresh work
	touch(t, filepath.Join(in, "fresh.tif"), 10, base)

	d := NewDiscoverer(cfg, utils.NopLogger())
	got, err := d.Discover(context.Background(), []string{in}, config.PriorityOldestFirst, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byName := map[string]Candidate{}
	for _, c := range got {
		byName[filepath.Base(c.Path)] = c
	}

	fresh := byName["fresh.tif"]
	assert.False(t, fresh.Resume)
	assert.Equal(t, filepath.Join(in, "fresh.jpg"), fresh.Placement)
	assert.Equal(t, cfg.Paths.Temp, filepath.Dir(fresh.Output))

	half := byName["half.nef"]
	assert.True(t, half.Resume)
	assert.Equal(t, utils.KindRaw, half.Kind)
	assert.Equal(t, filepath.Join(in, "half.jpg"), half.Placement)
}

func TestStagingOutputSeparatesSameNames(t *testing.T) {
	cfg := testConfig(t)
	d := NewDiscoverer(cfg, utils.NopLogger())
	a := d.StagingOutput("/photos/a/IMG_1.jpg")
	b := d.StagingOutput("/photos/b/IMG_1.jpg")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, d.StagingOutput("/photos/a/IMG_1.jpg"))
	assert.Contains(t, filepath.Base(a), "enhanced_IMG_1_")
}

func TestPlacementFor(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "x.JPG"), PlacementFor("d", "x.JPG"))
	assert.Equal(t, filepath.Join("d", "x.jpg"), PlacementFor("d", "x.cr2"))
	assert.Equal(t, filepath.Join("d", "x.jpg"), PlacementFor("d", "x.tiff"))
}
