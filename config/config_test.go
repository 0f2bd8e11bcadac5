package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileMergeOnlyTouchesSetFields(t *testing.T) {
	base := DefaultEnhancementParams()
	merged := base.Merge(BuiltinProfiles()["aggressive"])

	assert.Equal(t, 3.0, merged.CLAHEClipLimit)
	assert.Equal(t, 1.2, merged.SaturationFactor)
	assert.Equal(t, 0.8, merged.SharpenAmount)
	assert.Equal(t, 0.8, merged.BrightnessStrength)
	// untouched
	assert.Equal(t, base.CLAHETileSize, merged.CLAHETileSize)
	assert.Equal(t, base.SharpenRadius, merged.SharpenRadius)
	assert.Equal(t, base.NoiseISOThreshold, merged.NoiseISOThreshold)

	assert.Equal(t, base, base.Merge(BuiltinProfiles()["balanced"]))
}

func TestLoadProfilesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.toml")
	doc := `
[profiles.studio]
clahe_clip_limit = 2.5
saturation_enabled = false
brightness_percentiles = [1.0, 99.0]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	profiles, err := LoadProfilesFile(path)
	require.NoError(t, err)
	require.Contains(t, profiles, "studio")

	p := DefaultEnhancementParams().Merge(profiles["studio"])
	assert.Equal(t, 2.5, p.CLAHEClipLimit)
	assert.False(t, p.SaturationEnabled)
	assert.Equal(t, [2]float64{1, 99}, p.BrightnessPercentiles)
	assert.Equal(t, 1.1, p.SaturationFactor)
}

func TestEnhancementParamsValidate(t *testing.T) {
	p := DefaultEnhancementParams()
	require.NoError(t, p.Validate())

	bad := p
	bad.BrightnessPercentiles = [2]float64{98, 2}
	assert.Error(t, bad.Validate())

	bad = p
	bad.BrightnessStrength = 1.5
	assert.Error(t, bad.Validate())

	bad = p
	bad.CLAHETileSize = 0
	assert.Error(t, bad.Validate())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INCOMING_PATH", filepath.Join(dir, "in"))
	t.Setenv("LOGS_PATH", filepath.Join(dir, "logs"))
	t.Setenv("JPEG_QUALITY", "88")
	t.Setenv("RAW_ENABLED", "false")
	t.Setenv("RETRY_DELAY_SECONDS", "2")
	t.Setenv("ENHANCEMENT_PROFILE", "conservative")
	t.Setenv("ENHANCE_SHARPEN_AMOUNT", "0.1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 88, cfg.Processing.JPEGQuality)
	assert.Equal(t, 2*time.Second, cfg.ErrorHandling.RetryDelay)
	assert.Equal(t, filepath.Join(dir, "logs", "database", "processing_records.db"), cfg.Paths.Database)
	assert.Equal(t, "conservative", cfg.ProfileName)
	assert.Equal(t, 1.5, cfg.Enhancement.CLAHEClipLimit)
	assert.Equal(t, 0.1, cfg.Enhancement.SharpenAmount, "env overrides apply after the profile")

	exts := cfg.SupportedExtensions()
	assert.True(t, exts[".jpg"])
	assert.False(t, exts[".cr2"])
	assert.True(t, cfg.IsRawExtension(".CR2"))
}

func TestLoadConfigRejectsUnknownProfile(t *testing.T) {
	t.Setenv("ENHANCEMENT_PROFILE", "vivid")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "vivid")
}

func TestSourceRootsForTestMode(t *testing.T) {
	dir := t.TempDir()
	incoming := filepath.Join(dir, "incoming")
	require.NoError(t, os.Mkdir(incoming, 0755))

	cfg := Config{Paths: Paths{Incoming: incoming, Archive: filepath.Join(dir, "missing")}}
	roots, err := cfg.SourceRoots(ModeTest, "")
	require.NoError(t, err)
	assert.Equal(t, []string{incoming}, roots)

	assert.Equal(t, PriorityNewestFirst, PriorityFor(ModeIncoming))
	assert.Equal(t, PriorityOldestFirst, PriorityFor(ModeArchive))
}
