package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// EnhancementParams is the fully resolved parameter set a pipeline runs with.
type EnhancementParams struct {
	// local contrast
	CLAHEEnabled   bool
	CLAHEClipLimit float64
	CLAHETileSize  int

	WhiteBalanceEnabled bool

	// brightness remap
	BrightnessEnabled     bool
	BrightnessPercentiles [2]float64
	BrightnessStrength    float64

	SaturationEnabled bool
	SaturationFactor  float64

	// noise suppression, gated on ISO
	NoiseEnabled      bool
	NoiseStrength     float64
	NoiseISOThreshold int

	SharpenEnabled bool
	SharpenRadius  float64
	SharpenAmount  float64
}

// ProfileOverrides patches a subset of EnhancementParams. Nil fields keep the
// value underneath.
type ProfileOverrides struct {
	CLAHEEnabled          *bool       `toml:"clahe_enabled"`
	CLAHEClipLimit        *float64    `toml:"clahe_clip_limit"`
	CLAHETileSize         *int        `toml:"clahe_tile_size"`
	WhiteBalanceEnabled   *bool       `toml:"white_balance_enabled"`
	BrightnessEnabled     *bool       `toml:"brightness_enabled"`
	BrightnessPercentiles *[2]float64 `toml:"brightness_percentiles"`
	BrightnessStrength    *float64    `toml:"brightness_strength"`
	SaturationEnabled     *bool       `toml:"saturation_enabled"`
	SaturationFactor      *float64    `toml:"saturation_factor"`
	NoiseEnabled          *bool       `toml:"noise_enabled"`
	NoiseStrength         *float64    `toml:"noise_strength"`
	NoiseISOThreshold     *int        `toml:"noise_iso_threshold"`
	SharpenEnabled        *bool       `toml:"sharpen_enabled"`
	SharpenRadius         *float64    `toml:"sharpen_radius"`
	SharpenAmount         *float64    `toml:"sharpen_amount"`
}

type profilesFile struct {
	Profiles map[string]ProfileOverrides `toml:"profiles"`
}

func DefaultEnhancementParams() EnhancementParams {
	return EnhancementParams{
		CLAHEEnabled:          true,
		CLAHEClipLimit:        2.0,
		CLAHETileSize:         8,
		WhiteBalanceEnabled:   true,
		BrightnessEnabled:     true,
		BrightnessPercentiles: [2]float64{2, 98},
		BrightnessStrength:    0.5,
		SaturationEnabled:     true,
		SaturationFactor:      1.1,
		NoiseEnabled:          true,
		NoiseStrength:         5,
		NoiseISOThreshold:     1600,
		SharpenEnabled:        true,
		SharpenRadius:         1.0,
		SharpenAmount:         0.5,
	}
}

func ptr[T any](v T) *T { return &v }

// BuiltinProfiles returns a fresh copy of the shipped profiles.
func BuiltinProfiles() map[string]ProfileOverrides {
	return map[string]ProfileOverrides{
		"conservative": {
			CLAHEClipLimit:     ptr(1.5),
			SaturationFactor:   ptr(1.05),
			SharpenAmount:      ptr(0.3),
			BrightnessStrength: ptr(0.3),
		},
		"balanced": {},
		"aggressive": {
			CLAHEClipLimit:     ptr(3.0),
			SaturationFactor:   ptr(1.2),
			SharpenAmount:      ptr(0.8),
			BrightnessStrength: ptr(0.8),
		},
	}
}

// Merge returns p with every non-nil override applied.
func (p EnhancementParams) Merge(o ProfileOverrides) EnhancementParams {
	if o.CLAHEEnabled != nil {
		p.CLAHEEnabled = *o.CLAHEEnabled
	}
	if o.CLAHEClipLimit != nil {
		p.CLAHEClipLimit = *o.CLAHEClipLimit
	}
	if o.CLAHETileSize != nil {
		p.CLAHETileSize = *o.CLAHETileSize
	}
	if o.WhiteBalanceEnabled != nil {
		p.WhiteBalanceEnabled = *o.WhiteBalanceEnabled
	}
	if o.BrightnessEnabled != nil {
		p.BrightnessEnabled = *o.BrightnessEnabled
	}
	if o.BrightnessPercentiles != nil {
		p.BrightnessPercentiles = *o.BrightnessPercentiles
	}
	if o.BrightnessStrength != nil {
		p.BrightnessStrength = *o.BrightnessStrength
	}
	if o.SaturationEnabled != nil {
		p.SaturationEnabled = *o.SaturationEnabled
	}
	if o.SaturationFactor != nil {
		p.SaturationFactor = *o.SaturationFactor
	}
	if o.NoiseEnabled != nil {
		p.NoiseEnabled = *o.NoiseEnabled
	}
	if o.NoiseStrength != nil {
		p.NoiseStrength = *o.NoiseStrength
	}
	if o.NoiseISOThreshold != nil {
		p.NoiseISOThreshold = *o.NoiseISOThreshold
	}
	if o.SharpenEnabled != nil {
		p.SharpenEnabled = *o.SharpenEnabled
	}
	if o.SharpenRadius != nil {
		p.SharpenRadius = *o.SharpenRadius
	}
	if o.SharpenAmount != nil {
		p.SharpenAmount = *o.SharpenAmount
	}
	return p
}

func (p EnhancementParams) Validate() error {
	if p.CLAHEClipLimit <= 0 {
		return fmt.Errorf("config: clahe clip limit must be positive, got %g", p.CLAHEClipLimit)
	}
	if p.CLAHETileSize < 1 {
		return fmt.Errorf("config: clahe tile size must be positive, got %d", p.CLAHETileSize)
	}
	low, high := p.BrightnessPercentiles[0], p.BrightnessPercentiles[1]
	if low < 0 || high > 100 || low >= high {
		return fmt.Errorf("config: brightness percentiles must satisfy 0 <= low < high <= 100, got [%g, %g]", low, high)
	}
	if p.BrightnessStrength < 0 || p.BrightnessStrength > 1 {
		return fmt.Errorf("config: brightness strength %g outside [0,1]", p.BrightnessStrength)
	}
	if p.SaturationFactor < 0 {
		return fmt.Errorf("config: saturation factor cannot be negative")
	}
	if p.NoiseStrength < 0 {
		return fmt.Errorf("config: noise strength cannot be negative")
	}
	if p.SharpenRadius <= 0 || p.SharpenAmount < 0 {
		return fmt.Errorf("config: sharpen radius must be positive and amount non-negative")
	}
	return nil
}

// LoadProfilesFile reads a TOML document of the form
//
//	[profiles.studio]
//	clahe_clip_limit = 2.5
//	saturation_factor = 1.15
func LoadProfilesFile(path string) (map[string]ProfileOverrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file '%s': %w", path, err)
	}
	var pf profilesFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file '%s': %w", path, err)
	}
	return pf.Profiles, nil
}

// envOverrides collects ENHANCE_* variables. They win over any profile.
func envOverrides() ProfileOverrides {
	var o ProfileOverrides
	floatVar := func(key string) *float64 {
		if os.Getenv(key) == "" {
			return nil
		}
		return ptr(getEnvFloatOrDefault(key, 0))
	}
	intVar := func(key string) *int {
		if os.Getenv(key) == "" {
			return nil
		}
		return ptr(getEnvIntOrDefault(key, 0))
	}
	boolVar := func(key string) *bool {
		if os.Getenv(key) == "" {
			return nil
		}
		return ptr(getEnvBoolOrDefault(key, true))
	}

	o.CLAHEEnabled = boolVar("ENHANCE_CLAHE_ENABLED")
	o.CLAHEClipLimit = floatVar("ENHANCE_CLAHE_CLIP_LIMIT")
	o.CLAHETileSize = intVar("ENHANCE_CLAHE_TILE_SIZE")
	o.WhiteBalanceEnabled = boolVar("ENHANCE_WHITE_BALANCE_ENABLED")
	o.BrightnessEnabled = boolVar("ENHANCE_BRIGHTNESS_ENABLED")
	o.BrightnessStrength = floatVar("ENHANCE_BRIGHTNESS_STRENGTH")
	low, high := floatVar("ENHANCE_BRIGHTNESS_LOW_PERCENTILE"), floatVar("ENHANCE_BRIGHTNESS_HIGH_PERCENTILE")
	if low != nil && high != nil {
		o.BrightnessPercentiles = &[2]float64{*low, *high}
	}
	o.SaturationEnabled = boolVar("ENHANCE_SATURATION_ENABLED")
	o.SaturationFactor = floatVar("ENHANCE_SATURATION_FACTOR")
	o.NoiseEnabled = boolVar("ENHANCE_NOISE_ENABLED")
	o.NoiseStrength = floatVar("ENHANCE_NOISE_STRENGTH")
	o.NoiseISOThreshold = intVar("ENHANCE_NOISE_ISO_THRESHOLD")
	o.SharpenEnabled = boolVar("ENHANCE_SHARPEN_ENABLED")
	o.SharpenRadius = floatVar("ENHANCE_SHARPEN_RADIUS")
	o.SharpenAmount = floatVar("ENHANCE_SHARPEN_AMOUNT")
	return o
}
