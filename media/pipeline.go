package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/utils"
)

// ErrDimensionMismatch is returned when a stage changed the pixel grid.
// Items failing with it are never retried.
var ErrDimensionMismatch = errors.New("image dimensions changed during processing")

// Stage names as they appear in AdjustmentReport.Stages.
const (
	StageContrast     = "contrast"
	StageWhiteBalance = "white_balance"
	StageBrightness   = "brightness"
	StageSaturation   = "saturation"
	StageDenoise      = "noise_reduction"
	StageSharpen      = "sharpening"
)

type WhiteBalanceScales struct {
	Blue  float64 `json:"scale_b"`
	Green float64 `json:"scale_g"`
	Red   float64 `json:"scale_r"`
}

type DenoiseReport struct {
	Strength float64 `json:"strength"`
	ISO      int     `json:"iso"`
}

type SharpenReport struct {
	Radius float64 `json:"radius"`
	Amount float64 `json:"amount"`
}

// AdjustmentReport records what each stage that ran did to the image.
type AdjustmentReport struct {
	Stages []string `json:"stages"`

	ContrastDelta   *float64            `json:"contrast_delta,omitempty"`   // std(out)/std(in) - 1
	WhiteBalance    *WhiteBalanceScales `json:"white_balance,omitempty"`
	BrightnessDelta *float64            `json:"brightness_delta,omitempty"` // mean shift, fraction of full range
	SaturationBoost *float64            `json:"saturation_boost,omitempty"` // percent
	NoiseReduction  *DenoiseReport      `json:"noise_reduction,omitempty"`
	Sharpening      *SharpenReport      `json:"sharpening,omitempty"`
}

// JSON renders the report for the audit store.
func (r AdjustmentReport) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Pipeline applies the enhancement stages in their fixed order. It holds no
// per-image state and is safe for concurrent use.
type Pipeline struct {
	params config.EnhancementParams
	logger *slog.Logger
}

func NewPipeline(params config.EnhancementParams, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{params: params, logger: logger.With("component", "pipeline")}
}

func (p *Pipeline) Params() config.EnhancementParams { return p.params }

// Enhance runs every enabled stage over a copy of in. meta may be nil; noise
// suppression then never runs because there is no ISO to gate on.
func (p *Pipeline) Enhance(in *ImageBuffer, meta *utils.MetadataBundle) (*ImageBuffer, AdjustmentReport, error) {
	report := AdjustmentReport{Stages: []string{}}
	if in == nil || in.Width <= 0 || in.Height <= 0 {
		return nil, report, fmt.Errorf("%w: empty image", ErrDecode)
	}
	prm := p.params
	cur := in.Clone()

	if prm.CLAHEEnabled {
		out, ratio, err := applyCLAHE(cur, prm.CLAHEClipLimit, prm.CLAHETileSize)
		if err != nil {
			return nil, report, fmt.Errorf("contrast stage: %w", err)
		}
		delta := ratio - 1
		report.ContrastDelta = &delta
		report.Stages = append(report.Stages, StageContrast)
		p.logger.Debug("CLAHE applied", "clip_limit", prm.CLAHEClipLimit, "contrast_delta", delta)
		cur = out
	}

	if prm.WhiteBalanceEnabled {
		out, scale := applyGrayWorld(cur)
		report.WhiteBalance = &WhiteBalanceScales{Blue: scale[0], Green: scale[1], Red: scale[2]}
		report.Stages = append(report.Stages, StageWhiteBalance)
		p.logger.Debug("white balance applied", "r", scale[2], "g", scale[1], "b", scale[0])
		cur = out
	}

	if prm.BrightnessEnabled {
		out, delta, applied, err := applyBrightness(cur, prm.BrightnessPercentiles[0], prm.BrightnessPercentiles[1], prm.BrightnessStrength)
		if err != nil {
			return nil, report, fmt.Errorf("brightness stage: %w", err)
		}
		if applied {
			report.BrightnessDelta = &delta
			report.Stages = append(report.Stages, StageBrightness)
			p.logger.Debug("brightness adjusted", "delta", delta)
			cur = out
		}
	}

	if prm.SaturationEnabled {
		out, err := applySaturation(cur, prm.SaturationFactor)
		if err != nil {
			return nil, report, fmt.Errorf("saturation stage: %w", err)
		}
		boost := (prm.SaturationFactor - 1) * 100
		report.SaturationBoost = &boost
		report.Stages = append(report.Stages, StageSaturation)
		cur = out
	}

	if prm.NoiseEnabled && meta != nil && meta.ISO != nil && *meta.ISO > prm.NoiseISOThreshold {
		out, err := applyDenoise(cur, prm.NoiseStrength)
		if err != nil {
			return nil, report, fmt.Errorf("noise stage: %w", err)
		}
		report.NoiseReduction = &DenoiseReport{Strength: prm.NoiseStrength, ISO: *meta.ISO}
		report.Stages = append(report.Stages, StageDenoise)
		p.logger.Debug("noise reduction applied", "iso", *meta.ISO, "strength", prm.NoiseStrength)
		cur = out
	}

	if prm.SharpenEnabled {
		cur = applyUnsharpMask(cur, prm.SharpenRadius, prm.SharpenAmount)
		report.Sharpening = &SharpenReport{Radius: prm.SharpenRadius, Amount: prm.SharpenAmount}
		report.Stages = append(report.Stages, StageSharpen)
	}

	if !in.SameSize(cur) || len(cur.Pix) != len(in.Pix) {
		return nil, report, fmt.Errorf("%w: %dx%d -> %dx%d", ErrDimensionMismatch, in.Width, in.Height, cur.Width, cur.Height)
	}
	return cur, report, nil
}
