package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/camden-git/photoner/config"
	"github.com/camden-git/photoner/utils"
)

// Result describes one successful enhancement.
type Result struct {
	OriginalSize int64
	EnhancedSize int64
	Width        int
	Height       int
	Report       AdjustmentReport
	EXIFAttached bool
}

// Processor turns a source file into an enhanced JPEG. It decodes, runs the
// pipeline, and saves with metadata.
type Processor struct {
	pipeline *Pipeline
	save     SaveOptions
	raw      RawDecoder
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(pipeline *Pipeline, save SaveOptions, raw RawDecoder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		pipeline: pipeline,
		save:     save,
		raw:      raw,
		logger:   logger.With("component", "processor"),
		now:      time.Now,
	}
}

// NewProcessorFromConfig wires a Processor from the resolved configuration.
func NewProcessorFromConfig(cfg config.Config, logger *slog.Logger) *Processor {
	return NewProcessor(
		NewPipeline(cfg.Enhancement, logger),
		SaveOptions{
			JPEGQuality:      cfg.Processing.JPEGQuality,
			PreserveAllEXIF:  cfg.Advanced.PreserveAllEXIF,
			AddProcessingTag: cfg.Advanced.AddProcessingTag,
			SoftwareName:     cfg.Advanced.ProcessingSoftwareName,
		},
		RawDecoder{Path: cfg.Advanced.RawDecoderPath},
		logger,
	)
}

func (p *Processor) Validate(ctx context.Context, path string, kind utils.FileKind) error {
	return ValidateFile(ctx, path, kind, p.raw)
}

func (p *Processor) decode(ctx context.Context, path string, kind utils.FileKind) (*ImageBuffer, error) {
	if kind == utils.KindRaw {
		return p.raw.Decode(ctx, path)
	}
	return DecodeStandard(path)
}

// Process enhances input and writes the result to output. Nothing is written
// unless every stage succeeded.
func (p *Processor) Process(ctx context.Context, input string, kind utils.FileKind, output string) (Result, error) {
	info, err := os.Stat(input)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat input '%s': %w", input, err)
	}

	buf, err := p.decode(ctx, input, kind)
	if err != nil {
		return Result{}, err
	}
	// RAW containers often carry no readable EXIF; that is fine
	meta, err := utils.ReadMetadata(input, p.logger)
	if err != nil {
		return Result{}, err
	}

	enhanced, report, err := p.pipeline.Enhance(buf, meta)
	if err != nil {
		return Result{}, err
	}

	attached, err := SaveImage(output, enhanced, meta, p.save, p.now(), p.logger.With("output", output))
	if err != nil {
		return Result{}, fmt.Errorf("failed to save enhanced image: %w", err)
	}
	outInfo, err := os.Stat(output)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat output '%s': %w", output, err)
	}

	p.logger.Debug("image enhanced", "input", input, "output", output,
		"width", enhanced.Width, "height", enhanced.Height, "exif_preserved", attached)
	return Result{
		OriginalSize: info.Size(),
		EnhancedSize: outInfo.Size(),
		Width:        enhanced.Width,
		Height:       enhanced.Height,
		Report:       report,
		EXIFAttached: attached,
	}, nil
}
