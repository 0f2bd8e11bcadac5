package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strings"

	"github.com/camden-git/photoner/utils"
	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

var (
	// ErrInvalidInput marks a file that failed the pre-processing probe.
	ErrInvalidInput = errors.New("invalid input file")
	// ErrDecode marks a codec or demosaic failure.
	ErrDecode = errors.New("decode failed")
)

// RawDecoder shells out to a dcraw-compatible binary.
type RawDecoder struct {
	Path string
}

// rawArgs: write to stdout, camera white balance, no auto-brightening,
// 16-bit linear TIFF.
var rawArgs = []string{"-c", "-w", "-W", "-6", "-T"}

// Decode demosaics path and returns the 8-bit BGR buffer. The decoder emits
// 16-bit samples; only the high byte is kept.
func (d RawDecoder) Decode(ctx context.Context, path string) (*ImageBuffer, error) {
	args := append(append([]string(nil), rawArgs...), path)
	cmd := exec.CommandContext(ctx, d.binary(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s on '%s': %v: %s", ErrDecode, d.binary(), path, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s produced no output for '%s'", ErrDecode, d.binary(), path)
	}

	img, err := tiff.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: reading demosaiced TIFF for '%s': %v", ErrDecode, path, err)
	}
	return FromImage(img), nil
}

// Identify asks the decoder whether it recognises the file without decoding it.
func (d RawDecoder) Identify(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, d.binary(), "-i", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s -i: %v: %s", d.binary(), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (d RawDecoder) binary() string {
	if d.Path == "" {
		return "dcraw"
	}
	return d.Path
}

// DecodeStandard reads a JPEG or TIFF into a BGR buffer. EXIF orientation is
// not applied; the pixel grid matches the source.
func DecodeStandard(path string) (*ImageBuffer, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrDecode, path, err)
	}
	return FromImage(img), nil
}

// ValidateFile checks that path exists, is a non-empty regular file and that
// its header parses. RAW files are probed through the decoder.
func ValidateFile(ctx context.Context, path string, kind utils.FileKind, raw RawDecoder) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: '%s' is not a regular file", ErrInvalidInput, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: '%s' is empty", ErrInvalidInput, path)
	}

	if kind == utils.KindRaw {
		if err := raw.Identify(ctx, path); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("%w: corrupt header in '%s': %v", ErrInvalidInput, path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: '%s' reports %dx%d", ErrInvalidInput, path, cfg.Width, cfg.Height)
	}
	return nil
}
