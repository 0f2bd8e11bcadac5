package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/camden-git/photoner/utils"
	"github.com/disintegration/imaging"
)

// SaveOptions controls encoding and metadata re-attachment.
type SaveOptions struct {
	JPEGQuality      int
	PreserveAllEXIF  bool // false keeps only the critical capture tags
	AddProcessingTag bool
	SoftwareName     string
}

// EncodeJPEG encodes buf at the given quality.
func EncodeJPEG(buf *ImageBuffer, quality int) ([]byte, error) {
	var out bytes.Buffer
	if err := imaging.Encode(&out, buf.NRGBA(), imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("jpeg encoding failed: %w", err)
	}
	return out.Bytes(), nil
}

// attachMetadata returns jpegData with meta re-attached as an APP1 segment.
// The only tags added are Software and DateTime.
func attachMetadata(jpegData []byte, meta *utils.MetadataBundle, opts SaveOptions, at time.Time) ([]byte, error) {
	blob, err := meta.Blob(opts.PreserveAllEXIF)
	if err != nil {
		return nil, err
	}
	if opts.AddProcessingTag {
		blob, err = utils.PatchProcessingTags(blob, opts.SoftwareName, at)
		if err != nil {
			return nil, fmt.Errorf("failed to add processing tags: %w", err)
		}
	}
	return utils.InsertEXIF(jpegData, blob)
}

// EncodeWithMetadata produces the final output bytes. A full EXIF payload
// that outgrows the APP1 segment falls back to the critical tags. Any other
// metadata failure is logged and the image is returned without EXIF;
// attached reports whether EXIF was written.
func EncodeWithMetadata(buf *ImageBuffer, meta *utils.MetadataBundle, opts SaveOptions, at time.Time, logger *slog.Logger) (data []byte, attached bool, err error) {
	data, err = EncodeJPEG(buf, opts.JPEGQuality)
	if err != nil {
		return nil, false, err
	}
	if !meta.HasTags() {
		return data, false, nil
	}
	withExif, err := attachMetadata(data, meta, opts, at)
	if err != nil && opts.PreserveAllEXIF && errors.Is(err, utils.ErrBlobTooLarge) {
		if logger != nil {
			logger.Warn("full EXIF does not fit with processing tags, keeping critical tags only", "error", err)
		}
		critical := opts
		critical.PreserveAllEXIF = false
		withExif, err = attachMetadata(data, meta, critical, at)
	}
	if err != nil {
		if logger != nil {
			logger.Warn("could not preserve EXIF, saving without it", "error", err)
		}
		return data, false, nil
	}
	return withExif, true, nil
}

// SaveImage writes the encoded image to output atomically.
func SaveImage(output string, buf *ImageBuffer, meta *utils.MetadataBundle, opts SaveOptions, at time.Time, logger *slog.Logger) (bool, error) {
	data, attached, err := EncodeWithMetadata(buf, meta, opts, at, logger)
	if err != nil {
		return false, err
	}
	err = WriteAtomically(output, func(w io.Writer) error {
		_, werr := w.Write(data)
		return werr
	})
	if err != nil {
		return false, err
	}
	return attached, nil
}
