package utils

import (
	"bytes"
	"fmt"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// MetadataComparison lists the critical tags of an original by what happened
// to them in the enhanced copy.
type MetadataComparison struct {
	Preserved []exif.FieldName `json:"preserved"`
	Missing   []exif.FieldName `json:"missing"`
	Changed   []exif.FieldName `json:"changed"`
	Software  *string          `json:"software,omitempty"` // processing tag found on the enhanced copy
}

// OK is true when no critical tag went missing or changed.
func (c MetadataComparison) OK() bool {
	return len(c.Missing) == 0 && len(c.Changed) == 0
}

// CompareMetadata checks every critical tag present in original against
// enhanced. Tags absent from the original are not reported.
func CompareMetadata(original, enhanced *exif.Exif) MetadataComparison {
	var cmp MetadataComparison
	for _, name := range CriticalTags {
		want, err := original.Get(name)
		if err != nil || want == nil {
			continue
		}
		got, err := enhanced.Get(name)
		switch {
		case err != nil || got == nil:
			cmp.Missing = append(cmp.Missing, name)
		case got.Type != want.Type || got.Count != want.Count || !bytes.Equal(got.Val, want.Val):
			cmp.Changed = append(cmp.Changed, name)
		default:
			cmp.Preserved = append(cmp.Preserved, name)
		}
	}
	cmp.Software = getString(enhanced, exif.Software)
	return cmp
}

func decodeFile(path string) (*exif.Exif, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	x, err := exif.Decode(f)
	if x == nil {
		return nil, fmt.Errorf("failed to decode EXIF of %s: %w", path, err)
	}
	return x, nil
}

// CompareMetadataFiles is CompareMetadata over two files on disk.
func CompareMetadataFiles(originalPath, enhancedPath string) (MetadataComparison, error) {
	orig, err := decodeFile(originalPath)
	if err != nil {
		return MetadataComparison{}, err
	}
	enh, err := decodeFile(enhancedPath)
	if err != nil {
		return MetadataComparison{}, err
	}
	return CompareMetadata(orig, enh), nil
}
