package utils

import (
	"path/filepath"
	"strings"
)

// FileKind is the decode family a source file belongs to.
type FileKind string

const (
	KindStandard FileKind = "standard"
	KindRaw      FileKind = "raw"
)

var jpegExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
}

var tiffExtensions = map[string]bool{
	".tif":  true,
	".tiff": true,
}

// IsJPEG checks the filename extension only
func IsJPEG(filename string) bool {
	return jpegExtensions[strings.ToLower(filepath.Ext(filename))]
}

func IsTIFF(filename string) bool {
	return tiffExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Stem is the base name without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// HasSegment reports whether any directory component of path equals one of
// the given names exactly. "processed_2024" does not match "processed".
func HasSegment(path string, names ...string) bool {
	dir := filepath.ToSlash(filepath.Dir(path))
	for _, part := range strings.Split(dir, "/") {
		for _, n := range names {
			if n != "" && part == n {
				return true
			}
		}
	}
	return false
}
