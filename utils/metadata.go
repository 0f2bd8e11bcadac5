package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// MetadataBundle carries the capture tags of a source image through the
// pipeline. The parsed fields are for decisions and reporting; the entry
// lists and Raw are what gets written back.
type MetadataBundle struct {
	ISO          *int       `json:"iso,omitempty"`
	CameraMake   *string    `json:"camera_make,omitempty"`
	CameraModel  *string    `json:"camera_model,omitempty"`
	LensModel    *string    `json:"lens_model,omitempty"`
	Orientation  *int       `json:"orientation,omitempty"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	ShutterSpeed *string    `json:"shutter_speed,omitempty"`
	Aperture     *float64   `json:"aperture,omitempty"`
	FocalLength  *float64   `json:"focal_length,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`

	// Raw is the untouched APP1 TIFF payload of a JPEG source. Nil otherwise.
	Raw []byte `json:"-"`

	order   binary.ByteOrder
	ifd0    []IFDEntry
	exifIFD []IFDEntry
	gpsIFD  []IFDEntry
}

// HasTags reports whether anything worth re-attaching was captured.
func (m *MetadataBundle) HasTags() bool {
	return m != nil && (len(m.Raw) > 0 || len(m.ifd0)+len(m.exifIFD)+len(m.gpsIFD) > 0)
}

// IFD0 tags that describe the pixel layout of the source container rather
// than the capture, plus pointers that are regenerated.
var layoutTags = map[uint16]bool{
	0x00FE: true, 0x0100: true, 0x0101: true, 0x0102: true, 0x0103: true, 0x0106: true,
	0x0111: true, 0x0115: true, 0x0116: true, 0x0117: true, 0x011C: true, 0x0140: true,
	0x0142: true, 0x0143: true, 0x0144: true, 0x0145: true, 0x014A: true, 0x0152: true,
	0x0153: true, 0x0201: true, 0x0202: true, 0x02BC: true, 0x8773: true,
	TagExifIFD: true, TagGPSIFD: true, TagInteropIFD: true,
}

// largest single value copied into a synthesized blob
const maxSynthValue = 4096

// CriticalTags are the capture tags that must survive enhancement unchanged.
var CriticalTags = []exif.FieldName{
	exif.Make, exif.Model, exif.Orientation, exif.XResolution, exif.YResolution, exif.Copyright,
	exif.DateTimeOriginal, exif.ExposureTime, exif.FNumber, exif.ISOSpeedRatings, exif.FocalLength, exif.LensModel,
	exif.GPSLatitude, exif.GPSLongitude,
}

var criticalTagIDs = map[uint16]bool{
	0x010F: true, 0x0110: true, 0x0112: true, 0x011A: true, 0x011B: true, 0x0128: true, 0x8298: true,
	0x9003: true, 0x829A: true, 0x829D: true, 0x8827: true, 0x920A: true, 0xA434: true,
}

var criticalGPSTagIDs = map[uint16]bool{1: true, 2: true, 3: true, 4: true}

// helper to safely get and convert a rational tag (like Aperture, FocalLength)
func getRational(exifData *exif.Exif, tagName exif.FieldName) *float64 {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		// sometimes stored as Int instead
		valInt, errInt := tag.Int(0)
		if errInt == nil {
			fVal := float64(valInt)
			return &fVal
		}
		return nil
	}
	val := float64(num) / float64(den)
	return &val
}

func getInt(exifData *exif.Exif, tagName exif.FieldName) *int {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val, err := tag.Int(0)
	if err != nil {
		return nil
	}
	return &val
}

// helper to safely get a string tag, trimming null terminators
func getString(exifData *exif.Exif, tagName exif.FieldName) *string {
	tag, err := exifData.Get(tagName)
	if err != nil || tag == nil {
		return nil
	}
	val, err := tag.StringVal()
	if err != nil {
		val = tag.String()
	}
	val = strings.TrimRight(val, "\x00 ")
	if val == "" {
		return nil
	}
	return &val
}

func getShutterSpeed(exifData *exif.Exif) *string {
	tag, err := exifData.Get(exif.ExposureTime)
	if err != nil || tag == nil {
		return nil
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return nil
	}
	if num == 1 && den > 1 {
		s := fmt.Sprintf("1/%d", den)
		return &s
	}
	val := float64(num) / float64(den)
	var s string
	if val >= 1.0 {
		s = fmt.Sprintf("%.1fs", val)
	} else {
		s = fmt.Sprintf("%.4fs", val)
	}
	return &s
}

func entryFromTag(tag *tiff.Tag) (IFDEntry, bool) {
	size, ok := valueSize(uint16(tag.Type), tag.Count)
	if !ok || uint32(len(tag.Val)) != size || size > maxSynthValue {
		return IFDEntry{}, false
	}
	val := make([]byte, len(tag.Val))
	copy(val, tag.Val)
	return IFDEntry{Tag: tag.Id, Type: uint16(tag.Type), Count: tag.Count, Value: val}, true
}

// subIFDCollector sorts walked tags into the Exif and GPS directories.
// Tags already seen in the top-level directories are ignored.
type subIFDCollector struct {
	inIFD0  map[*tiff.Tag]bool
	exifIFD []IFDEntry
	gpsIFD  []IFDEntry
}

func (c *subIFDCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if c.inIFD0[tag] || tag.Id == TagMakerNote || name == exif.InteroperabilityIndex {
		return nil
	}
	e, ok := entryFromTag(tag)
	if !ok {
		return nil
	}
	if strings.HasPrefix(string(name), "GPS") {
		c.gpsIFD = append(c.gpsIFD, e)
	} else {
		c.exifIFD = append(c.exifIFD, e)
	}
	return nil
}

func newBundle(x *exif.Exif) *MetadataBundle {
	m := &MetadataBundle{
		ISO:          getInt(x, exif.ISOSpeedRatings),
		CameraMake:   getString(x, exif.Make),
		CameraModel:  getString(x, exif.Model),
		LensModel:    getString(x, exif.LensModel),
		Orientation:  getInt(x, exif.Orientation),
		ShutterSpeed: getShutterSpeed(x),
		Aperture:     getRational(x, exif.FNumber),
		FocalLength:  getRational(x, exif.FocalLength),
	}
	if dt, err := x.DateTime(); err == nil {
		m.TakenAt = &dt
	}
	if lat, long, err := x.LatLong(); err == nil {
		m.Latitude, m.Longitude = &lat, &long
	}

	if x.Tiff == nil || len(x.Tiff.Dirs) == 0 {
		return m
	}
	m.order = x.Tiff.Order
	collector := &subIFDCollector{inIFD0: make(map[*tiff.Tag]bool)}
	for _, dir := range x.Tiff.Dirs[1:] {
		for _, tag := range dir.Tags {
			collector.inIFD0[tag] = true
		}
	}
	for _, tag := range x.Tiff.Dirs[0].Tags {
		collector.inIFD0[tag] = true
		if layoutTags[tag.Id] {
			continue
		}
		if e, ok := entryFromTag(tag); ok {
			m.ifd0 = append(m.ifd0, e)
		}
	}
	// Walk only fails when the walker does
	_ = x.Walk(collector)
	m.exifIFD = collector.exifIFD
	m.gpsIFD = collector.gpsIFD
	return m
}

// DecodeMetadata reads EXIF from a JPEG or TIFF-structured stream. A stream
// without EXIF returns an empty bundle alongside the decode error.
func DecodeMetadata(r io.Reader, jpegSource bool) (*MetadataBundle, error) {
	x, err := exif.Decode(r)
	if x == nil {
		return &MetadataBundle{}, fmt.Errorf("metadata: failed to decode EXIF: %w", err)
	}
	// a non-nil x with an error means some sub-directory failed to load
	m := newBundle(x)
	if jpegSource && len(x.Raw) > 0 && len(x.Raw) <= MaxEXIFBlobSize {
		m.Raw = append([]byte(nil), x.Raw...)
	}
	return m, nil
}

// ReadMetadata opens path and extracts its capture tags. Missing EXIF is not
// an error; the bundle simply has no tags.
func ReadMetadata(path string, logger *slog.Logger) (*MetadataBundle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metadata: failed to open file %s: %w", path, err)
	}
	defer file.Close()

	m, err := DecodeMetadata(file, IsJPEG(path))
	if err != nil {
		if logger != nil {
			logger.Debug("no usable EXIF", "path", path, "error", err)
		}
		return &MetadataBundle{}, nil
	}
	return m, nil
}

// Blob returns the TIFF payload to re-attach. With preserveAll the source
// payload is reused verbatim when there is one; otherwise a payload holding
// only the critical tags is synthesized.
func (m *MetadataBundle) Blob(preserveAll bool) ([]byte, error) {
	if !m.HasTags() {
		return nil, nil
	}
	if preserveAll && len(m.Raw) > 0 {
		return m.Raw, nil
	}
	if m.order == nil {
		return nil, errors.New("metadata: no directory structure captured")
	}
	ifd0, exifIFD, gpsIFD := m.ifd0, m.exifIFD, m.gpsIFD
	if !preserveAll {
		ifd0 = filterEntries(ifd0, criticalTagIDs)
		exifIFD = filterEntries(exifIFD, criticalTagIDs)
		gpsIFD = filterEntries(gpsIFD, criticalGPSTagIDs)
	}
	return BuildEXIFBlob(m.order, ifd0, exifIFD, gpsIFD)
}

func filterEntries(entries []IFDEntry, keep map[uint16]bool) []IFDEntry {
	var out []IFDEntry
	for _, e := range entries {
		if keep[e.Tag] {
			out = append(out, e)
		}
	}
	return out
}
