package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"
)

// TIFF tag ids the blob writer cares about
const (
	TagSoftware   uint16 = 0x0131
	TagDateTime   uint16 = 0x0132
	TagExifIFD    uint16 = 0x8769
	TagGPSIFD     uint16 = 0x8825
	TagInteropIFD uint16 = 0xA005
	TagMakerNote  uint16 = 0x927C
)

const (
	typeASCII uint16 = 2
	typeLong  uint16 = 4
)

const (
	exifDateTimeFmt = "2006:01:02 15:04:05"
	ifdEntrySize    = 12
	tiffHeaderSize  = 8
)

// MaxEXIFBlobSize is the largest TIFF payload that fits in one APP1 segment:
// 65535 minus the length field and the "Exif\0\0" preamble.
const MaxEXIFBlobSize = 65535 - 2 - 6

var exifPreamble = []byte("Exif\x00\x00")

var (
	ErrBlobTooLarge = errors.New("exif blob exceeds APP1 segment limit")
	ErrNotJPEG      = errors.New("not a JPEG stream")
	ErrBadTIFF      = errors.New("malformed TIFF header")
)

// IFDEntry is one directory entry with its value bytes already in the blob's
// byte order.
type IFDEntry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Value []byte
}

var typeSizes = map[uint16]uint32{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

func valueSize(typ uint16, count uint32) (uint32, bool) {
	sz, ok := typeSizes[typ]
	if !ok {
		return 0, false
	}
	return sz * count, true
}

func sortEntries(entries []IFDEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Tag < entries[j].Tag })
}

func ifdLength(entries []IFDEntry) uint32 {
	n := uint32(2 + ifdEntrySize*len(entries) + 4)
	for _, e := range entries {
		if l := uint32(len(e.Value)); l > 4 {
			n += l + l%2
		}
	}
	return n
}

// appendIFD serializes entries as an IFD starting at absolute offset base,
// with out-of-line values placed right after the entry table.
func appendIFD(buf []byte, order binary.ByteOrder, entries []IFDEntry, base, next uint32) []byte {
	dataOff := base + uint32(2+ifdEntrySize*len(entries)+4)
	var data []byte

	buf = appendU16(order, buf, uint16(len(entries)))
	for _, e := range entries {
		buf = appendU16(order, buf, e.Tag)
		buf = appendU16(order, buf, e.Type)
		buf = appendU32(order, buf, e.Count)
		if len(e.Value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.Value)
			buf = append(buf, inline[:]...)
			continue
		}
		buf = appendU32(order, buf, dataOff+uint32(len(data)))
		data = append(data, e.Value...)
		if len(e.Value)%2 == 1 {
			data = append(data, 0)
		}
	}
	buf = appendU32(order, buf, next)
	return append(buf, data...)
}

func appendU16(order binary.ByteOrder, buf []byte, v uint16) []byte {
	var b [2]byte
	order.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func appendU32(order binary.ByteOrder, buf []byte, v uint32) []byte {
	var b [4]byte
	order.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func asciiValue(s string) []byte {
	return append([]byte(s), 0)
}

func longValue(order binary.ByteOrder, v uint32) []byte {
	return appendU32(order, nil, v)
}

// BuildEXIFBlob lays out a fresh TIFF structure holding IFD0 plus the optional
// Exif and GPS sub-directories. Pointer tags are generated here; any pointer
// entries passed in are dropped.
func BuildEXIFBlob(order binary.ByteOrder, ifd0, exifIFD, gpsIFD []IFDEntry) ([]byte, error) {
	strip := func(in []IFDEntry) []IFDEntry {
		out := make([]IFDEntry, 0, len(in))
		for _, e := range in {
			if e.Tag == TagExifIFD || e.Tag == TagGPSIFD || e.Tag == TagInteropIFD {
				continue
			}
			out = append(out, e)
		}
		sortEntries(out)
		return out
	}
	ifd0 = strip(ifd0)
	exifIFD = strip(exifIFD)
	gpsIFD = strip(gpsIFD)

	// pointer values are inline, so sizes do not depend on them
	if len(exifIFD) > 0 {
		ifd0 = append(ifd0, IFDEntry{Tag: TagExifIFD, Type: typeLong, Count: 1, Value: make([]byte, 4)})
	}
	if len(gpsIFD) > 0 {
		ifd0 = append(ifd0, IFDEntry{Tag: TagGPSIFD, Type: typeLong, Count: 1, Value: make([]byte, 4)})
	}
	sortEntries(ifd0)

	ifd0Off := uint32(tiffHeaderSize)
	exifOff := ifd0Off + ifdLength(ifd0)
	gpsOff := exifOff
	if len(exifIFD) > 0 {
		gpsOff += ifdLength(exifIFD)
	}
	for i := range ifd0 {
		switch ifd0[i].Tag {
		case TagExifIFD:
			ifd0[i].Value = longValue(order, exifOff)
		case TagGPSIFD:
			ifd0[i].Value = longValue(order, gpsOff)
		}
	}

	buf := tiffHeader(order, ifd0Off)
	buf = appendIFD(buf, order, ifd0, ifd0Off, 0)
	if len(exifIFD) > 0 {
		buf = appendIFD(buf, order, exifIFD, exifOff, 0)
	}
	if len(gpsIFD) > 0 {
		buf = appendIFD(buf, order, gpsIFD, gpsOff, 0)
	}
	if len(buf) > MaxEXIFBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(buf))
	}
	return buf, nil
}

func tiffHeader(order binary.ByteOrder, ifd0Off uint32) []byte {
	var buf []byte
	if order == binary.BigEndian {
		buf = append(buf, 'M', 'M')
	} else {
		buf = append(buf, 'I', 'I')
	}
	buf = appendU16(order, buf, 42)
	return appendU32(order, buf, ifd0Off)
}

func blobOrder(blob []byte) (binary.ByteOrder, error) {
	if len(blob) < tiffHeaderSize {
		return nil, ErrBadTIFF
	}
	var order binary.ByteOrder
	switch string(blob[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrBadTIFF
	}
	if order.Uint16(blob[2:4]) != 42 {
		return nil, ErrBadTIFF
	}
	return order, nil
}

// rawEntry is an IFD0 entry as found in an existing blob. inline holds the
// four value-or-offset bytes verbatim so the entry can be re-emitted without
// moving its value.
type rawEntry struct {
	IFDEntry
	inline [4]byte
}

func readIFD0(blob []byte, order binary.ByteOrder) ([]rawEntry, uint32, error) {
	off := order.Uint32(blob[4:8])
	if uint64(off)+2 > uint64(len(blob)) {
		return nil, 0, fmt.Errorf("%w: IFD0 offset %d out of range", ErrBadTIFF, off)
	}
	n := uint32(order.Uint16(blob[off : off+2]))
	end := off + 2 + n*ifdEntrySize
	if uint64(end)+4 > uint64(len(blob)) {
		return nil, 0, fmt.Errorf("%w: IFD0 truncated", ErrBadTIFF)
	}

	entries := make([]rawEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		p := off + 2 + i*ifdEntrySize
		var e rawEntry
		e.Tag = order.Uint16(blob[p:])
		e.Type = order.Uint16(blob[p+2:])
		e.Count = order.Uint32(blob[p+4:])
		copy(e.inline[:], blob[p+8:p+12])
		entries = append(entries, e)
	}
	return entries, order.Uint32(blob[end:]), nil
}

// PatchProcessingTags returns a copy of blob whose IFD0 additionally carries
// (or replaces) the Software and DateTime tags. The new IFD0 is appended to
// the end of the blob and the header re-pointed at it; every other byte of
// the input is left exactly as it was.
func PatchProcessingTags(blob []byte, software string, at time.Time) ([]byte, error) {
	order, err := blobOrder(blob)
	if err != nil {
		return nil, err
	}
	old, next, err := readIFD0(blob, order)
	if err != nil {
		return nil, err
	}

	additions := []IFDEntry{
		{Tag: TagSoftware, Type: typeASCII, Value: asciiValue(software)},
		{Tag: TagDateTime, Type: typeASCII, Value: asciiValue(at.Format(exifDateTimeFmt))},
	}
	for i := range additions {
		additions[i].Count = uint32(len(additions[i].Value))
	}

	out := make([]byte, len(blob), len(blob)+512)
	copy(out, blob)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	base := uint32(len(out))

	var entries []rawEntry
	for _, e := range old {
		if e.Tag == TagSoftware || e.Tag == TagDateTime {
			continue
		}
		entries = append(entries, e)
	}
	for _, a := range additions {
		entries = append(entries, rawEntry{IFDEntry: a})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Tag < entries[j].Tag })

	dataOff := base + uint32(2+ifdEntrySize*len(entries)+4)
	var data []byte
	out = appendU16(order, out, uint16(len(entries)))
	for _, e := range entries {
		out = appendU16(order, out, e.Tag)
		out = appendU16(order, out, e.Type)
		out = appendU32(order, out, e.Count)
		switch {
		case e.Value == nil:
			// existing entry, value or offset carried over untouched
			out = append(out, e.inline[:]...)
		case len(e.Value) <= 4:
			var inline [4]byte
			copy(inline[:], e.Value)
			out = append(out, inline[:]...)
		default:
			out = appendU32(order, out, dataOff+uint32(len(data)))
			data = append(data, e.Value...)
			if len(e.Value)%2 == 1 {
				data = append(data, 0)
			}
		}
	}
	out = appendU32(order, out, next)
	out = append(out, data...)
	order.PutUint32(out[4:8], base)

	if len(out) > MaxEXIFBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(out))
	}
	return out, nil
}

// InsertEXIF places blob as an APP1 segment directly after the SOI marker of
// a JPEG stream.
func InsertEXIF(jpegData, blob []byte) ([]byte, error) {
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return nil, ErrNotJPEG
	}
	if len(blob) > MaxEXIFBlobSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlobTooLarge, len(blob))
	}

	segLen := 2 + len(exifPreamble) + len(blob)
	var out bytes.Buffer
	out.Grow(len(jpegData) + segLen + 2)
	out.Write(jpegData[:2])
	out.Write([]byte{0xFF, 0xE1, byte(segLen >> 8), byte(segLen)})
	out.Write(exifPreamble)
	out.Write(blob)
	out.Write(jpegData[2:])
	return out.Bytes(), nil
}
