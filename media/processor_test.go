package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/camden-git/photoner/utils"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asciiIFD(tag uint16, s string) utils.IFDEntry {
	v := append([]byte(s), 0)
	return utils.IFDEntry{Tag: tag, Type: 2, Count: uint32(len(v)), Value: v}
}

// jpegWithEXIF returns a small gradient JPEG carrying camera tags and an ISO.
func jpegWithEXIF(t *testing.T, iso uint16) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 16))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 251)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var plain bytes.Buffer
	require.NoError(t, imaging.Encode(&plain, img, imaging.JPEG, imaging.JPEGQuality(95)))

	order := binary.LittleEndian
	blob, err := utils.BuildEXIFBlob(order,
		[]utils.IFDEntry{asciiIFD(0x010F, "Fujifilm"), asciiIFD(0x0110, "X-T5"), asciiIFD(0x013B, "Staff")},
		[]utils.IFDEntry{{Tag: 0x8827, Type: 3, Count: 1, Value: order.AppendUint16(nil, iso)}},
		nil)
	require.NoError(t, err)
	data, err := utils.InsertEXIF(plain.Bytes(), blob)
	require.NoError(t, err)
	return data
}

func testProcessor(preserveAll bool) *Processor {
	p := NewProcessor(
		NewPipeline(pureGoParams(), utils.NopLogger()),
		SaveOptions{JPEGQuality: 90, PreserveAllEXIF: preserveAll, AddProcessingTag: true, SoftwareName: "Photoner"},
		RawDecoder{},
		utils.NopLogger(),
	)
	p.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	return p
}

func TestProcessorEnhancesJPEGAndKeepsMetadata(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jpg")
	output := filepath.Join(dir, "out", "in_enhanced.jpg")
	require.NoError(t, os.WriteFile(input, jpegWithEXIF(t, 400), 0644))

	p := testProcessor(true)
	require.NoError(t, p.Validate(context.Background(), input, utils.KindStandard))

	res, err := p.Process(context.Background(), input, utils.KindStandard, output)
	require.NoError(t, err)
	assert.Equal(t, 24, res.Width)
	assert.Equal(t, 16, res.Height)
	assert.True(t, res.EXIFAttached)
	assert.Greater(t, res.EnhancedSize, int64(0))

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 24, cfg.Width)
	assert.Equal(t, 16, cfg.Height)

	cmp, err := utils.CompareMetadataFiles(input, output)
	require.NoError(t, err)
	assert.True(t, cmp.OK(), "missing=%v changed=%v", cmp.Missing, cmp.Changed)
	require.NotNil(t, cmp.Software)
	assert.Equal(t, "Photoner", *cmp.Software)
}

func TestProcessorDropsNonCriticalTagsWhenNotPreservingAll(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jpg")
	output := filepath.Join(dir, "out.jpg")
	require.NoError(t, os.WriteFile(input, jpegWithEXIF(t, 200), 0644))

	_, err := testProcessor(false).Process(context.Background(), input, utils.KindStandard, output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	x, err := exif.Decode(bytes.NewReader(data))
	require.NotNil(t, x, "decode: %v", err)
	_, err = x.Get(exif.Artist)
	assert.Error(t, err)
	model, err := x.Get(exif.Model)
	require.NoError(t, err)
	s, _ := model.StringVal()
	assert.Equal(t, "X-T5", s)
}

func TestProcessorDecodeFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "broken.jpg")
	output := filepath.Join(dir, "broken_enhanced.jpg")
	require.NoError(t, os.WriteFile(input, []byte("\xff\xd8 definitely not a jpeg"), 0644))

	p := testProcessor(true)
	assert.ErrorIs(t, p.Validate(context.Background(), input, utils.KindStandard), ErrInvalidInput)

	_, err := p.Process(context.Background(), input, utils.KindStandard, output)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NoFileExists(t, output)
}

func TestValidateFileRejectsMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	assert.ErrorIs(t, ValidateFile(context.Background(), filepath.Join(dir, "nope.jpg"), utils.KindStandard, RawDecoder{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateFile(context.Background(), empty, utils.KindStandard, RawDecoder{}), ErrInvalidInput)
	assert.ErrorIs(t, ValidateFile(context.Background(), dir, utils.KindStandard, RawDecoder{}), ErrInvalidInput)
}

func TestRawValidationFailsWhenDecoderMissing(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "shot.cr2")
	require.NoError(t, os.WriteFile(raw, []byte("not really raw"), 0644))

	dec := RawDecoder{Path: filepath.Join(dir, "no-such-decoder")}
	assert.ErrorIs(t, ValidateFile(context.Background(), raw, utils.KindRaw, dec), ErrInvalidInput)
	_, err := dec.Decode(context.Background(), raw)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEncodeWithMetadataDegradesOnBadBlob(t *testing.T) {
	buf := uniformBuffer(8, 8, 128)
	meta := &utils.MetadataBundle{Raw: []byte("garbage")}
	opts := SaveOptions{JPEGQuality: 80, PreserveAllEXIF: true, AddProcessingTag: true, SoftwareName: "Photoner"}

	data, attached, err := EncodeWithMetadata(buf, meta, opts, time.Now(), utils.NopLogger())
	require.NoError(t, err)
	assert.False(t, attached)
	_, err = imaging.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestEncodeWithMetadataFallsBackToCriticalTagsWhenFull(t *testing.T) {
	plain, err := EncodeJPEG(uniformBuffer(8, 8, 128), 90)
	require.NoError(t, err)

	order := binary.BigEndian
	artist := string(bytes.Repeat([]byte("a"), utils.MaxEXIFBlobSize-150))
	blob, err := utils.BuildEXIFBlob(order,
		[]utils.IFDEntry{asciiIFD(0x010F, "Fujifilm"), asciiIFD(0x0110, "X-T5"), asciiIFD(0x013B, artist)},
		[]utils.IFDEntry{{Tag: 0x8827, Type: 3, Count: 1, Value: []byte{0x01, 0x90}}},
		nil)
	require.NoError(t, err)
	source, err := utils.InsertEXIF(plain, blob)
	require.NoError(t, err)

	meta, err := utils.DecodeMetadata(bytes.NewReader(source), true)
	require.NoError(t, err)
	require.NotEmpty(t, meta.Raw)
	_, err = utils.PatchProcessingTags(meta.Raw, "Photoner", time.Now())
	require.ErrorIs(t, err, utils.ErrBlobTooLarge)

	opts := SaveOptions{JPEGQuality: 80, PreserveAllEXIF: true, AddProcessingTag: true, SoftwareName: "Photoner"}
	data, attached, err := EncodeWithMetadata(uniformBuffer(8, 8, 128), meta, opts, time.Now(), utils.NopLogger())
	require.NoError(t, err)
	assert.True(t, attached)

	x, err := exif.Decode(bytes.NewReader(data))
	require.NotNil(t, x, "decode error: %v", err)
	model, err := x.Get(exif.Model)
	require.NoError(t, err)
	s, _ := model.StringVal()
	assert.Equal(t, "X-T5", s)
	iso, err := x.Get(exif.ISOSpeedRatings)
	require.NoError(t, err)
	v, _ := iso.Int(0)
	assert.Equal(t, 400, v)
	sw, err := x.Get(exif.Software)
	require.NoError(t, err)
	s, _ = sw.StringVal()
	assert.Equal(t, "Photoner", s)
	_, err = x.Get(exif.Artist)
	assert.Error(t, err)
}

func TestEncodeWithMetadataWithoutTags(t *testing.T) {
	_, attached, err := EncodeWithMetadata(uniformBuffer(4, 4, 10), &utils.MetadataBundle{}, SaveOptions{JPEGQuality: 80}, time.Now(), nil)
	require.NoError(t, err)
	assert.False(t, attached)
}
