package media

import (
	"fmt"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// ImageBuffer is an 8-bit, 3-channel image in BGR order, rows packed without
// padding. A buffer belongs to the single pipeline run that created it.
type ImageBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

func NewImageBuffer(width, height int) *ImageBuffer {
	return &ImageBuffer{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

func (b *ImageBuffer) Clone() *ImageBuffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &ImageBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}

func (b *ImageBuffer) SameSize(o *ImageBuffer) bool {
	return o != nil && b.Width == o.Width && b.Height == o.Height
}

// FromImage converts any decoded image into a BGR buffer. Wider sample depths
// keep their high byte; alpha is dropped.
func FromImage(img image.Image) *ImageBuffer {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	buf := NewImageBuffer(w, h)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := buf.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+2]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+0]
		}
	}
	return buf
}

// NRGBA returns an opaque image.NRGBA copy of the buffer.
func (b *ImageBuffer) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i, j := 0, 0; i < len(b.Pix); i, j = i+3, j+4 {
		img.Pix[j+0] = b.Pix[i+2]
		img.Pix[j+1] = b.Pix[i+1]
		img.Pix[j+2] = b.Pix[i+0]
		img.Pix[j+3] = 0xFF
	}
	return img
}

// withMat exposes the buffer to OpenCV as a CV_8UC3 Mat for the duration of fn.
func (b *ImageBuffer) withMat(fn func(gocv.Mat) error) error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("empty image buffer %dx%d", b.Width, b.Height)
	}
	mat, err := gocv.NewMatFromBytes(b.Height, b.Width, gocv.MatTypeCV8UC3, b.Pix)
	if err != nil {
		return fmt.Errorf("failed to wrap buffer as Mat: %w", err)
	}
	defer mat.Close()
	err = fn(mat)
	runtime.KeepAlive(b.Pix)
	return err
}

// fromMat copies a CV_8UC3 Mat into a new buffer.
func fromMat(m gocv.Mat) (*ImageBuffer, error) {
	if m.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("unexpected Mat type %v", m.Type())
	}
	return &ImageBuffer{Width: m.Cols(), Height: m.Rows(), Pix: m.ToBytes()}, nil
}

// plane returns channel c (0..2) of an interleaved 3-channel byte slice.
func plane(pix []uint8, c int) []uint8 {
	out := make([]uint8, len(pix)/3)
	for i := range out {
		out[i] = pix[i*3+c]
	}
	return out
}

func setPlane(pix []uint8, c int, values []uint8) {
	for i, v := range values {
		pix[i*3+c] = v
	}
}

func clampToByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
