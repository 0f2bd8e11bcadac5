package media

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

const (
	nlmTemplateWindow = 7
	nlmSearchWindow   = 21
)

func mean(values []uint8) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

func stddev(values []uint8) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var acc float64
	for _, v := range values {
		d := float64(v) - m
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(values)))
}

// percentile uses linear interpolation between closest ranks, computed from
// a histogram since the values are bytes.
func percentile(values []uint8, p float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	var hist [256]int
	for _, v := range values {
		hist[v]++
	}
	valueAtRank := func(rank int) float64 {
		seen := 0
		for v, c := range hist {
			seen += c
			if seen > rank {
				return float64(v)
			}
		}
		return 255
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	lv := valueAtRank(lo)
	if frac == 0 || lo+1 >= n {
		return lv
	}
	hv := valueAtRank(lo + 1)
	return lv + (hv-lv)*frac
}

// applyCLAHE equalizes the L channel of the Lab representation and returns the
// ratio of output to input luminance standard deviation.
func applyCLAHE(buf *ImageBuffer, clipLimit float64, tileSize int) (*ImageBuffer, float64, error) {
	var (
		out   *ImageBuffer
		ratio float64
	)
	err := buf.withMat(func(src gocv.Mat) error {
		lab := gocv.NewMat()
		defer lab.Close()
		gocv.CvtColor(src, &lab, gocv.ColorBGRToLab)
		if lab.Empty() {
			return fmt.Errorf("BGR to Lab conversion produced no data")
		}

		channels := gocv.Split(lab)
		defer func() {
			for _, c := range channels {
				c.Close()
			}
		}()

		clahe := gocv.NewCLAHEWithParams(clipLimit, image.Pt(tileSize, tileSize))
		defer clahe.Close()
		equalized := gocv.NewMat()
		defer equalized.Close()
		clahe.Apply(channels[0], &equalized)
		if equalized.Empty() {
			return fmt.Errorf("CLAHE produced no data")
		}

		if before := stddev(channels[0].ToBytes()); before > 0 {
			ratio = stddev(equalized.ToBytes()) / before
		} else {
			ratio = 1
		}

		merged := gocv.NewMat()
		defer merged.Close()
		gocv.Merge([]gocv.Mat{equalized, channels[1], channels[2]}, &merged)

		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(merged, &bgr, gocv.ColorLabToBGR)
		if bgr.Empty() {
			return fmt.Errorf("Lab to BGR conversion produced no data")
		}
		var err error
		out, err = fromMat(bgr)
		return err
	})
	return out, ratio, err
}

// applyGrayWorld scales each channel so its mean moves to the common gray
// level. A channel with zero mean is left alone.
func applyGrayWorld(buf *ImageBuffer) (*ImageBuffer, [3]float64) {
	var sums [3]float64
	for i := 0; i < len(buf.Pix); i += 3 {
		sums[0] += float64(buf.Pix[i])
		sums[1] += float64(buf.Pix[i+1])
		sums[2] += float64(buf.Pix[i+2])
	}
	n := float64(len(buf.Pix) / 3)
	var avg, scale [3]float64
	for c := range avg {
		avg[c] = sums[c] / n
	}
	gray := (avg[0] + avg[1] + avg[2]) / 3
	for c := range scale {
		if avg[c] > 0 {
			scale[c] = gray / avg[c]
		} else {
			scale[c] = 1
		}
	}

	out := buf.Clone()
	for i := range out.Pix {
		out.Pix[i] = clampToByte(float64(out.Pix[i]) * scale[i%3])
	}
	return out, scale
}

// remapBrightness stretches v so that its low/high percentiles move toward
// 255*low/100 and 255*high/100, damped by strength. ok is false when the
// current range is empty or strength is zero, in which case v is returned
// as-is.
func remapBrightness(v []uint8, lowPct, highPct, strength float64) (out []uint8, delta float64, ok bool) {
	if strength == 0 || len(v) == 0 {
		return v, 0, false
	}
	curLow, curHigh := percentile(v, lowPct), percentile(v, highPct)
	if curHigh-curLow <= 0 {
		return v, 0, false
	}
	targetLow, targetHigh := 255*lowPct/100, 255*highPct/100

	scale := (targetHigh - targetLow) / (curHigh - curLow)
	offset := targetLow - curLow*scale
	scaleAdj := 1 + (scale-1)*strength
	offsetAdj := offset * strength

	out = make([]uint8, len(v))
	var before, after float64
	for i, x := range v {
		f := float64(x)*scaleAdj + offsetAdj
		f = math.Max(0, math.Min(255, f))
		before += float64(x)
		after += f
		out[i] = uint8(f)
	}
	n := float64(len(v))
	return out, (after - before) / n / 255, true
}

// hsvRoundTrip converts to HSV, lets edit rewrite the planes, and converts back.
func hsvRoundTrip(buf *ImageBuffer, edit func(hsv []uint8)) (*ImageBuffer, error) {
	var out *ImageBuffer
	err := buf.withMat(func(src gocv.Mat) error {
		hsv := gocv.NewMat()
		defer hsv.Close()
		gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)
		if hsv.Empty() {
			return fmt.Errorf("BGR to HSV conversion produced no data")
		}
		pix := hsv.ToBytes()
		edit(pix)

		edited, err := gocv.NewMatFromBytes(hsv.Rows(), hsv.Cols(), gocv.MatTypeCV8UC3, pix)
		if err != nil {
			return fmt.Errorf("failed to wrap HSV buffer: %w", err)
		}
		defer edited.Close()

		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(edited, &bgr, gocv.ColorHSVToBGR)
		if bgr.Empty() {
			return fmt.Errorf("HSV to BGR conversion produced no data")
		}
		out, err = fromMat(bgr)
		return err
	})
	return out, err
}

// valuePlane is the HSV V channel, which for 8-bit input is max(B, G, R).
func valuePlane(buf *ImageBuffer) []uint8 {
	v := make([]uint8, len(buf.Pix)/3)
	for i := range v {
		b, g, r := buf.Pix[i*3], buf.Pix[i*3+1], buf.Pix[i*3+2]
		v[i] = max(b, g, r)
	}
	return v
}

func applyBrightness(buf *ImageBuffer, lowPct, highPct, strength float64) (*ImageBuffer, float64, bool, error) {
	remapped, delta, ok := remapBrightness(valuePlane(buf), lowPct, highPct, strength)
	if !ok {
		return buf, 0, false, nil
	}
	out, err := hsvRoundTrip(buf, func(hsv []uint8) {
		setPlane(hsv, 2, remapped)
	})
	if err != nil {
		return nil, 0, false, err
	}
	return out, delta, true, nil
}

func applySaturation(buf *ImageBuffer, factor float64) (*ImageBuffer, error) {
	return hsvRoundTrip(buf, func(hsv []uint8) {
		for i := 1; i < len(hsv); i += 3 {
			hsv[i] = clampToByte(float64(hsv[i]) * factor)
		}
	})
}

func applyDenoise(buf *ImageBuffer, strength float64) (*ImageBuffer, error) {
	var out *ImageBuffer
	err := buf.withMat(func(src gocv.Mat) error {
		dst := gocv.NewMat()
		defer dst.Close()
		h := float32(strength)
		gocv.FastNlMeansDenoisingColoredWithParams(src, &dst, h, h, nlmTemplateWindow, nlmSearchWindow)
		if dst.Empty() {
			return fmt.Errorf("non-local means denoise produced no data")
		}
		var err error
		out, err = fromMat(dst)
		return err
	})
	return out, err
}

// applyUnsharpMask computes image*(1+amount) - blur(image, radius)*amount.
func applyUnsharpMask(buf *ImageBuffer, radius, amount float64) *ImageBuffer {
	blurred := imaging.Blur(buf.NRGBA(), radius)
	out := NewImageBuffer(buf.Width, buf.Height)
	for i, j := 0, 0; i < len(buf.Pix); i, j = i+3, j+4 {
		// blurred is RGBA, buffer is BGR
		for c := 0; c < 3; c++ {
			orig := float64(buf.Pix[i+c])
			blur := float64(blurred.Pix[j+2-c])
			out.Pix[i+c] = clampToByte(math.Round(orig*(1+amount) - blur*amount))
		}
	}
	return out
}
