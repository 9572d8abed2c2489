package features

import (
	"fmt"
	"image"
	"math"
	"strings"
)

const (
	colorChannels = 3
	colorBins     = 21

	// ColorLen is colorBins per H, S and V channel.
	ColorLen = colorChannels * colorBins

	hsvShift = 12
	hueRange = 180
)

// ColorNorm selects the per-channel histogram normalization.
type ColorNorm int

const (
	// NormL2 scales each channel to unit Euclidean length.
	NormL2 ColorNorm = iota
	// NormL1 scales each channel to unit sum.
	NormL1
	// NormMax scales each channel so its largest bin is 1.
	NormMax
)

// ParseColorNorm accepts "l2", "l1" or "max".
func ParseColorNorm(name string) (ColorNorm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "l2":
		return NormL2, nil
	case "l1":
		return NormL1, nil
	case "max":
		return NormMax, nil
	default:
		return 0, fmt.Errorf("unsupported color normalization %q", name)
	}
}

func (n ColorNorm) String() string {
	switch n {
	case NormL1:
		return "l1"
	case NormMax:
		return "max"
	default:
		return "l2"
	}
}

// Fixed-point reciprocal tables of the 8-bit RGB to HSV conversion.
var sdivTable, hdivTable = func() ([256]int32, [256]int32) {
	var sdiv, hdiv [256]int32
	for i := 1; i < 256; i++ {
		sdiv[i] = int32(math.RoundToEven(float64(255<<hsvShift) / float64(i)))
		hdiv[i] = int32(math.RoundToEven(float64(hueRange<<hsvShift) / (6 * float64(i))))
	}
	return sdiv, hdiv
}()

// hsv8 converts an 8-bit RGB triple to 8-bit HSV with H in [0,180).
func hsv8(r, g, b uint8) (h, s, v uint8) {
	ri, gi, bi := int32(r), int32(g), int32(b)
	vmax := max(ri, gi, bi)
	vmin := min(ri, gi, bi)
	diff := vmax - vmin

	const half = 1 << (hsvShift - 1)
	sat := (diff*sdivTable[vmax] + half) >> hsvShift

	var hue int32
	switch vmax {
	case ri:
		hue = gi - bi
	case gi:
		hue = bi - ri + 2*diff
	default:
		hue = ri - gi + 4*diff
	}
	hue = (hue*hdivTable[diff] + half) >> hsvShift
	if hue < 0 {
		hue += hueRange
	}
	return clampUint8(hue), uint8(sat), uint8(vmax)
}

func clampUint8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// ColorHistogram returns 21-bin H, S and V histograms, each normalized on
// its own, concatenated channel-major. Bins are accumulated in float32.
func ColorHistogram(img *image.RGBA, norm ColorNorm) []float64 {
	var counts [colorChannels][colorBins]float32

	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[(y+b.Min.Y-img.Rect.Min.Y)*img.Stride+(b.Min.X-img.Rect.Min.X)*4:]
		for x := 0; x < b.Dx(); x++ {
			i := x * 4
			h, s, v := hsv8(row[i], row[i+1], row[i+2])
			counts[0][colorBin(h)]++
			counts[1][colorBin(s)]++
			counts[2][colorBin(v)]++
		}
	}

	out := make([]float64, 0, ColorLen)
	for ch := range counts {
		normalizeChannel(counts[ch][:], norm)
		for _, v := range counts[ch] {
			out = append(out, float64(v))
		}
	}
	return out
}

// colorBin places an 8-bit value into one of colorBins uniform bins over [0,256).
func colorBin(v uint8) int {
	return int(v) * colorBins / 256
}

// normalizeChannel rescales hist in place. The norm is computed in float64
// and applied as a float32 factor; an all-zero channel is left untouched.
func normalizeChannel(hist []float32, norm ColorNorm) {
	var size float64
	for _, v := range hist {
		x := float64(v)
		switch norm {
		case NormL1:
			size += math.Abs(x)
		case NormMax:
			size = math.Max(size, math.Abs(x))
		default:
			size += x * x
		}
	}
	if norm == NormL2 {
		size = math.Sqrt(size)
	}
	if size == 0 {
		return
	}
	scale := float32(1 / size)
	for i := range hist {
		hist[i] *= scale
	}
}
