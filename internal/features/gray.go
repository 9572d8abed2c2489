package features

import "image"

// Luminance weights applied to [0,1] scaled RGB channels.
const (
	lumaR = 0.2125
	lumaG = 0.7154
	lumaB = 0.0721
)

// Gray is a row-major luminance raster with values in [0,1].
type Gray struct {
	Width  int
	Height int
	Pix    []float64
}

// Grayscale converts an RGB raster to luminance.
func Grayscale(img *image.RGBA) *Gray {
	b := img.Bounds()
	g := &Gray{Width: b.Dx(), Height: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.Height; y++ {
		row := img.Pix[(y+b.Min.Y-img.Rect.Min.Y)*img.Stride+(b.Min.X-img.Rect.Min.X)*4:]
		for x := 0; x < g.Width; x++ {
			i := x * 4
			r := float64(row[i]) / 255
			gr := float64(row[i+1]) / 255
			bl := float64(row[i+2]) / 255
			g.Pix[y*g.Width+x] = lumaR*r + lumaG*gr + lumaB*bl
		}
	}
	return g
}

// pixel returns the value at (row, col), or 0 outside the raster.
func (g *Gray) pixel(row, col int) float64 {
	if row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return 0
	}
	return g.Pix[row*g.Width+col]
}

// quantize maps [0,1] luminance onto 256 integer levels by truncation.
func (g *Gray) quantize() []uint8 {
	out := make([]uint8, len(g.Pix))
	for i, v := range g.Pix {
		out[i] = uint8(v * 255)
	}
	return out
}
