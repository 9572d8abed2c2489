package features

import "math"

const (
	lbpPoints = 8
	lbpRadius = 1

	// TextureLen is the number of distinct non-rotation-invariant uniform
	// codes for 8 sample points.
	TextureLen = lbpPoints*(lbpPoints-1) + 3

	histogramEpsilon = 1e-6
)

// LBPOptions tunes the local binary pattern pass.
type LBPOptions struct {
	// PadBorder evaluates every pixel and reads samples outside the raster
	// as 0. When false, pixels closer than the radius to an edge are skipped.
	PadBorder bool
}

// lbpOffsets holds the (row, col) displacement of each sample point, rounded
// to 5 decimals so axis-aligned samples land exactly on pixel centers.
var lbpOffsets = func() [lbpPoints][2]float64 {
	var out [lbpPoints][2]float64
	for p := 0; p < lbpPoints; p++ {
		angle := 2 * math.Pi * float64(p) / lbpPoints
		out[p][0] = round5(-lbpRadius * math.Sin(angle))
		out[p][1] = round5(lbpRadius * math.Cos(angle))
	}
	return out
}()

func round5(v float64) float64 {
	return math.RoundToEven(v*1e5) / 1e5
}

// LBP computes the normalized 59-bin histogram of P=8, R=1 uniform
// (non-rotation-invariant) local binary pattern codes.
func LBP(g *Gray, opts LBPOptions) []float64 {
	hist := make([]float64, TextureLen)

	border := lbpRadius
	if opts.PadBorder {
		border = 0
	}

	var bits [lbpPoints]bool
	for r := border; r < g.Height-border; r++ {
		for c := border; c < g.Width-border; c++ {
			center := g.Pix[r*g.Width+c]
			for p, off := range lbpOffsets {
				bits[p] = g.bilinear(float64(r)+off[0], float64(c)+off[1])-center >= 0
			}
			hist[nriUniformCode(bits)]++
		}
	}

	var sum float64
	for _, v := range hist {
		sum += v
	}
	for i := range hist {
		hist[i] /= sum + histogramEpsilon
	}
	return hist
}

// bilinear interpolates the raster at a fractional position.
func (g *Gray) bilinear(r, c float64) float64 {
	minR, maxR := math.Floor(r), math.Ceil(r)
	minC, maxC := math.Floor(c), math.Ceil(c)
	dr := r - minR
	dc := c - minC

	topLeft := g.pixel(int(minR), int(minC))
	topRight := g.pixel(int(minR), int(maxC))
	bottomLeft := g.pixel(int(maxR), int(minC))
	bottomRight := g.pixel(int(maxR), int(maxC))

	top := (1-dc)*topLeft + dc*topRight
	bottom := (1-dc)*bottomLeft + dc*bottomRight
	return (1-dr)*top + dr*bottom
}

// nriUniformCode maps a thresholded neighborhood to one of 59 codes.
// Transitions are counted along the open chain 0..P-1; patterns with at most
// two of them are uniform and encoded by their number of ones and rotation.
func nriUniformCode(bits [lbpPoints]bool) int {
	changes := 0
	for i := 0; i < lbpPoints-1; i++ {
		if bits[i] != bits[i+1] {
			changes++
		}
	}
	if changes > 2 {
		return lbpPoints*(lbpPoints-1) + 2
	}

	ones, firstOne, firstZero := 0, -1, -1
	for i, set := range bits {
		if set {
			ones++
			if firstOne == -1 {
				firstOne = i
			}
		} else if firstZero == -1 {
			firstZero = i
		}
	}

	switch ones {
	case 0:
		return 0
	case lbpPoints:
		return lbpPoints*(lbpPoints-1) + 1
	}

	var rot int
	if firstOne == 0 {
		rot = ones - firstZero
	} else {
		rot = lbpPoints - firstOne
	}
	return 1 + (ones-1)*lbpPoints + rot
}
