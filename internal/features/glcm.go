package features

import (
	"fmt"
	"math"
	"strings"
)

const (
	glcmLevels = 256
	glcmAngles = 4
	glcmProps  = 4

	// CooccurrenceLen is glcmProps statistics at each of glcmAngles angles.
	CooccurrenceLen = glcmAngles * glcmProps
)

// glcmOffsets are the (row, col) steps for 0°, 45°, 90° and 135° at distance 1.
var glcmOffsets = [glcmAngles][2]int{{0, 1}, {1, 1}, {1, 0}, {1, -1}}

// CooccurrenceOrder fixes how the 4x4 statistics are flattened.
type CooccurrenceOrder int

const (
	// PropertyMajor emits contrast for every angle, then homogeneity,
	// energy and correlation.
	PropertyMajor CooccurrenceOrder = iota
	// AngleMajor emits all four statistics for 0°, then 45°, and so on.
	AngleMajor
)

// ParseCooccurrenceOrder accepts "property-major" or "angle-major".
func ParseCooccurrenceOrder(name string) (CooccurrenceOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "property-major":
		return PropertyMajor, nil
	case "angle-major":
		return AngleMajor, nil
	default:
		return 0, fmt.Errorf("unsupported co-occurrence ordering %q", name)
	}
}

func (o CooccurrenceOrder) String() string {
	if o == AngleMajor {
		return "angle-major"
	}
	return "property-major"
}

// cooccurrenceStats holds contrast, homogeneity, energy and correlation.
type cooccurrenceStats [glcmProps]float64

// GLCM computes texture statistics from symmetric, normalized gray-level
// co-occurrence matrices at distance 1 over four angles.
func GLCM(g *Gray, order CooccurrenceOrder) []float64 {
	levels := g.quantize()
	matrix := make([]float64, glcmLevels*glcmLevels)

	var perAngle [glcmAngles]cooccurrenceStats
	for a, off := range glcmOffsets {
		for i := range matrix {
			matrix[i] = 0
		}
		dr, dc := off[0], off[1]
		var total float64
		for r := max(0, -dr); r < min(g.Height, g.Height-dr); r++ {
			for c := max(0, -dc); c < min(g.Width, g.Width-dc); c++ {
				i := int(levels[r*g.Width+c])
				j := int(levels[(r+dr)*g.Width+c+dc])
				matrix[i*glcmLevels+j]++
				matrix[j*glcmLevels+i]++
				total += 2
			}
		}
		if total > 0 {
			for i := range matrix {
				matrix[i] /= total
			}
		}
		perAngle[a] = computeCooccurrenceStats(matrix)
	}

	out := make([]float64, CooccurrenceLen)
	for a := 0; a < glcmAngles; a++ {
		for p := 0; p < glcmProps; p++ {
			if order == AngleMajor {
				out[a*glcmProps+p] = perAngle[a][p]
			} else {
				out[p*glcmAngles+a] = perAngle[a][p]
			}
		}
	}
	return out
}

func computeCooccurrenceStats(p []float64) cooccurrenceStats {
	var contrast, homogeneity, asm, meanI, meanJ float64
	for i := 0; i < glcmLevels; i++ {
		row := p[i*glcmLevels : (i+1)*glcmLevels]
		for j, v := range row {
			if v == 0 {
				continue
			}
			d := float64(i - j)
			contrast += v * d * d
			homogeneity += v / (1 + d*d)
			asm += v * v
			meanI += float64(i) * v
			meanJ += float64(j) * v
		}
	}

	var varI, varJ, cov float64
	for i := 0; i < glcmLevels; i++ {
		row := p[i*glcmLevels : (i+1)*glcmLevels]
		di := float64(i) - meanI
		for j, v := range row {
			if v == 0 {
				continue
			}
			dj := float64(j) - meanJ
			varI += v * di * di
			varJ += v * dj * dj
			cov += v * di * dj
		}
	}

	stdI, stdJ := math.Sqrt(varI), math.Sqrt(varJ)
	correlation := 1.0
	if stdI >= 1e-15 && stdJ >= 1e-15 {
		correlation = cov / (stdI * stdJ)
	}

	return cooccurrenceStats{contrast, homogeneity, math.Sqrt(asm), correlation}
}
