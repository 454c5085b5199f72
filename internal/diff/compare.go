// Package diff compares screenshots pixel by pixel and maintains the
// baseline pointer and manifest under .canvas/diffs.
package diff

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// maxYIQDelta is the largest possible YIQ distance between two pixels.
const maxYIQDelta = 35215.0

// ErrDimensionMismatch is returned when the two images differ in size.
var ErrDimensionMismatch = errors.New("diff: image dimensions differ")

// Comparison is the outcome of comparing two same-sized images.
type Comparison struct {
	Mismatched int
	Total      int
	// Diff is transparent except for mismatched pixels, painted red with
	// alpha proportional to their delta.
	Diff *image.NRGBA
}

// Ratio is Mismatched / Total, or 0 for an empty image.
func (c Comparison) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Mismatched) / float64(c.Total)
}

// Compare counts pixels whose perceptual YIQ delta exceeds
// maxYIQDelta*threshold². Raising threshold never raises the count.
func Compare(baseline, current image.Image, threshold float64) (Comparison, error) {
	if threshold < 0 || threshold > 1 {
		return Comparison{}, fmt.Errorf("threshold %v outside [0,1]", threshold)
	}
	bb, cb := baseline.Bounds(), current.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return Comparison{}, fmt.Errorf("%w: baseline %dx%d, current %dx%d",
			ErrDimensionMismatch, bb.Dx(), bb.Dy(), cb.Dx(), cb.Dy())
	}

	w, h := bb.Dx(), bb.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	limit := maxYIQDelta * threshold * threshold
	mismatched := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := colorDelta(baseline.At(bb.Min.X+x, bb.Min.Y+y), current.At(cb.Min.X+x, cb.Min.Y+y))
			if d > limit {
				mismatched++
				out.SetNRGBA(x, y, color.NRGBA{R: 255, A: deltaAlpha(d)})
			}
		}
	}
	return Comparison{Mismatched: mismatched, Total: w * h, Diff: out}, nil
}

func deltaAlpha(d float64) uint8 {
	a := 64 + 191*d/maxYIQDelta
	if a > 255 {
		a = 255
	}
	return uint8(a)
}

// colorDelta is the squared YIQ distance used by pixelmatch, with both
// pixels alpha-blended onto white first.
func colorDelta(a, b color.Color) float64 {
	r1, g1, b1 := blendWhite(a)
	r2, g2, b2 := blendWhite(b)
	if r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}
	dy := rgb2y(r1, g1, b1) - rgb2y(r2, g2, b2)
	di := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	dq := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)
	return 0.5053*dy*dy + 0.299*di*di + 0.1957*dq*dq
}

func blendWhite(c color.Color) (r, g, b float64) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	alpha := float64(n.A) / 255
	blend := func(v uint8) float64 { return 255 + (float64(v)-255)*alpha }
	return blend(n.R), blend(n.G), blend(n.B)
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }
