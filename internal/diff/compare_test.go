package diff

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestCompareIdentical(t *testing.T) {
	a := solid(10, 10, color.White)
	cmp, err := Compare(a, solid(10, 10, color.White), 0.1)
	require.NoError(t, err)
	assert.Zero(t, cmp.Mismatched)
	assert.Equal(t, 100, cmp.Total)
	assert.Zero(t, cmp.Ratio())
	assert.Empty(t, Regions(cmp.Diff))
}

func TestCompareSinglePixelRegion(t *testing.T) {
	base := solid(40, 30, color.White)
	cur := solid(40, 30, color.White)
	cur.Set(17, 9, color.Black)

	cmp, err := Compare(base, cur, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp.Mismatched)
	assert.InDelta(t, 1.0/1200, cmp.Ratio(), 1e-12)

	regions := Regions(cmp.Diff)
	require.Len(t, regions, 1)
	assert.True(t, regions[0].Contains(17, 9))
	assert.GreaterOrEqual(t, regions[0].Area(), 1)
	assert.Equal(t, Region{X: 17, Y: 9, Width: 1, Height: 1}, regions[0])
}

func TestCompareMergesDisjointChanges(t *testing.T) {
	base := solid(20, 20, color.White)
	cur := solid(20, 20, color.White)
	cur.Set(2, 3, color.Black)
	cur.Set(15, 12, color.Black)

	cmp, err := Compare(base, cur, 0)
	require.NoError(t, err)
	assert.Equal(t, []Region{{X: 2, Y: 3, Width: 14, Height: 10}}, Regions(cmp.Diff))
}

func TestCompareThresholdMonotonic(t *testing.T) {
	base := solid(16, 16, color.White)
	cur := solid(16, 16, color.White)
	// A gradient of small to large differences.
	for x := 0; x < 16; x++ {
		v := uint8(255 - x*16)
		cur.Set(x, 4, color.RGBA{R: v, G: v, B: v, A: 255})
	}

	prev := -1
	for _, th := range []float64{0.9, 0.5, 0.3, 0.1, 0.05, 0} {
		cmp, err := Compare(base, cur, th)
		require.NoError(t, err)
		if prev >= 0 {
			assert.GreaterOrEqual(t, cmp.Mismatched, prev, "threshold %v", th)
		}
		prev = cmp.Mismatched
	}

	low, err := Compare(base, cur, 0.1)
	require.NoError(t, err)
	high, err := Compare(base, cur, 0.9)
	require.NoError(t, err)
	assert.LessOrEqual(t, high.Mismatched, low.Mismatched)
	assert.Less(t, high.Mismatched, low.Mismatched)
}

func TestCompareBlendsAlphaOnWhite(t *testing.T) {
	base := solid(4, 4, color.White)
	transparent := image.NewRGBA(image.Rect(0, 0, 4, 4))
	cmp, err := Compare(base, transparent, 0)
	require.NoError(t, err)
	assert.Zero(t, cmp.Mismatched, "fully transparent renders as white")
}

func TestCompareDimensionMismatch(t *testing.T) {
	_, err := Compare(solid(10, 10, color.White), solid(10, 11, color.White), 0.1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCompareRejectsThreshold(t *testing.T) {
	_, err := Compare(solid(1, 1, color.White), solid(1, 1, color.White), 1.5)
	assert.Error(t, err)
}

func TestDiffImageIsTransparentExceptMismatches(t *testing.T) {
	base := solid(5, 5, color.White)
	cur := solid(5, 5, color.White)
	cur.Set(1, 1, color.Black)

	cmp, err := Compare(base, cur, 0.1)
	require.NoError(t, err)
	hit := cmp.Diff.NRGBAAt(1, 1)
	assert.Equal(t, uint8(255), hit.R)
	assert.NotZero(t, hit.A)
	assert.Zero(t, cmp.Diff.NRGBAAt(0, 0).A)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No visual changes detected.", Summarize(nil, 100, 100))
	got := Summarize([]Region{{X: 70, Y: 10, Width: 10, Height: 10}}, 100, 100)
	assert.Equal(t, "1 changed region; largest (10x10 at 70,10) is in the top-right of the viewport.", got)
	got = Summarize([]Region{{X: 0, Y: 0, Width: 2, Height: 2}, {X: 5, Y: 80, Width: 20, Height: 10}}, 100, 100)
	assert.Contains(t, got, "2 changed regions")
	assert.Contains(t, got, "bottom-left")
}
