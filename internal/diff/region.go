package diff

import (
	"fmt"
	"image"
)

// Region is an axis-aligned box in image pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area is Width * Height.
func (r Region) Area() int { return r.Width * r.Height }

// Contains reports whether pixel (x, y) lies inside r.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Regions returns one bounding box spanning every pixel of img with non-zero
// alpha, or an empty slice when there is none. Disjoint changes are merged
// into that single box.
func Regions(img *image.NRGBA) []Region {
	b := img.Bounds()
	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := b.Min.X; x < b.Max.X; x++ {
			if row[(x-b.Min.X)*4+3] == 0 {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return []Region{}
	}
	return []Region{{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}}
}

// Summarize names the region count and the largest region's quadrant
// relative to the centre of a width x height viewport.
func Summarize(regions []Region, width, height int) string {
	if len(regions) == 0 {
		return "No visual changes detected."
	}
	largest := regions[0]
	for _, r := range regions[1:] {
		if r.Area() > largest.Area() {
			largest = r
		}
	}
	noun := "region"
	if len(regions) != 1 {
		noun = "regions"
	}
	return fmt.Sprintf("%d changed %s; largest (%dx%d at %d,%d) is in the %s of the viewport.",
		len(regions), noun, largest.Width, largest.Height, largest.X, largest.Y,
		quadrant(largest, width, height))
}

func quadrant(r Region, width, height int) string {
	cx := float64(r.X) + float64(r.Width)/2
	cy := float64(r.Y) + float64(r.Height)/2
	vertical := "top"
	if cy >= float64(height)/2 {
		vertical = "bottom"
	}
	horizontal := "left"
	if cx >= float64(width)/2 {
		horizontal = "right"
	}
	return vertical + "-" + horizontal
}
