package diff

import (
	"bytes"
	"image"
	"image/color"

	"github.com/fogleman/gg"
)

// RenderOverlay draws the diff mask and an outline of each region over the
// current capture and returns the PNG.
func RenderOverlay(current image.Image, mask *image.NRGBA, regions []Region) ([]byte, error) {
	dc := gg.NewContextForImage(current)
	dc.DrawImage(mask, 0, 0)

	dc.SetColor(color.RGBA{R: 255, G: 0, B: 0, A: 255})
	dc.SetLineWidth(2)
	for _, r := range regions {
		dc.DrawRectangle(float64(r.X)-1, float64(r.Y)-1, float64(r.Width)+2, float64(r.Height)+2)
		dc.Stroke()
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
