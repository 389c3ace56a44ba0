package frame

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

var BoxColor = color.RGBA{R: 255, A: 255}

const BoxThickness = 3

// Corners builds the rectangle spanned by two inclusive corner points, in
// any order.
func Corners(x1, y1, x2, y2 int) image.Rectangle {
	r := image.Rect(x1, y1, x2, y2)
	return image.Rect(r.Min.X, r.Min.Y, r.Max.X+1, r.Max.Y+1)
}

// WithRect returns a copy of f with the outline of r drawn over it. The
// stroke is centred on the edges of r and clipped to the frame.
func (f *Frame) WithRect(r image.Rectangle, c color.Color, thickness int) *Frame {
	if thickness < 1 {
		thickness = 1
	}
	dst := image.NewRGBA(f.img.Bounds())
	copy(dst.Pix, f.img.Pix)

	outer := r.Inset(-thickness / 2)
	bands := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+thickness),
		image.Rect(outer.Min.X, outer.Max.Y-thickness, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+thickness, outer.Max.Y),
		image.Rect(outer.Max.X-thickness, outer.Min.Y, outer.Max.X, outer.Max.Y),
	}
	pen := image.NewUniform(c)
	for _, band := range bands {
		band = band.Intersect(dst.Bounds())
		if band.Empty() {
			continue
		}
		xdraw.Draw(dst, band, pen, image.Point{}, xdraw.Src)
	}
	return &Frame{img: dst, source: SourceAnnotation, received: f.received}
}
