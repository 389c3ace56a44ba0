// Package frame holds decoded observation rasters and the bounded queue
// that sits between the network and the display tick.
package frame

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"time"

	xdraw "golang.org/x/image/draw"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 360
)

// Source records where a frame came from.
type Source string

const (
	SourceStream     Source = "stream"
	SourceBootstrap  Source = "bootstrap"
	SourceReset      Source = "reset"
	SourceAnnotation Source = "annotation"
)

// Frame is an immutable RGBA raster. Nothing in this package writes to the
// pixels of a Frame after New returns, so frames may cross goroutines freely.
type Frame struct {
	img      *image.RGBA
	source   Source
	received time.Time
}

// New copies img into a fresh RGBA raster.
func New(img image.Image, source Source) *Frame {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, bounds.Min, xdraw.Src)
	return &Frame{img: dst, source: source, received: time.Now()}
}

func (f *Frame) Width() int {
	return f.img.Bounds().Dx()
}

func (f *Frame) Height() int {
	return f.img.Bounds().Dy()
}

func (f *Frame) Size() image.Point {
	return f.img.Bounds().Size()
}

func (f *Frame) Source() Source {
	return f.source
}

func (f *Frame) Received() time.Time {
	return f.received
}

func (f *Frame) RGBAAt(x, y int) color.RGBA {
	return f.img.RGBAAt(x, y)
}

// Resize scales to exactly width×height, ignoring aspect ratio.
func (f *Frame) Resize(width, height int) *Frame {
	if width <= 0 || height <= 0 {
		return f
	}
	if f.Width() == width && f.Height() == height {
		return f
	}
	return &Frame{img: scale(f.img, width, height), source: f.source, received: f.received}
}

// Fit scales to the largest size that fits inside width×height while
// keeping the aspect ratio.
func (f *Frame) Fit(width, height int) *Frame {
	w, h := FitSize(f.Width(), f.Height(), width, height)
	return f.Resize(w, h)
}

// FitSize returns the aspect-preserving size of srcW×srcH inside
// maxW×maxH. Both results are at least 1.
func FitSize(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxW <= 0 || maxH <= 0 {
		return 0, 0
	}
	w := srcW * maxH / srcH
	h := maxH
	if w > maxW {
		w = maxW
		h = srcH * maxW / srcW
	}
	return max(w, 1), max(h, 1)
}

func (f *Frame) EncodePNG(w io.Writer) error {
	return png.Encode(w, f.img)
}

func scale(src *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
