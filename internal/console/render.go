package console

import (
	"image/color"
	"io"
	"strings"

	"github.com/muesli/termenv"

	"optimus-console-go/internal/frame"
)

const halfBlock = "▀"

// renderFrame draws f into a cols x rows cell area with half blocks: each
// cell is two vertically stacked pixels, top in the foreground colour and
// bottom in the background. Aspect ratio is preserved, so the result may
// be narrower or shorter than the area.
func renderFrame(f *frame.Frame, cols, rows int, profile termenv.Profile) []string {
	if f == nil || cols <= 0 || rows <= 0 {
		return nil
	}
	// Terminal cells are roughly twice as tall as wide, which the half
	// block compensates for: one cell is one pixel wide and two tall.
	w, h := frame.FitSize(f.Width(), f.Height(), cols, rows*2)
	if w == 0 || h == 0 {
		return nil
	}
	scaled := f.Resize(w, h)
	if profile == termenv.Ascii {
		return renderRamp(scaled)
	}
	out := termenv.NewOutput(io.Discard, termenv.WithProfile(profile))

	lines := make([]string, 0, (h+1)/2)
	var b strings.Builder
	for y := 0; y < h; y += 2 {
		b.Reset()
		for x := 0; x < w; x++ {
			cell := out.String(halfBlock).Foreground(profile.FromColor(scaled.RGBAAt(x, y)))
			if y+1 < h {
				cell = cell.Background(profile.FromColor(scaled.RGBAAt(x, y+1)))
			}
			b.WriteString(cell.String())
		}
		lines = append(lines, b.String())
	}
	return lines
}

const ramp = " .:-=+*#%@"

// renderRamp is the colourless fallback: one character per cell, chosen
// by the brightness of the cell's two pixels.
func renderRamp(f *frame.Frame) []string {
	w, h := f.Width(), f.Height()
	lines := make([]string, 0, (h+1)/2)
	row := make([]byte, w)
	for y := 0; y < h; y += 2 {
		for x := 0; x < w; x++ {
			l := luminance(f.RGBAAt(x, y))
			if y+1 < h {
				l = (l + luminance(f.RGBAAt(x, y+1))) / 2
			}
			row[x] = ramp[int(l/256*float64(len(ramp)))]
		}
		lines = append(lines, string(row))
	}
	return lines
}

func luminance(c color.RGBA) float64 {
	return 0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)
}
