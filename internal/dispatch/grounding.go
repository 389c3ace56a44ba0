package dispatch

import (
	"image"
	"regexp"
	"strconv"

	"optimus-console-go/internal/frame"
)

var numberPattern = regexp.MustCompile(`\d+`)

// Box is a grounding answer in frame pixels, corners inclusive.
type Box struct {
	X1, Y1, X2, Y2 int
}

func (b Box) Rect() image.Rectangle {
	return frame.Corners(b.X1, b.Y1, b.X2, b.Y2)
}

// ParseGroundingBox pulls a box out of a grounding reply. The reply's first
// number is not a coordinate (typically an object index); the next four are
// x1 y1 x2 y2. Anything shorter yields no box.
func ParseGroundingBox(text string) (Box, bool) {
	tokens := numberPattern.FindAllString(text, -1)
	if len(tokens) < 5 {
		return Box{}, false
	}
	var coords [4]int
	for i := range coords {
		n, err := strconv.Atoi(tokens[i+1])
		if err != nil {
			return Box{}, false
		}
		coords[i] = n
	}
	return Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, true
}
