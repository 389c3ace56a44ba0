// Package simulator is a stand-in agent server: the same REST routes and
// observation WebSocket as the real one, driven by a synthetic scene. It
// backs offline use of the console and the network tests.
package simulator

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
)

// Scene is a tiny procedural world: sky, ground and one tree that drifts
// across the view as the agent acts.
type Scene struct {
	mu     sync.Mutex
	width  int
	height int
	step   int
	rng    *rand.Rand
	seed   int64
}

func NewScene(width, height int, seed int64) *Scene {
	return &Scene{width: width, height: height, rng: rand.New(rand.NewSource(seed)), seed: seed}
}

func (s *Scene) Advance() {
	s.mu.Lock()
	s.step++
	s.mu.Unlock()
}

func (s *Scene) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Reset starts a new episode with a different layout.
func (s *Scene) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed++
	s.step = 0
	s.rng = rand.New(rand.NewSource(s.seed))
}

// TreeBox is the tree's bounding box in frame pixels, inclusive.
func (s *Scene) TreeBox() (x1, y1, x2, y2 int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treeBoxLocked()
}

func (s *Scene) treeBoxLocked() (int, int, int, int) {
	radius := s.height / 8
	span := s.width - 2*radius
	if span < 1 {
		span = 1
	}
	offset := int(s.seed*97) % span
	cx := radius + (offset+s.step*4)%span
	cy := s.height/2 - radius/2
	return cx - radius, cy - radius, cx + radius, s.height*3/4 - 1
}

func (s *Scene) Render() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	horizon := s.height * 3 / 4
	x1, y1, x2, _ := s.treeBoxLocked()
	radius := float64(x2-x1) / 2
	cx := float64(x1) + radius
	cy := float64(y1) + radius
	trunkHalf := max(1, (x2-x1)/10)

	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			var c color.RGBA
			switch {
			case y < horizon:
				shade := uint8(180 - 80*y/max(1, horizon))
				c = color.RGBA{R: shade / 2, G: shade, B: 235, A: 255}
			default:
				c = color.RGBA{R: 70, G: 140, B: 60, A: 255}
			}

			dx, dy := float64(x)-cx, float64(y)-cy
			if math.Sqrt(dx*dx+dy*dy) <= radius {
				c = color.RGBA{R: 30, G: 110, B: 40, A: 255}
			} else if y > int(cy) && y < horizon && x >= int(cx)-trunkHalf && x <= int(cx)+trunkHalf {
				c = color.RGBA{R: 110, G: 70, B: 30, A: 255}
			}

			noise := s.rng.NormFloat64() * 4
			c.R = clamp(float64(c.R) + noise)
			c.G = clamp(float64(c.G) + noise)
			c.B = clamp(float64(c.B) + noise)
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func clamp(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
