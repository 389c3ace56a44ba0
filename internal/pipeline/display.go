package pipeline

import (
	"image"

	"optimus-console-go/internal/frame"
)

// Display is the render side of the pipeline: the frame buffer plus the
// last shown frame. It belongs to the UI loop and is not safe for
// concurrent use.
type Display struct {
	buf     *frame.Buffer
	last    *frame.Frame
	metrics *Metrics
}

func NewDisplay(capacity int, metrics *Metrics) *Display {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Display{buf: frame.NewBuffer(capacity), metrics: metrics}
}

// Push queues a frame for display. The last shown frame is not touched.
func (d *Display) Push(f *frame.Frame) {
	if d.buf.Push(f) {
		d.metrics.bufferEvictions.Add(1)
	}
}

// Tick advances the display by one frame: the oldest buffered frame, or the
// last shown one again when nothing is queued. The result is nil only
// before the first frame has ever arrived.
func (d *Display) Tick() *frame.Frame {
	d.metrics.ticks.Add(1)
	if f, ok := d.buf.Pop(); ok {
		d.last = f
		return f
	}
	d.metrics.repeatedTicks.Add(1)
	return d.last
}

// Clear drops queued frames and the last shown frame.
func (d *Display) Clear() {
	d.buf.Clear()
	d.last = nil
}

// Install makes f the frame on screen and queues it, so the next tick shows
// it even if the buffer was empty.
func (d *Display) Install(f *frame.Frame) {
	if f == nil {
		return
	}
	d.last = f
	d.Push(f)
}

// Annotate draws r onto a copy of the last shown frame and shows the copy.
// Queued frames are left as they are. It reports false when there is no
// frame to draw on.
func (d *Display) Annotate(r image.Rectangle) bool {
	if d.last == nil {
		return false
	}
	d.last = d.last.WithRect(r, frame.BoxColor, frame.BoxThickness)
	return true
}

func (d *Display) Last() *frame.Frame {
	return d.last
}

func (d *Display) Buffered() int {
	return d.buf.Len()
}

func (d *Display) Capacity() int {
	return d.buf.Cap()
}
