package types

import (
	"context"
	"image"

	"optimus-console-go/internal/frame"
)

// Event is a result produced off the UI loop. Workers only ever create
// events; the console consumes them one at a time.
type Event interface {
	isEvent()
}

type FrameArrived struct {
	Frame *frame.Frame
}

type StreamConnected struct {
	URL string
}

// StreamError reports a transport fault on the observation stream. The
// stream may still be open.
type StreamError struct {
	Err error
}

type StreamClosed struct {
	Err error
}

type CommandCompleted struct {
	ID   string
	Task Task
	Text string
	Err  error
	// Box is set for grounding replies that carry a rectangle.
	Box *image.Rectangle
}

// ResetCompleted carries the decoded observation returned by a reset. Frame
// is nil when the server returned none or it failed to decode.
type ResetCompleted struct {
	Frame *frame.Frame
	Err   error
}

type PauseCompleted struct {
	Err error
}

type ResumeCompleted struct {
	Err error
}

type StatusChecked struct {
	Running bool
	Err     error
}

type InitialText struct {
	Text string
	Err  error
}

// Diagnostic is the answer to an operator query such as /gpu.
type Diagnostic struct {
	Name string
	Text string
	Err  error
}

func (FrameArrived) isEvent()     {}
func (StreamConnected) isEvent()  {}
func (StreamError) isEvent()      {}
func (StreamClosed) isEvent()     {}
func (CommandCompleted) isEvent() {}
func (ResetCompleted) isEvent()   {}
func (PauseCompleted) isEvent()   {}
func (ResumeCompleted) isEvent()  {}
func (StatusChecked) isEvent()    {}
func (InitialText) isEvent()      {}
func (Diagnostic) isEvent()       {}

// Deliver blocks until the event is accepted or ctx is done.
func Deliver(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Offer hands the event over only if there is room. Used for frames, where
// loss is tolerable and the producer must not stall.
func Offer(events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	default:
		return false
	}
}
