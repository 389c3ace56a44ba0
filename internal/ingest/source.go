// Package ingest provides the long-lived observation stream sources. A
// source only reads; it never sends anything to the agent.
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Payload is one observation as it came off the wire. Encoded holds the
// base64 form pushed over the WebSocket; Raw holds undecorated image bytes
// from transports that carry binary.
type Payload struct {
	Encoded string
	Raw     []byte
}

func (p Payload) Empty() bool {
	return p.Encoded == "" && len(p.Raw) == 0
}

func (p Payload) Size() int {
	if len(p.Raw) > 0 {
		return len(p.Raw)
	}
	return len(p.Encoded)
}

// Handler receives stream callbacks. Calls come from the source's own
// goroutine, one at a time.
type Handler interface {
	OnConnect()
	OnFrame(Payload)
	OnError(error)
	OnClose(error)
}

// Source runs until ctx is cancelled or, without reconnection, until the
// connection drops.
type Source interface {
	Run(ctx context.Context, handler Handler) error
	Describe() string
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect func()
	Frame   func(Payload)
	Error   func(error)
	Close   func(error)
}

func (h HandlerFuncs) OnConnect() {
	if h.Connect != nil {
		h.Connect()
	}
}

func (h HandlerFuncs) OnFrame(p Payload) {
	if h.Frame != nil {
		h.Frame(p)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h HandlerFuncs) OnClose(err error) {
	if h.Close != nil {
		h.Close(err)
	}
}

// throttle logs every Nth call so a flood of bad messages cannot drown the
// log file.
type throttle struct {
	every   uint64
	counter atomic.Uint64
}

func newThrottle(every int) *throttle {
	if every < 1 {
		every = 1
	}
	return &throttle{every: uint64(every)}
}

func (t *throttle) log(logger *zap.Logger, format string, args ...any) {
	if t.counter.Add(1)%t.every == 0 {
		logger.Warn(fmt.Sprintf(format, args...), zap.Uint64("occurrences", t.counter.Load()))
	}
}
