package pipeline

import (
	"fmt"
	"sync/atomic"
)

// Metrics are updated from the stream goroutines and the UI loop alike.
type Metrics struct {
	messages        atomic.Uint64
	framesDecoded   atomic.Uint64
	decodeFailures  atomic.Uint64
	queueDrops      atomic.Uint64
	deliveryDrops   atomic.Uint64
	bufferEvictions atomic.Uint64
	ticks           atomic.Uint64
	repeatedTicks   atomic.Uint64
	bootstraps      atomic.Uint64
	bootstrapErrors atomic.Uint64
}

type Stats struct {
	Messages        uint64
	FramesDecoded   uint64
	DecodeFailures  uint64
	QueueDrops      uint64
	DeliveryDrops   uint64
	BufferEvictions uint64
	Ticks           uint64
	RepeatedTicks   uint64
	Bootstraps      uint64
	BootstrapErrors uint64
}

func (m *Metrics) Snapshot() Stats {
	return Stats{
		Messages:        m.messages.Load(),
		FramesDecoded:   m.framesDecoded.Load(),
		DecodeFailures:  m.decodeFailures.Load(),
		QueueDrops:      m.queueDrops.Load(),
		DeliveryDrops:   m.deliveryDrops.Load(),
		BufferEvictions: m.bufferEvictions.Load(),
		Ticks:           m.ticks.Load(),
		RepeatedTicks:   m.repeatedTicks.Load(),
		Bootstraps:      m.bootstraps.Load(),
		BootstrapErrors: m.bootstrapErrors.Load(),
	}
}

// Dropped is every frame that never reached the screen for capacity reasons.
func (s Stats) Dropped() uint64 {
	return s.QueueDrops + s.DeliveryDrops + s.BufferEvictions
}

func (s Stats) String() string {
	return fmt.Sprintf("frames %d  bad %d  dropped %d", s.FramesDecoded, s.DecodeFailures, s.Dropped())
}
