// Package pipeline turns the observation stream into frames for the
// console: a reader feeding a bounded raw queue, one decode goroutine
// (so frames keep stream order) and a bootstrap fetch on every connect.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/ingest"
	"optimus-console-go/internal/recorder"
	"optimus-console-go/internal/types"
)

const (
	DefaultRawQueue   = 64
	DefaultStatsEvery = 30 * time.Second
)

// Fetcher is the REST half used for the bootstrap frame.
type Fetcher interface {
	Observation(ctx context.Context) (string, error)
}

type Options struct {
	Source  ingest.Source
	Fetcher Fetcher
	Events  chan<- types.Event
	Metrics *Metrics
	Width   int
	Height  int
	// RawQueue bounds payloads waiting for decode; the reader drops when
	// it is full rather than stall the socket.
	RawQueue   int
	StatsEvery time.Duration
	Recorder   recorder.Recorder
	Logger     *zap.Logger
}

type Pipeline struct {
	opts    Options
	metrics *Metrics
	logger  *zap.Logger
}

func New(opts Options) *Pipeline {
	if opts.Width <= 0 {
		opts.Width = frame.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = frame.DefaultHeight
	}
	if opts.RawQueue <= 0 {
		opts.RawQueue = DefaultRawQueue
	}
	if opts.StatsEvery <= 0 {
		opts.StatsEvery = DefaultStatsEvery
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, metrics: metrics, logger: logger.Named("pipeline")}
}

func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Run blocks until the source gives up or ctx is cancelled. Stream faults
// are delivered as events; the returned error is the source's final one.
func (p *Pipeline) Run(ctx context.Context) error {
	raw := make(chan ingest.Payload, p.opts.RawQueue)

	var g errgroup.Group
	h := &streamHandler{p: p, ctx: ctx, raw: raw, group: &g}
	g.Go(func() error {
		defer close(raw)
		return p.opts.Source.Run(ctx, h)
	})
	g.Go(func() error {
		p.decodeLoop(raw)
		return nil
	})

	stop := make(chan struct{})
	statsDone := make(chan struct{})
	go func() {
		defer close(statsDone)
		p.statsLoop(ctx, stop)
	}()

	err := g.Wait()
	close(stop)
	<-statsDone
	return err
}

func (p *Pipeline) decodeLoop(raw <-chan ingest.Payload) {
	throttle := 0
	for payload := range raw {
		f, err := p.decode(payload, frame.SourceStream)
		if err != nil {
			p.metrics.decodeFailures.Add(1)
			if throttle%50 == 0 {
				p.logger.Debug("dropping undecodable observation", zap.Int("size", payload.Size()), zap.Error(err))
			}
			throttle++
			continue
		}
		p.metrics.framesDecoded.Add(1)
		if !types.Offer(p.opts.Events, types.FrameArrived{Frame: f}) {
			p.metrics.deliveryDrops.Add(1)
		}
	}
}

func (p *Pipeline) decode(payload ingest.Payload, source frame.Source) (*frame.Frame, error) {
	if len(payload.Raw) > 0 {
		return frame.DecodeImage(payload.Raw, p.opts.Width, p.opts.Height, source)
	}
	return frame.Decode(payload.Encoded, p.opts.Width, p.opts.Height, source)
}

// bootstrap fetches one frame over REST so the screen is not blank until
// the first push arrives. Whichever frame lands first is shown first.
func (p *Pipeline) bootstrap(ctx context.Context) {
	p.metrics.bootstraps.Add(1)
	encoded, err := p.opts.Fetcher.Observation(ctx)
	if err != nil {
		p.metrics.bootstrapErrors.Add(1)
		if ctx.Err() == nil {
			p.logger.Warn("bootstrap observation failed", zap.Error(err))
		}
		return
	}
	if encoded == "" {
		return
	}
	f, err := frame.Decode(encoded, p.opts.Width, p.opts.Height, frame.SourceBootstrap)
	if err != nil {
		p.metrics.bootstrapErrors.Add(1)
		p.logger.Debug("bootstrap observation did not decode", zap.Error(err))
		return
	}
	if !types.Offer(p.opts.Events, types.FrameArrived{Frame: f}) {
		p.metrics.deliveryDrops.Add(1)
	}
}

func (p *Pipeline) statsLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(p.opts.StatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s := p.metrics.Snapshot()
			p.logger.Info("stream stats",
				zap.Uint64("messages", s.Messages),
				zap.Uint64("frames_decoded", s.FramesDecoded),
				zap.Uint64("decode_failures", s.DecodeFailures),
				zap.Uint64("queue_drops", s.QueueDrops),
				zap.Uint64("delivery_drops", s.DeliveryDrops),
				zap.Uint64("buffer_evictions", s.BufferEvictions),
				zap.Uint64("ticks", s.Ticks),
				zap.Uint64("repeated_ticks", s.RepeatedTicks),
			)
		}
	}
}

type streamHandler struct {
	p     *Pipeline
	ctx   context.Context
	raw   chan<- ingest.Payload
	group *errgroup.Group
}

func (h *streamHandler) OnConnect() {
	h.p.logger.Info("observation stream connected", zap.String("source", h.p.opts.Source.Describe()))
	types.Deliver(h.ctx, h.p.opts.Events, types.StreamConnected{URL: h.p.opts.Source.Describe()})
	if h.p.opts.Fetcher != nil {
		h.group.Go(func() error {
			h.p.bootstrap(h.ctx)
			return nil
		})
	}
}

func (h *streamHandler) OnFrame(payload ingest.Payload) {
	h.p.metrics.messages.Add(1)
	if payload.Empty() {
		h.p.metrics.decodeFailures.Add(1)
		return
	}
	if h.p.opts.Recorder != nil {
		entry := recorder.Entry{Kind: recorder.KindObservation, Observation: payload.Raw}
		if entry.Observation == nil {
			entry.Observation = []byte(payload.Encoded)
		}
		if err := h.p.opts.Recorder.Record(entry); err != nil {
			h.p.logger.Warn("recording observation failed", zap.Error(err))
		}
	}
	select {
	case h.raw <- payload:
	default:
		h.p.metrics.queueDrops.Add(1)
	}
}

func (h *streamHandler) OnError(err error) {
	types.Deliver(h.ctx, h.p.opts.Events, types.StreamError{
		Err: &types.Error{Kind: types.KindConnection, Op: "observation stream", Err: err},
	})
}

func (h *streamHandler) OnClose(err error) {
	var wrapped error
	if err != nil {
		wrapped = &types.Error{Kind: types.KindConnection, Op: "observation stream", Err: err}
	}
	types.Deliver(h.ctx, h.p.opts.Events, types.StreamClosed{Err: wrapped})
}
