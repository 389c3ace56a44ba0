package ingest

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

// DefaultZMQPoll bounds how long a receive blocks before ctx is checked.
const DefaultZMQPoll = 250 * time.Millisecond

type ZMQOptions struct {
	Endpoint string
	Poll     time.Duration
	LogEvery int
	Logger   *zap.Logger
}

// ZMQSource pulls CBOR encoded observations from a PUSH socket, for agents
// that publish frames over ZeroMQ instead of the WebSocket endpoint.
type ZMQSource struct {
	opts     ZMQOptions
	logger   *zap.Logger
	throttle *throttle
}

func NewZMQSource(opts ZMQOptions) *ZMQSource {
	if opts.Poll <= 0 {
		opts.Poll = DefaultZMQPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZMQSource{
		opts:     opts,
		logger:   logger.Named("zmq"),
		throttle: newThrottle(opts.LogEvery),
	}
}

func (s *ZMQSource) Describe() string {
	return s.opts.Endpoint
}

func (s *ZMQSource) Run(ctx context.Context, handler Handler) error {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		handler.OnError(err)
		return err
	}
	defer socket.Close()

	if err := socket.SetRcvtimeo(s.opts.Poll); err != nil {
		handler.OnError(err)
		return err
	}
	if err := socket.Connect(s.opts.Endpoint); err != nil {
		err = fmt.Errorf("connect %s: %w", s.opts.Endpoint, err)
		handler.OnError(err)
		return err
	}
	s.logger.Info("zmq connected", zap.String("endpoint", s.opts.Endpoint))
	handler.OnConnect()

	for {
		select {
		case <-ctx.Done():
			handler.OnClose(nil)
			return nil
		default:
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			s.throttle.log(s.logger, "zmq recv error: %v", err)
			continue
		}

		payload, err := decodeMessage(msg)
		if err != nil {
			s.throttle.log(s.logger, "zmq decode skipped message: %v", err)
			continue
		}
		handler.OnFrame(payload)
	}
}
