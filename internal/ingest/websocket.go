package ingest

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultReadLimit        = 32 << 20
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMinBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff       = 10 * time.Second
)

type WebSocketOptions struct {
	URL              string
	Header           http.Header
	ReadLimit        int64
	HandshakeTimeout time.Duration
	// Reconnect redials with exponential backoff after a drop. Off by
	// default: a dropped stream is reported and stays down.
	Reconnect  bool
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

type WebSocketSource struct {
	opts   WebSocketOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewWebSocketSource(opts WebSocketOptions) *WebSocketSource {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = DefaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.MinBackoff)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.Named("ws"),
	}
}

func (s *WebSocketSource) Describe() string {
	return s.opts.URL
}

// Run reads until ctx is cancelled or, without Reconnect, the first
// disconnect. While reconnecting, only the first failed dial of a run of
// failures reaches the handler; the rest are logged.
func (s *WebSocketSource) Run(ctx context.Context, handler Handler) error {
	backoff := s.opts.MinBackoff
	report := true
	for {
		connected, err := s.runOnce(ctx, handler, report)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			s.logger.Info("websocket disconnected", zap.String("url", s.opts.URL), zap.Error(err))
			handler.OnClose(err)
			backoff = s.opts.MinBackoff
			report = true
		} else if err != nil {
			report = false
		}
		if !s.opts.Reconnect {
			return err
		}

		s.logger.Debug("reconnecting websocket", zap.Duration("backoff", backoff))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
}

func (s *WebSocketSource) runOnce(ctx context.Context, handler Handler, report bool) (bool, error) {
	s.logger.Debug("connecting websocket", zap.String("url", s.opts.URL))
	conn, resp, err := s.dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case report:
			s.logger.Warn("websocket error", zap.Error(err))
			handler.OnError(err)
		default:
			s.logger.Debug("websocket still unreachable", zap.Error(err))
		}
		return false, err
	}
	conn.SetReadLimit(s.opts.ReadLimit)
	handler.OnConnect()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, err
		}
		switch messageType {
		case websocket.TextMessage:
			handler.OnFrame(Payload{Encoded: string(data)})
		case websocket.BinaryMessage:
			handler.OnFrame(Payload{Raw: data})
		}
	}
}
