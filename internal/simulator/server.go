package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	DefaultFPS      = 10
	DefaultGreeting = "Optimus-3 simulator ready. Pick a task to begin."
)

type Options struct {
	Addr     string
	Width    int
	Height   int
	FPS      float64
	Seed     int64
	Greeting string
	// Latency delays every send_text reply, to mimic inference time.
	Latency time.Duration
	Logger  *zap.Logger
}

type Server struct {
	opts     Options
	scene    *Scene
	e        *echo.Echo
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex

	paused    atomic.Bool
	commands  atomic.Uint64
	textMu    sync.Mutex
	lastReply string
}

func New(opts Options) *Server {
	if opts.Width <= 0 {
		opts.Width = frame.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = frame.DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		opts:  opts,
		scene: NewScene(opts.Width, opts.Height, opts.Seed),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
		logger:  logger.Named("simulator"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/status", s.handleStatus)
	e.GET("/initial_text", s.handleInitialText)
	e.GET("/get_obs", s.handleObservation)
	e.GET("/receive_text", s.handleReceiveText)
	e.GET("/gpu", s.handleGPU)
	e.POST("/reset", s.handleReset)
	e.POST("/pause", s.handlePause)
	e.POST("/resume", s.handleResume)
	e.POST("/send_text", s.handleSendText)
	e.GET("/ws/obs", s.handleWS)
	s.e = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) Scene() *Scene {
	return s.scene
}

func (s *Server) Paused() bool {
	return s.paused.Load()
}

// Run serves on opts.Addr and pushes frames until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.Stream(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.e.Shutdown(shutdownCtx)
	}()

	s.logger.Info("simulator listening", zap.String("addr", s.opts.Addr))
	if err := s.e.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stream pushes a rendered frame to every WebSocket client at opts.FPS
// while the agent is not paused.
func (s *Server) Stream(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Limit(s.opts.FPS), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if s.paused.Load() || s.clientCount() == 0 {
			continue
		}
		encoded, err := frame.EncodePNG(s.scene.Render())
		if err != nil {
			s.logger.Warn("encode frame", zap.Error(err))
			continue
		}
		s.broadcast([]byte(encoded))
	}
}

func (s *Server) broadcast(payload []byte) {
	var stale []*websocket.Conn
	s.mu.Lock()
	for conn, writeMu := range s.clients {
		if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	s.mu.Unlock()
	for _, conn := range stale {
		s.removeClient(conn)
	}
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()
	s.logger.Info("observer connected", zap.String("remote", c.RealIP()))

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		// Observers never send anything meaningful; read only to process
		// control frames and notice the disconnect.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "running", "paused": s.paused.Load()})
}

func (s *Server) handleInitialText(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"text": s.opts.Greeting})
}

func (s *Server) handleObservation(c echo.Context) error {
	encoded, err := frame.EncodePNG(s.scene.Render())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"observation": encoded})
}

func (s *Server) handleReceiveText(c echo.Context) error {
	s.textMu.Lock()
	text := s.lastReply
	s.textMu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"text": text})
}

func (s *Server) handleGPU(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"device":       "simulated",
		"memory_total": 24576,
		"memory_used":  2048 + int(s.commands.Load()%64)*16,
		"utilization":  float64(s.commands.Load()%100) / 100,
	})
}

type resetRequest struct {
	Device string `json:"device"`
}

func (s *Server) handleReset(c echo.Context) error {
	var req resetRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Device == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "device is required")
	}
	s.scene.Reset()
	s.paused.Store(false)
	s.logger.Info("environment reset", zap.String("device", req.Device))

	encoded, err := frame.EncodePNG(s.scene.Render())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"observation": encoded})
}

func (s *Server) handlePause(c echo.Context) error {
	s.paused.Store(true)
	return c.JSON(http.StatusOK, map[string]any{"status": "paused"})
}

func (s *Server) handleResume(c echo.Context) error {
	s.paused.Store(false)
	return c.JSON(http.StatusOK, map[string]any{"status": "running"})
}

type sendTextRequest struct {
	Text string `json:"text"`
	Task string `json:"task"`
}

func (s *Server) handleSendText(c echo.Context) error {
	var req sendTextRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	task, ok := types.ParseTask(req.Task)
	if !ok || task == types.TaskNone {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown task %q", req.Task))
	}

	if s.opts.Latency > 0 {
		select {
		case <-time.After(s.opts.Latency):
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	s.commands.Add(1)
	reply := s.reply(task, req.Text)
	s.textMu.Lock()
	s.lastReply = reply
	s.textMu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"response": reply})
}

func (s *Server) reply(task types.Task, text string) string {
	switch task {
	case types.TaskAction:
		if !s.paused.Load() {
			s.scene.Advance()
		}
		return fmt.Sprintf("step %d", s.scene.Step())
	case types.TaskPlanning:
		goal := strings.TrimSpace(text)
		if goal == "" {
			goal = "explore"
		}
		return fmt.Sprintf("Plan for %q: 1. look around 2. walk to the tree 3. collect wood", goal)
	case types.TaskCaptioning:
		return "A grassy plain under a clear sky with a single oak tree."
	case types.TaskEmbodiedQA:
		return "There is one tree in view."
	case types.TaskGrounding:
		x1, y1, x2, y2 := s.scene.TreeBox()
		return fmt.Sprintf("Object 0 (tree): [%d, %d, %d, %d]", x1, y1, x2, y2)
	default:
		return "No response."
	}
}
