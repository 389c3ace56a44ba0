// Package dispatch runs agent requests off the console loop: a small
// worker pool for one-shot commands and a single goroutine for the
// continuous action loop.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"optimus-console-go/internal/recorder"
	"optimus-console-go/internal/types"
)

const (
	DefaultWorkers = 4
	DefaultQueue   = 32

	// ActionCommand is the text sent on every action loop iteration.
	ActionCommand = "action"
	// ActionDone is the reply shown when the action loop stops.
	ActionDone = "Action"
)

var (
	ErrQueueFull  = errors.New("dispatch queue is full")
	ErrNotRunning = errors.New("dispatcher is not running")
)

// Sender issues one command to the agent.
type Sender interface {
	SendCommand(ctx context.Context, text string, task types.Task) (string, error)
}

// StateReader reports whether the session is running. The action loop
// checks it before every send.
type StateReader interface {
	Running() bool
}

// StateFunc adapts a function to StateReader.
type StateFunc func() bool

func (f StateFunc) Running() bool { return f() }

type Options struct {
	Sender  Sender
	State   StateReader
	Events  chan<- types.Event
	Workers int
	Queue   int
	// ActionRate limits action loop sends per second. Zero means no limit.
	ActionRate float64
	Recorder   recorder.Recorder
	Logger     *zap.Logger
}

type job struct {
	name string
	run  func(ctx context.Context) types.Event
}

type Dispatcher struct {
	opts   Options
	jobs   chan job
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	group   *errgroup.Group
	actions sync.WaitGroup

	actionActive atomic.Bool
}

func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Queue <= 0 {
		opts.Queue = DefaultQueue
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		opts:   opts,
		jobs:   make(chan job, opts.Queue),
		logger: logger.Named("dispatch"),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.group != nil {
		return
	}
	var g errgroup.Group
	for i := 0; i < d.opts.Workers; i++ {
		g.Go(func() error {
			d.worker(ctx)
			return nil
		})
	}
	d.ctx = ctx
	d.group = &g
}

// Wait blocks until the workers and any action loop have exited.
func (d *Dispatcher) Wait() error {
	d.mu.Lock()
	g := d.group
	d.mu.Unlock()
	var err error
	if g != nil {
		err = g.Wait()
	}
	d.actions.Wait()
	return err
}

func (d *Dispatcher) runContext() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil || d.ctx.Err() != nil {
		return nil, ErrNotRunning
	}
	return d.ctx, nil
}

// Go queues a job without blocking. Its event is delivered when it
// finishes.
func (d *Dispatcher) Go(name string, run func(ctx context.Context) types.Event) error {
	if _, err := d.runContext(); err != nil {
		return err
	}
	select {
	case d.jobs <- job{name: name, run: run}:
		return nil
	default:
		d.logger.Warn("dispatch queue full", zap.String("job", name), zap.Int("queue", cap(d.jobs)))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			start := time.Now()
			ev := j.run(ctx)
			d.logger.Debug("job finished", zap.String("job", j.name), zap.Duration("took", time.Since(start)))
			if ev != nil {
				types.Deliver(ctx, d.opts.Events, ev)
			}
		}
	}
}

// Dispatch sends one command for a non-action task and returns its ID.
func (d *Dispatcher) Dispatch(text string, task types.Task) (string, error) {
	id := uuid.NewString()
	err := d.Go("command", func(ctx context.Context) types.Event {
		return d.command(ctx, id, text, task)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *Dispatcher) command(ctx context.Context, id, text string, task types.Task) types.Event {
	logger := d.logger.With(zap.String("id", id), zap.String("task", string(task)))
	d.record(recorder.Entry{Kind: recorder.KindCommand, ID: id, Task: string(task), Text: text})

	reply, err := d.opts.Sender.SendCommand(ctx, text, task)
	if err != nil {
		logger.Warn("command failed", zap.Error(err))
		d.record(recorder.Entry{Kind: recorder.KindReply, ID: id, Task: string(task), Err: err.Error()})
		return types.CommandCompleted{ID: id, Task: task, Err: err}
	}
	logger.Info("command answered", zap.Int("reply_len", len(reply)))
	d.record(recorder.Entry{Kind: recorder.KindReply, ID: id, Task: string(task), Text: reply})

	ev := types.CommandCompleted{ID: id, Task: task, Text: reply}
	if task == types.TaskGrounding {
		if box, ok := ParseGroundingBox(reply); ok {
			r := box.Rect()
			ev.Box = &r
		}
	}
	return ev
}

// StartAction launches the action loop unless one is already active.
func (d *Dispatcher) StartAction() bool {
	ctx, err := d.runContext()
	if err != nil {
		return false
	}
	if !d.actionActive.CompareAndSwap(false, true) {
		return false
	}
	d.actions.Add(1)
	go func() {
		defer d.actions.Done()
		d.actionLoop(ctx)
	}()
	return true
}

func (d *Dispatcher) ActionActive() bool {
	return d.actionActive.Load()
}

// actionLoop sends the action command for as long as the session runs. The
// state is checked before each send, so after a pause at most the send
// already in flight completes.
func (d *Dispatcher) actionLoop(ctx context.Context) {
	id := uuid.NewString()
	logger := d.logger.With(zap.String("id", id))

	var limiter *rate.Limiter
	if d.opts.ActionRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.opts.ActionRate), 1)
	}

	logger.Info("action loop started")
	var (
		sent    int
		sendErr error
	)
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil || !d.opts.State.Running() {
			break
		}
		if _, err := d.opts.Sender.SendCommand(ctx, ActionCommand, types.TaskAction); err != nil {
			if ctx.Err() == nil {
				sendErr = err
			}
			break
		}
		sent++
	}
	logger.Info("action loop stopped", zap.Int("sent", sent), zap.Error(sendErr))
	d.record(recorder.Entry{Kind: recorder.KindControl, ID: id, Task: string(types.TaskAction), Text: ActionDone})

	d.actionActive.Store(false)
	if ctx.Err() != nil {
		return
	}
	types.Deliver(ctx, d.opts.Events, types.CommandCompleted{
		ID:   id,
		Task: types.TaskAction,
		Text: ActionDone,
		Err:  sendErr,
	})
}

func (d *Dispatcher) record(entry recorder.Entry) {
	if d.opts.Recorder == nil {
		return
	}
	if err := d.opts.Recorder.Record(entry); err != nil {
		d.logger.Warn("recording failed", zap.Error(err))
	}
}
