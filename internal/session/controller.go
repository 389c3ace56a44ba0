// Package session holds the operator session: run state, the selected task
// and an in-flight reset. The controller is owned by the console loop; only
// Running is read from other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/pipeline"
	"optimus-console-go/internal/recorder"
	"optimus-console-go/internal/types"
)

const (
	ResettingPlaceholder = "Resetting... Waiting for new observation..."
	NoTaskMessage        = "Please select a task before sending."
)

// Server is the slice of the agent server API the session drives directly.
type Server interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reset(ctx context.Context) (string, error)
}

// Jobs runs work off the console loop. Each job's event is delivered back
// to the loop.
type Jobs interface {
	Go(name string, job func(ctx context.Context) types.Event) error
	Dispatch(text string, task types.Task) (string, error)
	StartAction() bool
	ActionActive() bool
}

type Options struct {
	Agent   Server
	Jobs    Jobs
	Display *pipeline.Display
	Width   int
	Height  int
	// Recorder, when set, receives reset observations and pause/resume
	// requests.
	Recorder recorder.Recorder
	Logger   *zap.Logger
}

type Controller struct {
	state        atomic.Int32
	task         types.Task
	highlight    bool
	pendingReset bool

	agent   Server
	jobs    Jobs
	display *pipeline.Display
	width   int
	height  int
	rec     recorder.Recorder
	logger  *zap.Logger
}

func New(opts Options) *Controller {
	if opts.Width <= 0 {
		opts.Width = frame.DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = frame.DefaultHeight
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		agent:   opts.Agent,
		jobs:    opts.Jobs,
		display: opts.Display,
		width:   opts.Width,
		height:  opts.Height,
		rec:     opts.Recorder,
		logger:  logger.Named("session"),
	}
	c.state.Store(int32(Initializing))
	return c
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Running is safe to call from any goroutine; the action loop polls it.
func (c *Controller) Running() bool {
	return c.State() == Running
}

func (c *Controller) Task() types.Task {
	return c.task
}

// Highlighted reports whether the selected task is shown as active.
func (c *Controller) Highlighted() bool {
	return c.highlight && c.task != types.TaskNone
}

func (c *Controller) ResetPending() bool {
	return c.pendingReset
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("session state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

// Start marks the session live once the observation stream is opened.
func (c *Controller) Start() {
	if c.State() == Initializing {
		c.setState(Running)
	}
}

// Toggle is the single pause/resume control.
func (c *Controller) Toggle() Outcome {
	switch c.State() {
	case Running:
		return c.Pause()
	case Paused:
		return c.Resume()
	default:
		var out Outcome
		out.system("Agent is still starting up.")
		return out
	}
}

// Pause flips to Paused before the server confirms; a failed call is
// reported but not rolled back.
func (c *Controller) Pause() Outcome {
	var out Outcome
	if c.State() != Running {
		out.system(fmt.Sprintf("Cannot pause while %s.", c.State()))
		return out
	}
	c.setState(Paused)
	out.system("Agent paused.")
	out.Status = "Agent Paused"
	c.submitJob(&out, "pause", func(ctx context.Context) types.Event {
		err := c.agent.Pause(ctx)
		c.record(recorder.Entry{Kind: recorder.KindControl, Text: "pause", Err: errText(err)})
		return types.PauseCompleted{Err: err}
	})
	return out
}

func (c *Controller) Resume() Outcome {
	var out Outcome
	if c.State() != Paused {
		out.system(fmt.Sprintf("Cannot resume while %s.", c.State()))
		return out
	}
	c.setState(Running)
	out.system("Agent resumed.")
	out.Status = "Agent Resumed"
	c.submitJob(&out, "resume", func(ctx context.Context) types.Event {
		err := c.agent.Resume(ctx)
		c.record(recorder.Entry{Kind: recorder.KindControl, Text: "resume", Err: errText(err)})
		return types.ResumeCompleted{Err: err}
	})
	if c.task == types.TaskAction {
		c.jobs.StartAction()
	} else {
		c.highlight = false
	}
	return out
}

// Reset clears the display and asks the server for a fresh episode. Only
// one reset may be in flight.
func (c *Controller) Reset() (Outcome, error) {
	if c.pendingReset {
		return Outcome{}, types.ErrResetPending
	}
	var out Outcome
	c.pendingReset = true
	if c.display != nil {
		c.display.Clear()
	}
	out.system("environment reset...")
	out.Status = "Resetting environment..."
	out.Placeholder = ResettingPlaceholder

	width, height := c.width, c.height
	err := c.jobs.Go("reset", func(ctx context.Context) types.Event {
		encoded, err := c.agent.Reset(ctx)
		c.record(recorder.Entry{Kind: recorder.KindReset, Observation: []byte(encoded), Err: errText(err)})
		if err != nil {
			return types.ResetCompleted{Err: err}
		}
		if encoded == "" {
			return types.ResetCompleted{}
		}
		f, err := frame.Decode(encoded, width, height, frame.SourceReset)
		if err != nil {
			return types.ResetCompleted{Err: &types.Error{Kind: types.KindDecode, Op: "reset", Err: err}}
		}
		return types.ResetCompleted{Frame: f}
	})
	if err != nil {
		c.pendingReset = false
		out.system(fmt.Sprintf("Reset failed: %v", err))
		out.Placeholder = ""
	}
	return out, nil
}

// FinishReset applies a reset result on the console loop.
func (c *Controller) FinishReset(ev types.ResetCompleted) Outcome {
	c.pendingReset = false
	var out Outcome
	switch {
	case ev.Err != nil:
		out.system(fmt.Sprintf("Reset failed: %v", ev.Err))
	case ev.Frame == nil:
		out.system("Reset returned no observation.")
	default:
		if c.display != nil {
			c.display.Install(ev.Frame)
		}
		c.setState(Running)
		out.Status = "Environment reset. Displaying new observation."
	}
	return out
}

// SelectTask picks the mode for later submissions. Choosing action starts
// the loop right away when the agent is running.
func (c *Controller) SelectTask(task types.Task) (Outcome, error) {
	if !task.Valid() {
		return Outcome{}, fmt.Errorf("unknown task %q", string(task))
	}
	if c.jobs.ActionActive() {
		return Outcome{}, types.ErrActionRunning
	}
	c.task = task
	c.highlight = true

	var out Outcome
	out.system("Selected task → " + string(task))
	if task == types.TaskAction {
		c.startAction(&out)
	}
	return out, nil
}

// Submit handles the input line. With no task selected nothing leaves the
// process.
func (c *Controller) Submit(text string) (Outcome, error) {
	var out Outcome
	if c.task == types.TaskAction {
		c.startAction(&out)
		return out, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return out, nil
	}
	if c.task == types.TaskNone {
		out.system(NoTaskMessage)
		return out, types.ErrNoTask
	}

	out.Messages = append(out.Messages, Message{Speaker: You, Text: text})
	if _, err := c.jobs.Dispatch(text, c.task); err != nil {
		out.system(fmt.Sprintf("Could not send command: %v", err))
		return out, err
	}
	out.Status = "Waiting for agent..."
	return out, nil
}

func (c *Controller) startAction(out *Outcome) {
	if !c.Running() {
		out.system("Action loop waits until the agent is running.")
		return
	}
	if c.jobs.StartAction() {
		out.Status = "Action loop running"
	}
}

func (c *Controller) submitJob(out *Outcome, name string, job func(ctx context.Context) types.Event) {
	if err := c.jobs.Go(name, job); err != nil {
		out.system(fmt.Sprintf("%s failed: %v", strings.ToUpper(name[:1])+name[1:], err))
	}
}

// record runs on worker goroutines; the recorder is safe for concurrent use.
func (c *Controller) record(entry recorder.Entry) {
	if c.rec == nil {
		return
	}
	if err := c.rec.Record(entry); err != nil {
		c.logger.Warn("recording failed", zap.String("kind", string(entry.Kind)), zap.Error(err))
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorText renders a worker error for the transcript.
func ErrorText(err error) string {
	var typed *types.Error
	if errors.As(err, &typed) && typed.Kind == types.KindConnection {
		return "server unreachable: " + err.Error()
	}
	return err.Error()
}
