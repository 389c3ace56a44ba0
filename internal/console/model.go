// Package console is the operator's terminal: the live observation, the
// conversation with the agent and the controls. The bubbletea Update loop
// is the only goroutine that touches session state, the frame display and
// the transcript; everything else reaches it as a types.Event.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/zap"

	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/pipeline"
	"optimus-console-go/internal/session"
	"optimus-console-go/internal/types"
)

const (
	DefaultTick       = 50 * time.Millisecond
	DefaultTypewriter = 10 * time.Millisecond
	DefaultGreeting   = "hello, I'm Optimus-3."

	serverUp   = "Server is running"
	serverDown = "Server is not running. Please start the Server!"
)

// Agent is the part of the server API the console queries directly.
type Agent interface {
	CheckStatus(ctx context.Context) (bool, error)
	InitialText(ctx context.Context) (string, error)
	ReceiveText(ctx context.Context) (string, error)
	GPU(ctx context.Context) (map[string]any, error)
}

type Options struct {
	Agent   Agent
	Session *session.Controller
	Display *pipeline.Display
	Metrics *pipeline.Metrics
	Jobs    session.Jobs
	Events  <-chan types.Event

	Tick       time.Duration
	Typewriter time.Duration
	Greeting   string
	ServerURL  string
	Profile    termenv.Profile
	Theme      *Theme
	Logger     *zap.Logger
}

// eventMsg wraps a worker event for delivery through the bubbletea loop.
type eventMsg struct {
	event types.Event
}

type displayTickMsg struct{}

// enqueueFailedMsg reports a job that could not be queued from a command.
type enqueueFailedMsg struct {
	name string
	err  error
}

type Model struct {
	agent   Agent
	session *session.Controller
	display *pipeline.Display
	metrics *pipeline.Metrics
	jobs    session.Jobs
	events  <-chan types.Event

	tick      time.Duration
	greeting  string
	serverURL string
	profile   termenv.Profile
	theme     Theme
	keys      KeyMap
	logger    *zap.Logger

	input       textinput.Model
	viewport    viewport.Model
	spinner     spinner.Model
	transcript  *transcript
	shown       *frame.Frame
	frameLines  []string
	placeholder string
	status      string
	stream      string
	pending     int

	width    int
	height   int
	quitting bool
}

func New(opts Options) Model {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	greeting := opts.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	theme := DefaultTheme
	if opts.Theme != nil {
		theme = *opts.Theme
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &pipeline.Metrics{}
	}

	input := textinput.New()
	input.Placeholder = "Type a command for the agent, or /help"
	input.Prompt = "› "
	input.CharLimit = 2000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		agent:     opts.Agent,
		session:   opts.Session,
		display:   opts.Display,
		metrics:   metrics,
		jobs:      opts.Jobs,
		events:    opts.Events,
		tick:      tick,
		greeting:  greeting,
		serverURL: opts.ServerURL,
		profile:   opts.Profile,
		theme:     theme,
		keys:      DefaultKeyMap,
		logger:    logger.Named("console"),
		input:     input,
		viewport:  viewport.New(40, 10),
		spinner:   spin,
		transcript: &transcript{
			delay: opts.Typewriter,
		},
		status: "Initializing...",
		stream: "connecting",
	}
}

func listenForEvent(events <-chan types.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg{event: event}
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.tick, func(time.Time) tea.Msg {
		return displayTickMsg{}
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForEvent(m.events),
		m.scheduleTick(),
		m.spinner.Tick,
		textinput.Blink,
		m.startup(),
	)
}

// startup queues the health check and the greeting. Neither is required:
// with the server down the console still opens and takes input.
func (m Model) startup() tea.Cmd {
	return func() tea.Msg {
		if err := m.jobs.Go("status", m.checkStatus); err != nil {
			return enqueueFailedMsg{name: "status", err: err}
		}
		if err := m.jobs.Go("initial_text", func(ctx context.Context) types.Event {
			text, err := m.agent.InitialText(ctx)
			return types.InitialText{Text: text, Err: err}
		}); err != nil {
			return enqueueFailedMsg{name: "initial_text", err: err}
		}
		return nil
	}
}

func (m Model) checkStatus(ctx context.Context) types.Event {
	running, err := m.agent.CheckStatus(ctx)
	return types.StatusChecked{Running: running, Err: err}
}

func (m *Model) enqueue(name string, job func(ctx context.Context) types.Event) {
	if err := m.jobs.Go(name, job); err != nil {
		m.system(fmt.Sprintf("Could not run %s: %v", name, err))
	}
}

func (m *Model) system(text string) {
	m.transcript.add(session.System, text)
	m.syncTranscript()
}

func (m *Model) syncTranscript() {
	m.viewport.SetContent(m.transcript.render(m.theme, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return m.handleKey(message)

	case tea.WindowSizeMsg:
		m.width, m.height = message.Width, message.Height
		m.layout()
		return m, nil

	case displayTickMsg:
		m.advanceDisplay()
		return m, m.scheduleTick()

	case typeTickMsg:
		cmd := m.transcript.advance(message)
		m.syncTranscript()
		return m, cmd

	case eventMsg:
		var cmd tea.Cmd
		m, cmd = m.handleEvent(message.event)
		return m, tea.Batch(cmd, listenForEvent(m.events))

	case enqueueFailedMsg:
		m.system(fmt.Sprintf("Could not run %s: %v", message.name, message.err))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(message)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(message)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Submit):
		line := m.input.Value()
		m.input.Reset()
		return m.submit(line)
	case key.Matches(msg, m.keys.Toggle):
		return m.apply(m.session.Toggle(), nil)
	case key.Matches(msg, m.keys.Reset):
		out, err := m.session.Reset()
		return m.apply(out, err)
	case key.Matches(msg, m.keys.TaskPlanning):
		return m.selectTask(types.TaskPlanning)
	case key.Matches(msg, m.keys.TaskAction):
		return m.selectTask(types.TaskAction)
	case key.Matches(msg, m.keys.TaskCaptioning):
		return m.selectTask(types.TaskCaptioning)
	case key.Matches(msg, m.keys.TaskEmbodiedQA):
		return m.selectTask(types.TaskEmbodiedQA)
	case key.Matches(msg, m.keys.TaskGrounding):
		return m.selectTask(types.TaskGrounding)
	case key.Matches(msg, m.keys.ScrollUp), key.Matches(msg, m.keys.ScrollDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (Model, tea.Cmd) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "/") {
		return m.runCommand(trimmed)
	}
	out, err := m.session.Submit(line)
	if err == nil && hasSpeaker(out, session.You) {
		m.pending++
	}
	return m.apply(out, err)
}

func (m Model) selectTask(task types.Task) (Model, tea.Cmd) {
	out, err := m.session.SelectTask(task)
	return m.apply(out, err)
}

// apply shows an operation's outcome. Errors already explained by the
// outcome's own messages are not repeated.
func (m Model) apply(out session.Outcome, err error) (Model, tea.Cmd) {
	for _, msg := range out.Messages {
		m.transcript.add(msg.Speaker, msg.Text)
	}
	if err != nil && !errors.Is(err, types.ErrNoTask) && len(out.Messages) == 0 {
		m.transcript.add(session.System, describe(err))
	}
	if out.Status != "" {
		m.status = out.Status
	}
	if out.Placeholder != "" {
		m.placeholder = out.Placeholder
		m.shown = nil
		m.frameLines = nil
	}
	m.syncTranscript()
	return m, nil
}

func hasSpeaker(out session.Outcome, speaker session.Speaker) bool {
	for _, msg := range out.Messages {
		if msg.Speaker == speaker {
			return true
		}
	}
	return false
}

// describe turns session rejections into a sentence for the transcript.
func describe(err error) string {
	var typed *types.Error
	if errors.As(err, &typed) && typed.Kind == types.KindState && typed.Err != nil {
		if text := typed.Err.Error(); text != "" {
			return strings.ToUpper(text[:1]) + text[1:] + "."
		}
	}
	return err.Error()
}

func (m Model) handleEvent(event types.Event) (Model, tea.Cmd) {
	switch ev := event.(type) {
	case types.FrameArrived:
		m.display.Push(ev.Frame)
		return m, nil

	case types.StreamConnected:
		m.stream = "connected"
		m.logger.Info("stream connected", zap.String("url", ev.URL))
		return m, nil

	case types.StreamError:
		m.stream = "error"
		m.system(fmt.Sprintf("Observation stream error: %v", ev.Err))
		return m, nil

	case types.StreamClosed:
		m.stream = "disconnected"
		if ev.Err != nil {
			m.system(fmt.Sprintf("Observation stream closed: %v", ev.Err))
		} else {
			m.system("Observation stream closed.")
		}
		return m, nil

	case types.CommandCompleted:
		if ev.Task != types.TaskAction && m.pending > 0 {
			m.pending--
		}
		m.status = "Agent responded. Ready."
		text := ev.Text
		if ev.Err != nil {
			text = "Error: " + session.ErrorText(ev.Err)
		}
		if ev.Box != nil && m.display.Annotate(*ev.Box) {
			m.showFrame(m.display.Last())
		}
		cmd := m.transcript.typeOut(session.Agent, text)
		m.syncTranscript()
		return m, cmd

	case types.ResetCompleted:
		out := m.session.FinishReset(ev)
		var cmd tea.Cmd
		m, cmd = m.apply(out, nil)
		if ev.Err == nil && ev.Frame != nil {
			m.showFrame(m.display.Last())
		} else {
			m.placeholder = ""
		}
		return m, cmd

	case types.PauseCompleted:
		if ev.Err != nil {
			m.system(fmt.Sprintf("Pause failed: %s", session.ErrorText(ev.Err)))
		}
		return m, nil

	case types.ResumeCompleted:
		if ev.Err != nil {
			m.system(fmt.Sprintf("Resume failed: %s", session.ErrorText(ev.Err)))
		}
		return m, nil

	case types.StatusChecked:
		if ev.Running {
			m.system(serverUp)
			m.status = "Ready"
		} else {
			m.system(serverDown)
			m.status = "Server unreachable"
			if ev.Err != nil {
				m.logger.Warn("status check failed", zap.Error(ev.Err))
			}
		}
		return m, nil

	case types.InitialText:
		text := ev.Text
		if ev.Err != nil || strings.TrimSpace(text) == "" {
			text = m.greeting
		}
		cmd := m.transcript.typeOut(session.Agent, text)
		m.syncTranscript()
		return m, cmd

	case types.Diagnostic:
		switch {
		case ev.Err != nil:
			m.system(fmt.Sprintf("%s query failed: %s", ev.Name, session.ErrorText(ev.Err)))
		case ev.Text == "":
			m.system(ev.Name + ": (empty)")
		default:
			m.system(ev.Name + ": " + ev.Text)
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) advanceDisplay() {
	f := m.display.Tick()
	if f != m.shown {
		m.showFrame(f)
	}
}

func (m *Model) showFrame(f *frame.Frame) {
	m.shown = f
	if f != nil {
		m.placeholder = ""
	}
	cols, rows := m.frameArea()
	m.frameLines = renderFrame(f, cols, rows, m.profile)
}

func (m Model) frameArea() (int, int) {
	if m.width <= 0 || m.height <= 0 {
		return 64, 18
	}
	cols := m.width * 3 / 5
	rows := m.bodyHeight()
	return max(cols-2, 1), max(rows-2, 1)
}

func (m Model) bodyHeight() int {
	// header + input + status bar
	return max(m.height-3, 3)
}

func (m *Model) layout() {
	frameCols, _ := m.frameArea()
	m.viewport.Width = max(m.width-frameCols-4, 10)
	m.viewport.Height = max(m.bodyHeight()-2, 1)
	m.input.Width = max(m.width-4, 10)
	m.showFrame(m.shown)
	m.syncTranscript()
}

// Transcript returns the conversation as plain text lines.
func (m Model) Transcript() []string {
	return m.transcript.Plain()
}

func (m Model) Status() string {
	return m.status
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	header := m.renderHeader()

	cols, rows := m.frameArea()
	var framePane string
	switch {
	case len(m.frameLines) > 0:
		framePane = lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, strings.Join(m.frameLines, "\n"))
	case m.placeholder != "":
		framePane = lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, m.theme.Placeholder.Render(m.placeholder))
	default:
		framePane = lipgloss.Place(cols, rows, lipgloss.Center, lipgloss.Center, m.theme.Faint.Render("Waiting for observation..."))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Border.Render(framePane),
		m.theme.Border.Render(m.viewport.View()),
	)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.input.View(), m.renderStatusBar())
}

func (m Model) renderHeader() string {
	parts := []string{m.theme.Title.Render("Optimus-3 Agent")}

	switch m.session.State() {
	case session.Running:
		parts = append(parts, m.theme.StateRunning.Render("● running"))
	case session.Paused:
		parts = append(parts, m.theme.StatePaused.Render("❚❚ paused"))
	default:
		parts = append(parts, m.theme.StateStarting.Render("○ starting"))
	}

	for i, task := range types.Tasks {
		label := fmt.Sprintf("F%d %s", i+1, task.Label())
		style := m.theme.TaskIdle
		if task == m.session.Task() && m.session.Highlighted() {
			style = m.theme.TaskActive
		}
		parts = append(parts, style.Render(label))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderStatusBar() string {
	status := m.status
	if m.pending > 0 || m.jobs.ActionActive() || m.session.ResetPending() {
		status = m.spinner.View() + " " + status
	}
	stats := m.metrics.Snapshot()
	right := fmt.Sprintf("stream %s  %s  buf %d/%d  %s",
		m.stream, stats.String(), m.display.Buffered(), m.display.Capacity(), m.serverURL)
	gap := max(m.width-lipgloss.Width(status)-lipgloss.Width(right), 1)
	return m.theme.StatusBar.Render(status + strings.Repeat(" ", gap) + right)
}
