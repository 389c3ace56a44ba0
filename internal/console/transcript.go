package console

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"optimus-console-go/internal/session"
)

// typeTickMsg advances the typewriter. gen ties the tick to the message it
// was scheduled for so ticks of a finished message are ignored.
type typeTickMsg struct {
	gen int
}

type entry struct {
	speaker session.Speaker
	text    string
}

// transcript is the conversation pane: finished entries plus at most one
// entry being typed out.
type transcript struct {
	entries []entry
	typing  *entry
	shown   int
	gen     int
	delay   time.Duration
}

func (t *transcript) add(speaker session.Speaker, text string) {
	t.finishTyping()
	t.entries = append(t.entries, entry{speaker: speaker, text: text})
}

// typeOut starts revealing text one character per delay. Anything still
// being typed is completed first.
func (t *transcript) typeOut(speaker session.Speaker, text string) tea.Cmd {
	t.finishTyping()
	if t.delay <= 0 || text == "" {
		t.entries = append(t.entries, entry{speaker: speaker, text: text})
		return nil
	}
	t.gen++
	t.typing = &entry{speaker: speaker, text: text}
	t.shown = 0
	return t.tick()
}

func (t *transcript) tick() tea.Cmd {
	gen := t.gen
	return tea.Tick(t.delay, func(time.Time) tea.Msg {
		return typeTickMsg{gen: gen}
	})
}

// advance handles a typewriter tick and returns the next one, if any.
func (t *transcript) advance(msg typeTickMsg) tea.Cmd {
	if t.typing == nil || msg.gen != t.gen {
		return nil
	}
	t.shown++
	if t.shown >= len([]rune(t.typing.text)) {
		t.finishTyping()
		return nil
	}
	return t.tick()
}

func (t *transcript) finishTyping() {
	if t.typing == nil {
		return
	}
	t.entries = append(t.entries, *t.typing)
	t.typing = nil
	t.shown = 0
}

func (t *transcript) Typing() bool {
	return t.typing != nil
}

func (t *transcript) render(theme Theme, width int) string {
	var b strings.Builder
	write := func(e entry, text string) {
		style := theme.System
		switch e.speaker {
		case session.You:
			style = theme.You
		case session.Agent:
			style = theme.Agent
		}
		if width > 0 {
			style = style.Width(width)
			if e.speaker == session.You {
				style = style.Align(lipgloss.Right)
			}
		}
		b.WriteString(style.Render(e.speaker.Prefix() + text))
		b.WriteString("\n\n")
	}
	for _, e := range t.entries {
		write(e, e.text)
	}
	if t.typing != nil {
		runes := []rune(t.typing.text)
		write(*t.typing, string(runes[:t.shown]))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Plain returns the transcript without styling, one entry per line.
func (t *transcript) Plain() []string {
	lines := make([]string, 0, len(t.entries)+1)
	for _, e := range t.entries {
		lines = append(lines, e.speaker.Prefix()+e.text)
	}
	if t.typing != nil {
		runes := []rune(t.typing.text)
		lines = append(lines, t.typing.speaker.Prefix()+string(runes[:t.shown]))
	}
	return lines
}
