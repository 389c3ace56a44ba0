package console

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"optimus-console-go/internal/types"
)

var helpLines = []string{
	"/task <planning|action|captioning|embodied_qa|grounding>  select a task (F1-F5)",
	"/pause, /resume  pause or resume the agent (Ctrl+P toggles)",
	"/reset  reset the environment (Ctrl+R)",
	"/status  check the server",
	"/gpu  show GPU usage on the server",
	"/text  fetch the server's latest text",
	"/quit  leave (Ctrl+C)",
}

// runCommand handles a slash command typed into the input line.
func (m Model) runCommand(line string) (Model, tea.Cmd) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return m, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "task":
		if len(args) == 0 {
			m.system("Usage: /task <name>")
			return m, nil
		}
		task, ok := types.ParseTask(strings.Join(args, " "))
		if !ok {
			m.system(fmt.Sprintf("Unknown task %q.", strings.Join(args, " ")))
			return m, nil
		}
		return m.selectTask(task)
	case "pause":
		return m.apply(m.session.Pause(), nil)
	case "resume":
		return m.apply(m.session.Resume(), nil)
	case "reset":
		out, err := m.session.Reset()
		return m.apply(out, err)
	case "status":
		m.enqueue("status", m.checkStatus)
		return m, nil
	case "gpu":
		m.enqueue("gpu", func(ctx context.Context) types.Event {
			info, err := m.agent.GPU(ctx)
			return types.Diagnostic{Name: "GPU", Text: formatMap(info), Err: err}
		})
		return m, nil
	case "text":
		m.enqueue("receive_text", func(ctx context.Context) types.Event {
			text, err := m.agent.ReceiveText(ctx)
			return types.Diagnostic{Name: "Server text", Text: text, Err: err}
		})
		return m, nil
	case "help", "?":
		for _, l := range helpLines {
			m.system(l)
		}
		return m, nil
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	default:
		m.system(fmt.Sprintf("Unknown command /%s. Try /help.", name))
		return m, nil
	}
}

func formatMap(info map[string]any) string {
	if len(info) == 0 {
		return ""
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, info[k]))
	}
	return strings.Join(parts, " ")
}
