package console

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	Submit key.Binding
	Toggle key.Binding
	Reset  key.Binding

	TaskPlanning   key.Binding
	TaskAction     key.Binding
	TaskCaptioning key.Binding
	TaskEmbodiedQA key.Binding
	TaskGrounding  key.Binding

	ScrollUp   key.Binding
	ScrollDown key.Binding

	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("ctrl+p"),
		key.WithHelp("C-p", "pause/resume"),
	),
	Reset: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("C-r", "reset"),
	),
	TaskPlanning: key.NewBinding(
		key.WithKeys("f1"),
		key.WithHelp("F1", "planning"),
	),
	TaskAction: key.NewBinding(
		key.WithKeys("f2"),
		key.WithHelp("F2", "action"),
	),
	TaskCaptioning: key.NewBinding(
		key.WithKeys("f3"),
		key.WithHelp("F3", "captioning"),
	),
	TaskEmbodiedQA: key.NewBinding(
		key.WithKeys("f4"),
		key.WithHelp("F4", "embodied qa"),
	),
	TaskGrounding: key.NewBinding(
		key.WithKeys("f5"),
		key.WithHelp("F5", "grounding"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "scroll down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("C-c", "quit"),
	),
}
