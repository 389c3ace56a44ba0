package session

type State int32

const (
	Initializing State = iota
	Paused
	Running
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Paused:
		return "paused"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

type Speaker int

const (
	System Speaker = iota
	You
	Agent
)

func (s Speaker) Prefix() string {
	switch s {
	case You:
		return "You: "
	case Agent:
		return "Agent: "
	default:
		return "System: "
	}
}

// Message is one transcript line produced by a session operation.
type Message struct {
	Speaker Speaker
	Text    string
}

func (m Message) String() string {
	return m.Speaker.Prefix() + m.Text
}

// Outcome is what the console should show after an operation. Zero
// fields mean "leave as is".
type Outcome struct {
	Messages []Message
	Status   string
	// Placeholder replaces the frame area until the next frame arrives.
	Placeholder string
}

func (o *Outcome) system(text string) {
	o.Messages = append(o.Messages, Message{Speaker: System, Text: text})
}
