package types

import "strings"

// Task is an agent interaction mode. It decides how a command is routed on
// the server and how the reply is post-processed.
type Task string

const (
	TaskNone       Task = ""
	TaskPlanning   Task = "planning"
	TaskAction     Task = "action"
	TaskCaptioning Task = "captioning"
	TaskEmbodiedQA Task = "embodied_qa"
	TaskGrounding  Task = "grounding"
)

// Tasks lists the selectable tasks in button order.
var Tasks = []Task{TaskPlanning, TaskAction, TaskCaptioning, TaskEmbodiedQA, TaskGrounding}

var taskLabels = map[Task]string{
	TaskPlanning:   "Planning",
	TaskAction:     "Action",
	TaskCaptioning: "Captioning",
	TaskEmbodiedQA: "Embodied QA",
	TaskGrounding:  "Grounding",
}

func (t Task) Label() string {
	if label, ok := taskLabels[t]; ok {
		return label
	}
	return "None"
}

func (t Task) Valid() bool {
	_, ok := taskLabels[t]
	return ok
}

// ParseTask accepts wire names ("embodied_qa") as well as button labels
// ("Embodied QA"), case-insensitively.
func ParseTask(value string) (Task, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	if normalized == "eqa" || normalized == "qa" {
		return TaskEmbodiedQA, true
	}
	task := Task(normalized)
	if !task.Valid() {
		return TaskNone, false
	}
	return task, true
}
