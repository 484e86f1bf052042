package pipeline

import "strings"

// State is a pipeline run state. Runs move strictly forward through the
// stage states and end in Done or Failed.
type State string

const (
	Idle         State = "idle"
	Searching    State = "searching"
	Fetching     State = "fetching"
	Transcribing State = "transcribing"
	Translating  State = "translating"
	Synthesizing State = "synthesizing"
	Done         State = "done"
	Failed       State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Label is the display name of the stage, e.g. "Translating".
func (s State) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}
