package schemas

import "time"

// -- Action Schemas --

// ActionType identifies the concrete browser action an oracle decision asks for.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionDoubleClick ActionType = "double_click"
	ActionTypeText    ActionType = "type"
	ActionScroll      ActionType = "scroll"
	ActionDrag        ActionType = "drag"
	ActionKeypress    ActionType = "keypress"
	ActionWait        ActionType = "wait"
	ActionNavigate    ActionType = "navigate"
	ActionDone        ActionType = "done"
)

// Action is a single concrete step proposed by the decision oracle. It is a
// flat tagged union: Type selects which of the remaining fields are meaningful.
type Action struct {
	Type ActionType `json:"type"`

	// Click, double_click, and the drag origin.
	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// Drag destination.
	X2 int `json:"x2,omitempty"`
	Y2 int `json:"y2,omitempty"`

	// Scroll deltas in CSS pixels. Positive DeltaY scrolls down.
	DeltaX int `json:"delta_x,omitempty"`
	DeltaY int `json:"delta_y,omitempty"`

	// Text for the type action.
	Text string `json:"text,omitempty"`

	// Key for the keypress action, e.g. "Enter" or "Control+a".
	Key string `json:"key,omitempty"`

	// DurationMs for the wait action.
	DurationMs int `json:"duration_ms,omitempty"`

	// URL for the navigate action.
	URL string `json:"url,omitempty"`

	// Summary accompanies the done action.
	Summary string `json:"summary,omitempty"`
}

// ActionOutcome records what happened when one Action was applied. Outcomes are
// accumulated into the loop history and fed back to the oracle; a failed
// outcome is information, not a loop error.
type ActionOutcome struct {
	Action      Action        `json:"action"`
	Success     bool          `json:"success"`
	Code        ErrorCode     `json:"code,omitempty"`
	Detail      string        `json:"detail,omitempty"`
	PageChanged bool          `json:"page_changed"`
	Duration    time.Duration `json:"duration_ns"`

	// Context is the page state captured after the action settled. Nil when
	// capture itself failed; the loop tolerates that.
	Context *PageContext `json:"context,omitempty"`
}
