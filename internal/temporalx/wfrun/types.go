package wfrun

const (
	WorkflowName = "holdingpen_run"
	ActivityTick = "holdingpen_run_tick"
	SignalResume = "workflow_resume"
)

// TickResult is the run snapshot an activity tick reports back to the
// orchestrating workflow.
type TickResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}
