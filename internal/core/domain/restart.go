package domain

import "time"

// RestartStep names one stage of a tracker restart.
type RestartStep string

const (
	StepStop  RestartStep = "stop"
	StepSync  RestartStep = "sync"
	StepStart RestartStep = "start"
)

// RestartState is where a restart is in its lifecycle.
type RestartState string

const (
	RestartPending   RestartState = "pending"
	RestartRunning   RestartState = "running"
	RestartSucceeded RestartState = "succeeded"
	RestartFailed    RestartState = "failed"
)

// Done reports whether the restart has finished, successfully or not.
func (s RestartState) Done() bool {
	return s == RestartSucceeded || s == RestartFailed
}

// StepResult records how one restart stage went. Error is empty on success.
type StepResult struct {
	Step     RestartStep   `json:"step"`
	Error    string        `json:"error,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RestartReport is the record of one restart of the tracker application.
type RestartReport struct {
	ID         string       `json:"id"`
	Reason     string       `json:"reason"`
	State      RestartState `json:"state"`
	StartedAt  time.Time    `json:"started_at,omitzero"`
	FinishedAt time.Time    `json:"finished_at,omitzero"`
	Steps      []StepResult `json:"steps"`
}

// Succeeded reports whether the tracker was started again.
func (r RestartReport) Succeeded() bool {
	for _, s := range r.Steps {
		if s.Step == StepStart {
			return s.Error == ""
		}
	}
	return false
}

// AppStatus is the runtime view of the tracker application.
type AppStatus struct {
	Runtime string `json:"runtime"`
	Running bool   `json:"running"`
	Detail  string `json:"detail,omitempty"`
}
