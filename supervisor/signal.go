package supervisor

import "time"

// SignalType names a lifecycle notification for a thread's agent.
type SignalType string

const (
	SignalStarted    SignalType = "started"
	SignalRunning    SignalType = "running"
	SignalStatus     SignalType = "status"
	SignalError      SignalType = "error"
	SignalCompleted  SignalType = "completed"
	SignalFailed     SignalType = "failed"
	SignalStopped    SignalType = "stopped"
	SignalRestarting SignalType = "restarting"
)

// Terminal reports whether no further signals follow for the run.
func (t SignalType) Terminal() bool {
	switch t {
	case SignalCompleted, SignalFailed, SignalStopped:
		return true
	}
	return false
}

// Signal is emitted to subscribers as the worker progresses.
type Signal struct {
	ThreadID string     `json:"threadId"`
	Type     SignalType `json:"type"`
	Status   string     `json:"status,omitempty"`
	Message  string     `json:"message,omitempty"`
	Error    string     `json:"error,omitempty"`
	Attempt  int        `json:"attempt,omitempty"`
	Time     time.Time  `json:"time"`
}
