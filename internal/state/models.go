package state

import "time"

// ProcessStatus describes the lifecycle of the worker process.
type ProcessStatus string

const (
	ProcessRunning ProcessStatus = "Running"
	ProcessStopped ProcessStatus = "Stopped"
	ProcessExited  ProcessStatus = "Exited"
	ProcessFailed  ProcessStatus = "Failed"
)

// ProcessRecord describes a spawned worker.
type ProcessRecord struct {
	Command    string
	Args       []string
	PID        int
	StartedAt  time.Time
	ExitedAt   *time.Time
	Status     ProcessStatus
	ExitCode   *int
	ExitReason string
}

// Clone returns a copy that shares no slices or pointers with r.
func (r ProcessRecord) Clone() ProcessRecord {
	out := r
	out.Args = append([]string(nil), r.Args...)
	if r.ExitedAt != nil {
		t := *r.ExitedAt
		out.ExitedAt = &t
	}
	if r.ExitCode != nil {
		c := *r.ExitCode
		out.ExitCode = &c
	}
	return out
}

// ExitPayload reports how a worker run ended.
type ExitPayload struct {
	PID      int
	ExitCode int
	Reason   string
	// Requested is true when the exit followed an explicit stop.
	Requested bool
}
