package app

import "time"

// Invocation identifies one CLI command or server run. Its ID tags every
// log line written during the run.
type Invocation struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
	Err       error
}

// NewInvocation creates an invocation of command starting at now.
func NewInvocation(command string, now time.Time) *Invocation {
	return &Invocation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
		Status:    "success",
	}
}

// Finish records the command's result.
func (inv *Invocation) Finish(err error) {
	if err != nil {
		inv.Status = "error"
		inv.Err = err
	}
}

// Failed returns true if Finish was called with an error.
func (inv *Invocation) Failed() bool {
	return inv.Status == "error"
}
