package update

import (
	"fmt"
	"time"
)

// Mode selects between a dry run and a real apply.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeInstall Mode = "install"
)

// EntryKind distinguishes directories from files in a FileAction.
type EntryKind string

const (
	EntryDirectory EntryKind = "dir"
	EntryFile      EntryKind = "file"
)

// Decision is the outcome recorded for one visited entry.
type Decision string

const (
	DecisionSkip   Decision = "skip"
	DecisionSame   Decision = "same"
	DecisionCopy   Decision = "copy"
	DecisionUpdate Decision = "update"
	DecisionDir    Decision = "dir"
	DecisionError  Decision = "error"
)

// FileAction records what happened (or would happen) to one entry.
type FileAction struct {
	Path     string    `json:"path"`
	Kind     EntryKind `json:"kind"`
	Decision Decision  `json:"decision"`
	Note     string    `json:"note,omitempty"`
}

// String formats the action as a single report line.
func (a FileAction) String() string {
	if a.Note == "" {
		return fmt.Sprintf("[%s] %s", a.Decision, a.Path)
	}
	return fmt.Sprintf("[%s] %s (%s)", a.Decision, a.Path, a.Note)
}

// Stats aggregates the decisions of one pass.
// Total == Dirs + Copied + Updated + Same + Skipped + NotWritable.
type Stats struct {
	Dirs        int `json:"dirs"`
	Copied      int `json:"copied"`
	Updated     int `json:"updated"`
	Same        int `json:"same"`
	Skipped     int `json:"skipped"`
	NotWritable int `json:"not_writable"`
	Total       int `json:"total"`
}

// Changed is the number of entries that were (or would be) written.
func (s Stats) Changed() int {
	return s.Copied + s.Updated
}

// Report is the ordered log and aggregate counts of one reconciliation pass.
type Report struct {
	Mode       Mode         `json:"mode"`
	SourceTag  string       `json:"source_tag,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Actions    []FileAction `json:"actions"`
	Omitted    int          `json:"omitted,omitempty"`
	OmitAt     int          `json:"omit_at,omitempty"`
	Stats      Stats        `json:"stats"`
}

// Display thresholds for long reports.
const (
	DisplayLimit = 500
	DisplayHead  = 120
	DisplayTail  = 380
)

// add appends an action and updates the counters. It is the only way actions
// enter a report, which keeps Stats consistent with Actions.
func (r *Report) add(a FileAction) {
	r.Actions = append(r.Actions, a)
	r.Stats.Total++
	switch a.Decision {
	case DecisionDir:
		r.Stats.Dirs++
	case DecisionCopy:
		r.Stats.Copied++
	case DecisionUpdate:
		r.Stats.Updated++
	case DecisionSame:
		r.Stats.Same++
	case DecisionSkip:
		r.Stats.Skipped++
	case DecisionError:
		r.Stats.NotWritable++
	}
}

// Errors returns the actions whose decision is Error.
func (r *Report) Errors() []FileAction {
	var out []FileAction
	for _, a := range r.Actions {
		if a.Decision == DecisionError {
			out = append(out, a)
		}
	}
	return out
}

// Lines renders the action log for display. Reports longer than limit lines
// keep their first head and last tail lines around an omission marker.
func (r *Report) Lines(limit, head, tail int) []string {
	t := r
	if r.Omitted == 0 && len(r.Actions) > limit {
		t = r.Truncated(head, tail)
	}

	lines := make([]string, 0, len(t.Actions)+1)
	for i, a := range t.Actions {
		if t.Omitted > 0 && i == t.OmitAt {
			lines = append(lines, omittedMarker(t.Omitted))
		}
		lines = append(lines, a.String())
	}
	if t.Omitted > 0 && t.OmitAt >= len(t.Actions) {
		lines = append(lines, omittedMarker(t.Omitted))
	}
	return lines
}

// DisplayLines is Lines with the default thresholds.
func (r *Report) DisplayLines() []string {
	return r.Lines(DisplayLimit, DisplayHead, DisplayTail)
}

// Truncated returns a copy keeping only the first head and last tail actions.
// Stats are copied unchanged so they still describe the full pass. A report
// that is already truncated, or short enough, is copied as is.
func (r *Report) Truncated(head, tail int) *Report {
	out := *r
	out.Actions = append([]FileAction(nil), r.Actions...)
	if r.Omitted > 0 || head+tail >= len(r.Actions) {
		return &out
	}
	kept := make([]FileAction, 0, head+tail)
	kept = append(kept, r.Actions[:head]...)
	kept = append(kept, r.Actions[len(r.Actions)-tail:]...)
	out.Actions = kept
	out.Omitted = len(r.Actions) - head - tail
	out.OmitAt = head
	return &out
}

func omittedMarker(n int) string {
	return fmt.Sprintf("... %d lines omitted ...", n)
}
