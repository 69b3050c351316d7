package server

import (
	"time"

	"panelup/internal/update"
)

type reportView struct {
	Mode      update.Mode  `json:"mode"`
	SourceTag string       `json:"source_tag,omitempty"`
	Stats     update.Stats `json:"stats"`
	Lines     []string     `json:"lines"`
}

func newReportView(r *update.Report) *reportView {
	if r == nil {
		return nil
	}
	return &reportView{Mode: r.Mode, SourceTag: r.SourceTag, Stats: r.Stats, Lines: r.DisplayLines()}
}

type statusView struct {
	CurrentVersion string           `json:"current_version"`
	Availability   string           `json:"availability"`
	Release        *update.Release  `json:"release,omitempty"`
	State          update.State     `json:"state"`
	ArtifactTag    string           `json:"artifact_tag,omitempty"`
	CSRFToken      string           `json:"csrf_token"`
	LastError      string           `json:"last_error,omitempty"`
	LastReport     *reportView      `json:"last_report,omitempty"`
	Messages       []update.Message `json:"messages"`
}

func newStatusView(sess *update.Session, out *update.Outcome) statusView {
	return statusView{
		CurrentVersion: out.CurrentVersion,
		Availability:   out.Availability.String(),
		Release:        sess.Release,
		State:          sess.State,
		ArtifactTag:    sess.ArtifactTag,
		CSRFToken:      sess.CSRFToken,
		LastError:      sess.LastError,
		LastReport:     newReportView(sess.LastReport),
		Messages:       messages(out),
	}
}

type actionView struct {
	Action         update.Action          `json:"action"`
	State          update.State           `json:"state"`
	CurrentVersion string                 `json:"current_version,omitempty"`
	Report         *reportView            `json:"report,omitempty"`
	Backup         *update.BackupSnapshot `json:"backup,omitempty"`
	ExportKey      string                 `json:"export_key,omitempty"`
	Messages       []update.Message       `json:"messages"`
	Error          string                 `json:"error,omitempty"`
}

func newActionView(sess *update.Session, out *update.Outcome) actionView {
	v := actionView{
		Action:         out.Action,
		State:          sess.State,
		CurrentVersion: out.CurrentVersion,
		Report:         newReportView(out.Report),
		Backup:         out.Backup,
		ExportKey:      out.ExportKey,
		Messages:       messages(out),
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
	}
	return v
}

func messages(out *update.Outcome) []update.Message {
	if out.Messages == nil {
		return []update.Message{}
	}
	return out.Messages
}

type operationView struct {
	ID         string        `json:"id"`
	Action     update.Action `json:"action"`
	ReleaseTag string        `json:"release_tag,omitempty"`
	Status     string        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Stats      *update.Stats `json:"stats,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

func newOperationView(op *update.Operation) operationView {
	return operationView{
		ID:         op.ID,
		Action:     op.Action,
		ReleaseTag: op.ReleaseTag,
		Status:     op.Status,
		Message:    op.Message,
		Stats:      op.Stats,
		StartedAt:  op.StartedAt,
		FinishedAt: op.FinishedAt,
	}
}
