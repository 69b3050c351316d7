// Package report renders update outcomes, reconciliation reports, history
// and backups as terminal tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"panelup/internal/update"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// WriteOutcome prints the version summary and messages of an operation,
// followed by its report when there is one.
func WriteOutcome(w io.Writer, out *update.Outcome, verbose bool) {
	if out == nil {
		return
	}
	fmt.Fprintf(w, "Installed version: %s\n", displayVersion(out.CurrentVersion))
	if out.Release != nil {
		fmt.Fprintf(w, "Latest release:    %s", out.Release.Tag)
		if out.Release.Name != "" && out.Release.Name != out.Release.Tag {
			fmt.Fprintf(w, " (%s)", out.Release.Name)
		}
		fmt.Fprintln(w)
	}
	if out.Action == update.ActionCheck {
		fmt.Fprintf(w, "Update available:  %s\n", out.Availability)
	}
	for _, m := range out.Messages {
		fmt.Fprintf(w, "%s: %s\n", strings.ToUpper(string(m.Level)), m.Text)
	}
	if out.Backup != nil {
		fmt.Fprintf(w, "Backup: %s\n", out.Backup.Path)
	}
	if out.ExportKey != "" {
		fmt.Fprintf(w, "Exported: %s\n", out.ExportKey)
	}
	if out.Report != nil {
		fmt.Fprintln(w)
		WriteReport(w, out.Report, verbose)
	}
}

// WriteReport prints the decision counts of a pass. With verbose set the
// display lines follow, truncated the same way the admin page shows them.
func WriteReport(w io.Writer, r *update.Report, verbose bool) {
	t := newTable(w)
	t.SetTitle(strings.TrimSpace(modeTitle(r.Mode) + " " + r.SourceTag))
	t.AppendHeader(table.Row{"Dirs", "Copied", "Updated", "Same", "Skipped", "Not writable", "Total"})
	s := r.Stats
	t.AppendRow(table.Row{s.Dirs, s.Copied, s.Updated, s.Same, s.Skipped, s.NotWritable, s.Total})
	t.Render()

	if errs := r.Errors(); len(errs) > 0 && !verbose {
		fmt.Fprintln(w, "Not writable:")
		for _, a := range errs {
			fmt.Fprintf(w, "  %s\n", a)
		}
	}
	if verbose {
		for _, line := range r.DisplayLines() {
			fmt.Fprintln(w, line)
		}
	}
}

// WriteHistory prints recorded operations.
func WriteHistory(w io.Writer, ops []*update.Operation) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "No operations recorded.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Started", "Action", "Release", "Status", "Changed", "Not writable", "Message"})
	for _, op := range ops {
		changed, notWritable := "", ""
		if op.Stats != nil {
			changed = fmt.Sprint(op.Stats.Changed())
			notWritable = fmt.Sprint(op.Stats.NotWritable)
		}
		t.AppendRow(table.Row{
			formatTime(op.StartedAt),
			op.Action,
			op.ReleaseTag,
			op.Status,
			changed,
			notWritable,
			op.Message,
		})
	}
	t.Render()
}

// WriteBackups prints local backup snapshots.
func WriteBackups(w io.Writer, snaps []*update.BackupSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No backups found.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Name", "Created", "Items", "Complete", "Path"})
	for _, s := range snaps {
		complete := "yes"
		if !s.Complete() {
			complete = fmt.Sprintf("no (%d failed)", len(s.Failures))
		}
		t.AppendRow(table.Row{s.Name, formatTime(s.CreatedAt), strings.Join(s.Items, ", "), complete, s.Path})
	}
	t.Render()
}

// WriteExports prints vault keys of exported backups.
func WriteExports(w io.Writer, keys []string) {
	if len(keys) == 0 {
		fmt.Fprintln(w, "No exports found.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Key"})
	for _, k := range keys {
		t.AppendRow(table.Row{k})
	}
	t.Render()
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(timeLayout)
}

func modeTitle(m update.Mode) string {
	if m == update.ModeInstall {
		return "Install"
	}
	return "Preview"
}

func displayVersion(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
