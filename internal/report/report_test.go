package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"panelup/internal/update"
)

func TestWriteReport(t *testing.T) {
	r := &update.Report{
		Mode:      update.ModeInstall,
		SourceTag: "v1.3.0",
		Actions: []update.FileAction{
			{Path: "app", Kind: update.EntryDirectory, Decision: update.DecisionDir},
			{Path: "app/x.php", Kind: update.EntryFile, Decision: update.DecisionError, Note: "not writable"},
		},
		Stats: update.Stats{Dirs: 1, NotWritable: 1, Total: 2},
	}

	t.Run("summary", func(t *testing.T) {
		var buf bytes.Buffer
		WriteReport(&buf, r, false)
		out := buf.String()
		for _, want := range []string{"Install v1.3.0", "Not writable", "[error] app/x.php (not writable)"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		if strings.Contains(out, "[dir] app") {
			t.Error("summary should not list every action")
		}
	})

	t.Run("verbose", func(t *testing.T) {
		var buf bytes.Buffer
		WriteReport(&buf, r, true)
		if !strings.Contains(buf.String(), "[dir] app") {
			t.Errorf("verbose output missing action lines:\n%s", buf.String())
		}
	})
}

func TestWriteReport_Truncates(t *testing.T) {
	r := &update.Report{Mode: update.ModePreview}
	for i := 0; i < 600; i++ {
		r.Actions = append(r.Actions, update.FileAction{Path: fmt.Sprintf("f%03d", i), Decision: update.DecisionSame})
	}
	r.Stats = update.Stats{Same: 600, Total: 600}

	var buf bytes.Buffer
	WriteReport(&buf, r, true)
	if !strings.Contains(buf.String(), "... 100 lines omitted ...") {
		t.Error("missing omission marker")
	}
}

func TestWriteOutcome(t *testing.T) {
	out := &update.Outcome{
		Action:         update.ActionCheck,
		Availability:   update.AvailabilityAvailable,
		CurrentVersion: "1.2.3",
		Release:        &update.Release{Tag: "v1.3.0", Name: "Spring"},
		Messages:       []update.Message{{Level: update.LevelInfo, Text: "version 1.3.0 is available"}},
	}
	var buf bytes.Buffer
	WriteOutcome(&buf, out, false)
	for _, want := range []string{"1.2.3", "v1.3.0 (Spring)", "available", "INFO: version 1.3.0 is available"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	WriteOutcome(&buf, &update.Outcome{Action: update.ActionCheck, Err: errors.New("x")}, false)
	if !strings.Contains(buf.String(), "unknown") {
		t.Errorf("unknown version/availability not shown:\n%s", buf.String())
	}
}

func TestWriteHistory(t *testing.T) {
	var buf bytes.Buffer
	WriteHistory(&buf, nil)
	if !strings.Contains(buf.String(), "No operations") {
		t.Error("empty history message missing")
	}

	buf.Reset()
	WriteHistory(&buf, []*update.Operation{
		{Action: update.ActionInstall, ReleaseTag: "v1.3.0", Status: update.StatusPartial,
			Stats: &update.Stats{Copied: 2, Updated: 3, NotWritable: 1}, StartedAt: time.Now()},
		{Action: update.ActionDownload, ReleaseTag: "v1.3.0", Status: update.StatusSuccess},
	})
	for _, want := range []string{"install", "partial", "download", "5"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestWriteBackups(t *testing.T) {
	var buf bytes.Buffer
	WriteBackups(&buf, []*update.BackupSnapshot{
		{Name: "20240115-103000", Items: []string{"app", "index.php"}},
		{Name: "20240114-090000", Failures: []update.BackupFailure{{Item: "vendor", Err: "denied"}}},
	})
	out := buf.String()
	for _, want := range []string{"20240115-103000", "app, index.php", "no (1 failed)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteExports(t *testing.T) {
	var buf bytes.Buffer
	WriteExports(&buf, []string{"backups/a.tar.gz.age"})
	if !strings.Contains(buf.String(), "backups/a.tar.gz.age") {
		t.Error("export key missing")
	}
}
