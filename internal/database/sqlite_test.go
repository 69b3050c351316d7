package database

import (
	"path/filepath"
	"testing"
	"time"

	"panelup/internal/config"
	"panelup/internal/update"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", fixedClock{testNow})
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestSQLiteDatabase_Settings(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		db := newTestDB(t)
		v, ok, err := db.GetSetting(update.SettingAppVersion)
		if err != nil {
			t.Fatalf("GetSetting() error = %v", err)
		}
		if ok || v != "" {
			t.Errorf("GetSetting() = %q, %v, want missing", v, ok)
		}
	})

	t.Run("set and overwrite", func(t *testing.T) {
		db := newTestDB(t)
		if err := db.SetSettings(map[string]string{
			update.SettingAppVersion:   "1.2.3",
			update.SettingLastUpdateAt: "2024-01-15T10:30:00Z",
		}); err != nil {
			t.Fatalf("SetSettings() error = %v", err)
		}
		if err := db.SetSettings(map[string]string{update.SettingAppVersion: "1.3.0"}); err != nil {
			t.Fatalf("SetSettings() error = %v", err)
		}

		v, ok, err := db.GetSetting(update.SettingAppVersion)
		if err != nil || !ok || v != "1.3.0" {
			t.Errorf("GetSetting(app_version) = %q, %v, %v", v, ok, err)
		}
		v, ok, _ = db.GetSetting(update.SettingLastUpdateAt)
		if !ok || v != "2024-01-15T10:30:00Z" {
			t.Errorf("GetSetting(last_update_at) = %q, %v", v, ok)
		}
	})
}

func TestSQLiteDatabase_Sessions(t *testing.T) {
	db := newTestDB(t)

	got, err := db.LoadSession("missing")
	if err != nil || got != nil {
		t.Fatalf("LoadSession(missing) = %v, %v", got, err)
	}

	sess := update.NewSession("sess-1", "token", testNow)
	sess.State = update.StatePreviewed
	sess.Release = &update.Release{Tag: "v1.3.0", ArchiveURL: "https://example.test/z"}
	sess.ArtifactPath = "/cache/v1.3.0.archive"
	sess.ArtifactTag = "v1.3.0"
	sess.LastReport = &update.Report{
		Mode:    update.ModePreview,
		Actions: []update.FileAction{{Path: "index.php", Kind: update.EntryFile, Decision: update.DecisionSkip}},
		Stats:   update.Stats{Skipped: 1, Total: 1},
	}
	if err := db.SaveSession(&sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err = db.LoadSession("sess-1")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got.State != update.StatePreviewed || got.ArtifactTag != "v1.3.0" || got.CSRFToken != "token" {
		t.Errorf("LoadSession() = %+v", got)
	}
	if got.Release == nil || got.Release.Tag != "v1.3.0" {
		t.Errorf("Release = %+v", got.Release)
	}
	if got.LastReport == nil || got.LastReport.Stats.Skipped != 1 || len(got.LastReport.Actions) != 1 {
		t.Errorf("LastReport = %+v", got.LastReport)
	}

	got.State = update.StateInstalled
	if err := db.SaveSession(got); err != nil {
		t.Fatalf("SaveSession() update error = %v", err)
	}
	again, _ := db.LoadSession("sess-1")
	if again.State != update.StateInstalled {
		t.Errorf("State = %q after update", again.State)
	}

	if err := db.DeleteSession("sess-1"); err != nil {
		t.Fatal(err)
	}
	if gone, _ := db.LoadSession("sess-1"); gone != nil {
		t.Error("session still present after delete")
	}
}

func TestSQLiteDatabase_PruneSessions(t *testing.T) {
	db := newTestDB(t)
	sess := update.NewSession("old", "", testNow)
	if err := db.SaveSession(&sess); err != nil {
		t.Fatal(err)
	}

	n, err := db.PruneSessions(testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("PruneSessions() = %d, want 1", n)
	}
}

func TestSQLiteDatabase_Operations(t *testing.T) {
	db := newTestDB(t)

	ops := []*update.Operation{
		{ID: "op-1", Action: update.ActionDownload, ReleaseTag: "v1.3.0", Status: update.StatusSuccess,
			StartedAt: testNow, FinishedAt: testNow.Add(time.Second)},
		{ID: "op-2", Action: update.ActionPreview, ReleaseTag: "v1.3.0", Status: update.StatusSuccess,
			Stats:     &update.Stats{Copied: 2, Same: 5, Total: 7},
			StartedAt: testNow.Add(time.Minute), FinishedAt: testNow.Add(time.Minute)},
		{ID: "op-3", Action: update.ActionInstall, ReleaseTag: "v1.3.0", Status: update.StatusPartial,
			Message: "1 entries failed", Stats: &update.Stats{NotWritable: 1, Total: 1},
			StartedAt: testNow.Add(2 * time.Minute), FinishedAt: testNow.Add(3 * time.Minute)},
	}
	for _, op := range ops {
		if err := db.RecordOperation(op); err != nil {
			t.Fatalf("RecordOperation(%s) error = %v", op.ID, err)
		}
	}

	all, err := db.ListOperations(0)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != "op-3" || all[2].ID != "op-1" {
		t.Errorf("order = %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[0].Stats == nil || all[0].Stats.NotWritable != 1 {
		t.Errorf("stats = %+v", all[0].Stats)
	}
	if all[2].Stats != nil {
		t.Errorf("download stats = %+v, want nil", all[2].Stats)
	}
	if !all[1].StartedAt.Equal(testNow.Add(time.Minute)) {
		t.Errorf("StartedAt = %v", all[1].StartedAt)
	}

	limited, err := db.ListOperations(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "op-3" {
		t.Errorf("ListOperations(1) = %v", limited)
	}
}

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir}, nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()
		if got.Path() != filepath.Join(dir, DatabaseFileName) {
			t.Errorf("Path() = %q", got.Path())
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "sqlite"}, nil)
		if err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewDatabaseFromConfig() should return nil on error")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "postgres"}, nil); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type")
		}
	})
}

func TestSQLiteDatabase_CheckSchema(t *testing.T) {
	if err := newTestDB(t).CheckSchema(); err != nil {
		t.Errorf("CheckSchema() on migrated database error = %v", err)
	}

	conn, err := OpenConnection(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	raw := NewSQLiteDatabaseFromDB(conn, ":memory:", nil)
	defer raw.Close()
	if err := raw.CheckSchema(); err == nil {
		t.Error("CheckSchema() on unmigrated database expected error")
	}
}
