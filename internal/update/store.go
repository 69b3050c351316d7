package update

import "time"

// Settings keys written after a successful install.
const (
	SettingAppVersion   = "app_version"
	SettingLastUpdateAt = "last_update_at"
)

// SettingsStore is the key/value settings table of the installation.
type SettingsStore interface {
	// GetSetting returns the value and whether the key exists.
	GetSetting(key string) (string, bool, error)

	// SetSettings writes all pairs in one transaction.
	SetSettings(values map[string]string) error
}

// Action names a workflow step.
type Action string

const (
	ActionCheck    Action = "check"
	ActionDownload Action = "download"
	ActionPreview  Action = "preview"
	ActionInstall  Action = "install"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Operation is one history row.
type Operation struct {
	ID         string
	SessionID  string
	Action     Action
	ReleaseTag string
	Status     string
	Message    string
	Stats      *Stats
	StartedAt  time.Time
	FinishedAt time.Time
}

// HistoryStore records the outcome of every download, preview and install.
type HistoryStore interface {
	RecordOperation(op *Operation) error

	// ListOperations returns the most recent operations first.
	// A limit of zero or less returns all of them.
	ListOperations(limit int) ([]*Operation, error)
}
