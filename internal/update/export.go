package update

// BackupExporter ships a finished snapshot offsite. The returned key
// identifies the export in the vault.
type BackupExporter interface {
	Export(snap *BackupSnapshot) (string, error)
}
