package domain

import "time"

type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupCreating  BackupStatus = "creating"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
	BackupRestoring BackupStatus = "restoring"
)

type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageRemote StorageKind = "remote"
)

// Skip reasons recorded per file during archive creation.
const (
	SkipExcluded = "excluded by pattern"
	SkipLocked   = "skipped (locked)"
	SkipMissing  = "skipped (missing)"
)

// SkippedFile records one file left out of an archive and why.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Backup is one archive of a server's data directory. Path is the archive
// location in its storage; for remote storage the local staging copy is
// deleted after upload.
type Backup struct {
	ID       string       `json:"id"`
	ServerID string       `json:"serverId"`
	Name     string       `json:"name"`
	Storage  StorageKind  `json:"storage"`
	Path     string       `json:"path"`
	Status   BackupStatus `json:"status"`

	SizeBytes     int64         `json:"sizeBytes"`
	FilesScanned  int           `json:"filesScanned"`
	FilesArchived int           `json:"filesArchived"`
	Skipped       []SkippedFile `json:"skipped,omitempty"`
	Error         string        `json:"error,omitempty"`

	// RuleID ties the backup to the recurring trigger that created it,
	// empty for manual backups. Rotation counts per rule.
	RuleID string `json:"ruleId,omitempty"`
	// NetworkBackupID groups member backups created by one network action.
	NetworkBackupID string `json:"networkBackupId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NetworkBackup aggregates one backup per network member from a single
// triggering action. Completed only when every member backup completed.
type NetworkBackup struct {
	ID        string       `json:"id"`
	NetworkID string       `json:"networkId"`
	Status    BackupStatus `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
}
