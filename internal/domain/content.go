package domain

import "time"

type ContentKind string

const (
	// ContentBundle is an archive payload unpacked selectively into the
	// server's mods directory.
	ContentBundle ContentKind = "bundle"
	// ContentFile is a single file written as-is.
	ContentFile ContentKind = "file"
)

// ContentItem records one installed mod or plugin and the exact file set
// written at install time. Uninstall removes exactly these files, never a
// directory sweep.
type ContentItem struct {
	ID       string      `json:"id"`
	ServerID string      `json:"serverId"`
	Title    string      `json:"title"`
	Kind     ContentKind `json:"kind"`
	// FileName is the payload's declared name, used to derive the on-disk
	// name for single-file installs. Falls back to the sanitized title.
	FileName string `json:"fileName,omitempty"`
	// Files are paths relative to the server's data directory, as written
	// (with the disabled suffix when Enabled is false).
	Files       []string  `json:"files"`
	Enabled     bool      `json:"enabled"`
	InstalledAt time.Time `json:"installedAt"`
}

// EventKind names a lifecycle or backup event delivered to notification
// sinks and matched by event-triggered automation rules.
type EventKind string

const (
	EventServerStarted   EventKind = "server.started"
	EventServerStopped   EventKind = "server.stopped"
	EventServerRestarted EventKind = "server.restarted"
	EventServerCrashed   EventKind = "server.crashed"
	EventBackupCompleted EventKind = "backup.completed"
	EventBackupFailed    EventKind = "backup.failed"
)
