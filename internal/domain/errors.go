package domain

import "errors"

// Lifecycle, lookup and backup failures the rest of the system classifies
// with errors.Is. Wrap with context at call sites; never compare strings.
var (
	ErrAlreadyRunning       = errors.New("server is already running")
	ErrNotRunning           = errors.New("server is not running")
	ErrMissingExecutable    = errors.New("launch executable not found")
	ErrExitedImmediately    = errors.New("process exited immediately after start")
	ErrServerNotFound       = errors.New("server not found")
	ErrNetworkNotFound      = errors.New("network not found")
	ErrDuplicateMember      = errors.New("server is already a network member")
	ErrInvalidRole          = errors.New("invalid membership role")
	ErrArchiveSourceMissing = errors.New("backup source directory not found")
	ErrArchiveSourceEmpty   = errors.New("backup source directory is empty")
	ErrArchiveMissing       = errors.New("backup archive not found")
	ErrRemoteUnavailable    = errors.New("remote storage unavailable")
	ErrExtractionFailed     = errors.New("archive extraction failed")
)
