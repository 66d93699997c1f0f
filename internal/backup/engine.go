package backup

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

const (
	defaultLockRetries = 3
	defaultLockDelay   = 500 * time.Millisecond
)

// Engine archives and restores server data directories. A backup that
// skips a handful of locked files is worth more than one that fails
// entirely, so per-file trouble is recorded, not fatal; only source-level
// problems abort a run.
type Engine struct {
	store       domain.Store
	backupsPath string
	remote      RemoteStorage
	notifier    notify.Notifier

	lockRetries int
	lockDelay   time.Duration
}

func NewEngine(store domain.Store, backupsPath string, remote RemoteStorage, notifier notify.Notifier) *Engine {
	return &Engine{
		store:       store,
		backupsPath: backupsPath,
		remote:      remote,
		notifier:    notifier,
		lockRetries: defaultLockRetries,
		lockDelay:   defaultLockDelay,
	}
}

// CreateOptions tune one backup run.
type CreateOptions struct {
	// Name overrides the archive base name; defaults to the server name.
	Name string
	// Excludes are glob patterns matched against source-relative paths.
	Excludes []string
	// RuleID ties the backup to a recurring trigger for rotation.
	RuleID string
	// NetworkBackupID groups this run into a network backup.
	NetworkBackupID string
	// Remote uploads the finished archive to remote storage and drops the
	// local copy.
	Remote bool
}

// Create archives the server's data directory. The returned record is
// non-nil whenever one was persisted, including failed runs.
func (e *Engine) Create(serverID string, opts CreateOptions) (*domain.Backup, error) {
	srv, err := e.store.GetServerByID(serverID)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}
	if opts.Remote && e.remote == nil {
		return nil, fmt.Errorf("%w: no remote storage configured", domain.ErrRemoteUnavailable)
	}

	source := srv.DataDir
	if info, serr := os.Stat(source); serr != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrArchiveSourceMissing, source)
	}

	name := opts.Name
	if name == "" {
		name = srv.Name
	}
	fileName := fmt.Sprintf("%s-%s.zip", sanitizeFileName(name), time.Now().Format("20060102-150405"))

	storage := domain.StorageLocal
	if opts.Remote {
		storage = domain.StorageRemote
	}
	rec := &domain.Backup{
		ID:              uuid.New().String(),
		ServerID:        serverID,
		Name:            fileName,
		Storage:         storage,
		Status:          domain.BackupPending,
		RuleID:          opts.RuleID,
		NetworkBackupID: opts.NetworkBackupID,
		CreatedAt:       time.Now(),
	}
	if err := e.store.SaveBackup(rec); err != nil {
		return nil, fmt.Errorf("could not save backup record: %w", err)
	}

	localPath := filepath.Join(e.backupsPath, fileName)
	tempPath := localPath + ".temp"
	if err := os.MkdirAll(e.backupsPath, 0755); err != nil {
		return rec, e.fail(rec, tempPath, fmt.Errorf("could not create backups directory: %w", err))
	}

	rec.Status = domain.BackupCreating
	if err := e.store.UpdateBackup(rec); err != nil {
		log.Printf("warning: could not mark backup %s creating: %v", rec.ID, err)
	}

	if err := e.writeArchive(rec, source, tempPath, opts.Excludes); err != nil {
		return rec, e.fail(rec, tempPath, err)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		return rec, e.fail(rec, tempPath, fmt.Errorf("could not finalize archive: %w", err))
	}
	if info, serr := os.Stat(localPath); serr == nil {
		rec.SizeBytes = info.Size()
	}

	rec.Path = localPath
	if opts.Remote {
		if err := e.remote.Upload(localPath, fileName); err != nil {
			return rec, e.fail(rec, localPath, fmt.Errorf("%w: upload failed: %v", domain.ErrRemoteUnavailable, err))
		}
		// The local copy only goes once the upload has landed.
		if err := os.Remove(localPath); err != nil {
			log.Printf("warning: could not remove local staging copy %s: %v", localPath, err)
		}
		rec.Path = fileName
	}

	now := time.Now()
	rec.Status = domain.BackupCompleted
	rec.CompletedAt = &now
	if err := e.store.UpdateBackup(rec); err != nil {
		return rec, fmt.Errorf("backup written but record not updated: %w", err)
	}
	e.notify(domain.EventBackupCompleted, serverID,
		fmt.Sprintf("%s (%d archived, %d skipped)", fileName, rec.FilesArchived, len(rec.Skipped)))
	return rec, nil
}

// writeArchive streams every non-excluded file under source into a zip at
// tempPath, filling the record's counts and skip list as it goes.
func (e *Engine) writeArchive(rec *domain.Backup, source, tempPath string, excludes []string) error {
	var files []string
	walkErr := filepath.Walk(source, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(source, p)
		if rerr != nil {
			return rerr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("could not enumerate %s: %w", source, walkErr)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrArchiveSourceEmpty, source)
	}
	rec.FilesScanned = len(files)

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("could not create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	for _, rel := range files {
		if matchesExclude(rel, excludes) {
			rec.Skipped = append(rec.Skipped, domain.SkippedFile{Path: rel, Reason: domain.SkipExcluded})
			continue
		}
		if err := e.archiveFile(zw, rec, source, rel); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("could not close archive: %w", err)
	}
	return out.Close()
}

// archiveFile copies one file into the archive, retrying locked files a
// fixed number of times before recording them as skipped. A file deleted
// since enumeration is skipped too.
func (e *Engine) archiveFile(zw *zip.Writer, rec *domain.Backup, source, rel string) error {
	full := filepath.Join(source, filepath.FromSlash(rel))

	var in *os.File
	var err error
	for attempt := 0; ; attempt++ {
		in, err = os.Open(full)
		if err == nil {
			break
		}
		if os.IsNotExist(err) {
			rec.Skipped = append(rec.Skipped, domain.SkippedFile{Path: rel, Reason: domain.SkipMissing})
			return nil
		}
		if !isLockedErr(err) {
			return fmt.Errorf("could not read %s: %w", rel, err)
		}
		if attempt >= e.lockRetries {
			log.Printf("backup %s: %s still locked after %d attempts, skipping", rec.ID, rel, attempt)
			rec.Skipped = append(rec.Skipped, domain.SkippedFile{Path: rel, Reason: domain.SkipLocked})
			return nil
		}
		time.Sleep(e.lockDelay)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("could not stat %s: %w", rel, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = rel
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("could not archive %s: %w", rel, err)
	}
	rec.FilesArchived++
	return nil
}

// fail finalizes a backup run that cannot complete: the partial artifact
// is removed and the record keeps the error message.
func (e *Engine) fail(rec *domain.Backup, partialPath string, cause error) error {
	if partialPath != "" {
		if rerr := os.Remove(partialPath); rerr != nil && !os.IsNotExist(rerr) {
			log.Printf("warning: could not remove partial backup artifact %s: %v", partialPath, rerr)
		}
	}
	rec.Status = domain.BackupFailed
	rec.Error = cause.Error()
	if err := e.store.UpdateBackup(rec); err != nil {
		log.Printf("warning: could not mark backup %s failed: %v", rec.ID, err)
	}
	e.notify(domain.EventBackupFailed, rec.ServerID, cause.Error())
	return cause
}

// Restore extracts a backup into its server's data directory. The current
// directory is moved aside first and only deleted after a clean extract;
// on extraction failure the sibling stays on disk for manual recovery
// rather than risking an automatic rollback on top of a bad disk.
func (e *Engine) Restore(backupID string) error {
	rec, err := e.store.GetBackupByID(backupID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: backup %s", domain.ErrArchiveMissing, backupID)
	}
	if rec.Status != domain.BackupCompleted {
		return fmt.Errorf("backup %s is %s, only completed backups can be restored", backupID, rec.Status)
	}
	srv, err := e.store.GetServerByID(rec.ServerID)
	if err != nil {
		return err
	}
	if srv == nil {
		return fmt.Errorf("%w: %s", domain.ErrServerNotFound, rec.ServerID)
	}

	archivePath := rec.Path
	if rec.Storage == domain.StorageRemote {
		if e.remote == nil {
			return fmt.Errorf("%w: no remote storage configured", domain.ErrRemoteUnavailable)
		}
		ok, eerr := e.remote.Exists(rec.Path)
		if eerr != nil {
			return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, eerr)
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrArchiveMissing, rec.Path)
		}
		archivePath = filepath.Join(e.backupsPath, rec.Name+".download")
		if derr := e.remote.Download(rec.Path, archivePath); derr != nil {
			return fmt.Errorf("%w: download failed: %v", domain.ErrRemoteUnavailable, derr)
		}
		defer os.Remove(archivePath)
	}
	if _, serr := os.Stat(archivePath); serr != nil {
		return fmt.Errorf("%w: %s", domain.ErrArchiveMissing, archivePath)
	}

	rec.Status = domain.BackupRestoring
	if uerr := e.store.UpdateBackup(rec); uerr != nil {
		log.Printf("warning: could not mark backup %s restoring: %v", rec.ID, uerr)
	}

	aside := fmt.Sprintf("%s.pre-restore-%s", srv.DataDir, time.Now().Format("20060102-150405"))
	if _, serr := os.Stat(srv.DataDir); serr == nil {
		if rerr := os.Rename(srv.DataDir, aside); rerr != nil {
			e.restoreDone(rec, "")
			return fmt.Errorf("could not move data directory aside: %w", rerr)
		}
	} else {
		aside = ""
	}
	if err := os.MkdirAll(srv.DataDir, 0755); err != nil {
		e.restoreDone(rec, "")
		return fmt.Errorf("could not recreate data directory: %w", err)
	}

	if err := unzip(archivePath, srv.DataDir); err != nil {
		e.restoreDone(rec, fmt.Sprintf("restore failed: %v", err))
		if aside != "" {
			log.Printf("backup %s: extraction failed, previous data kept at %s", rec.ID, aside)
		}
		return fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	if aside != "" {
		if rerr := os.RemoveAll(aside); rerr != nil {
			log.Printf("warning: could not remove pre-restore copy %s: %v", aside, rerr)
		}
	}
	e.restoreDone(rec, "")
	return nil
}

// restoreDone returns the record to completed, recording the failure
// message if the restore went wrong. A failed restore does not invalidate
// the archive itself.
func (e *Engine) restoreDone(rec *domain.Backup, errMsg string) {
	rec.Status = domain.BackupCompleted
	if errMsg != "" {
		rec.Error = errMsg
	}
	if err := e.store.UpdateBackup(rec); err != nil {
		log.Printf("warning: could not update backup %s after restore: %v", rec.ID, err)
	}
}

// Delete removes the archive and then the record. A failing remote delete
// is a warning, never a reason to keep the record around.
func (e *Engine) Delete(backupID string) error {
	rec, err := e.store.GetBackupByID(backupID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	switch rec.Storage {
	case domain.StorageRemote:
		if e.remote != nil {
			if derr := e.remote.Delete(rec.Path); derr != nil {
				log.Printf("warning: could not delete remote archive %s: %v", rec.Path, derr)
			}
		}
	default:
		if rec.Path != "" {
			if derr := os.Remove(rec.Path); derr != nil && !os.IsNotExist(derr) {
				log.Printf("warning: could not delete archive %s: %v", rec.Path, derr)
			}
		}
	}
	return e.store.DeleteBackup(backupID)
}

// RotateForRule trims a recurring trigger's completed backups down to its
// retention limit, oldest first. A limit of zero means unlimited. One
// stubborn record never blocks rotation of the rest; the number actually
// deleted is returned.
func (e *Engine) RotateForRule(ruleID string, limit int) int {
	if limit <= 0 {
		return 0
	}
	completed, err := e.store.ListCompletedByRule(ruleID)
	if err != nil {
		log.Printf("warning: could not list backups for rule %s: %v", ruleID, err)
		return 0
	}
	if len(completed) <= limit {
		return 0
	}

	deleted := 0
	for _, b := range completed[limit:] {
		if err := e.Delete(b.ID); err != nil {
			log.Printf("warning: rotation could not delete backup %s: %v", b.ID, err)
			continue
		}
		deleted++
	}
	return deleted
}

// CreateNetworkBackup archives every member of a network under one
// aggregate record, which completes only if every member backup did.
func (e *Engine) CreateNetworkBackup(networkID string, opts CreateOptions) (*domain.NetworkBackup, []domain.Backup, error) {
	n, err := e.store.GetNetworkByID(networkID)
	if err != nil {
		return nil, nil, err
	}
	if n == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, networkID)
	}
	members, err := e.store.ListMemberships(networkID)
	if err != nil {
		return nil, nil, err
	}

	nb := &domain.NetworkBackup{
		ID:        uuid.New().String(),
		NetworkID: networkID,
		Status:    domain.BackupPending,
		CreatedAt: time.Now(),
	}
	if err := e.store.SaveNetworkBackup(nb); err != nil {
		return nil, nil, fmt.Errorf("could not save network backup record: %w", err)
	}

	memberOpts := opts
	memberOpts.NetworkBackupID = nb.ID

	var backups []domain.Backup
	allCompleted := true
	for _, m := range members {
		b, berr := e.Create(m.ServerID, memberOpts)
		if b != nil {
			backups = append(backups, *b)
		}
		if berr != nil || b == nil || b.Status != domain.BackupCompleted {
			log.Printf("network backup %s: member %s failed: %v", nb.ID, m.ServerID, berr)
			allCompleted = false
		}
	}

	nb.Status = domain.BackupCompleted
	if !allCompleted {
		nb.Status = domain.BackupFailed
	}
	if err := e.store.UpdateNetworkBackupStatus(nb.ID, nb.Status); err != nil {
		log.Printf("warning: could not update network backup %s: %v", nb.ID, err)
	}
	return nb, backups, nil
}

func (e *Engine) notify(kind domain.EventKind, serverID, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(notify.Event{Kind: kind, ServerID: serverID, Message: message, At: time.Now()})
}
