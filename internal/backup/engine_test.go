package backup

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/storage"
)

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	store, err := storage.NewGormStore(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return store
}

func seedServer(t *testing.T, store *storage.GormStore, id, dataDir string) {
	t.Helper()
	srv := &domain.Server{
		ID:      id,
		Name:    "srv-" + id,
		DataDir: dataDir,
		Launch: domain.LaunchConfig{
			Kind:    domain.AdapterProcess,
			Process: &domain.ProcessLaunch{Executable: "/srv/hytale/bin/HytaleServer"},
		},
		Status:    domain.StatusStopped,
		CreatedAt: time.Now(),
	}
	if err := store.SaveServer(srv); err != nil {
		t.Fatalf("SaveServer: %v", err)
	}
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile %s: %v", rel, err)
	}
}

func newTestEngine(t *testing.T, store *storage.GormStore) *Engine {
	t.Helper()
	e := NewEngine(store, t.TempDir(), nil, nil)
	e.lockDelay = time.Millisecond
	return e
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader %s: %v", path, err)
	}
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	dataDir := filepath.Join(t.TempDir(), "world")
	writeFile(t, dataDir, "a.dat", "alpha")
	writeFile(t, dataDir, "b.lock", "held")
	writeFile(t, dataDir, "zones/c.dat", "gamma")
	seedServer(t, store, "s1", dataDir)

	e := newTestEngine(t, store)
	rec, err := e.Create("s1", CreateOptions{Excludes: []string{"*.lock"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != domain.BackupCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.FilesScanned != 3 || rec.FilesArchived != 2 {
		t.Errorf("scanned/archived = %d/%d, want 3/2", rec.FilesScanned, rec.FilesArchived)
	}
	if len(rec.Skipped) != 1 || rec.Skipped[0].Path != "b.lock" || rec.Skipped[0].Reason != domain.SkipExcluded {
		t.Errorf("skipped = %+v, want b.lock excluded by pattern", rec.Skipped)
	}
	if rec.SizeBytes <= 0 {
		t.Error("size should be recorded")
	}

	names := archiveNames(t, rec.Path)
	if len(names) != 2 {
		t.Fatalf("archive holds %v, want 2 entries", names)
	}
	for _, n := range names {
		if n == "b.lock" {
			t.Error("excluded file ended up in the archive")
		}
	}

	// Dirty the data dir, then restore on top of it.
	writeFile(t, dataDir, "junk.tmp", "should vanish")
	if err := e.Restore(rec.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for rel, want := range map[string]string{"a.dat": "alpha", "zones/c.dat": "gamma"} {
		got, rerr := os.ReadFile(filepath.Join(dataDir, filepath.FromSlash(rel)))
		if rerr != nil {
			t.Fatalf("restored %s: %v", rel, rerr)
		}
		if string(got) != want {
			t.Errorf("restored %s = %q, want %q", rel, got, want)
		}
	}
	for _, absent := range []string{"b.lock", "junk.tmp"} {
		if _, serr := os.Stat(filepath.Join(dataDir, absent)); !os.IsNotExist(serr) {
			t.Errorf("%s should be absent after restore", absent)
		}
	}
	// The pre-restore sibling is gone after a clean extract.
	siblings, _ := filepath.Glob(dataDir + ".pre-restore-*")
	if len(siblings) != 0 {
		t.Errorf("pre-restore sibling left behind: %v", siblings)
	}
}

func TestExcludePatternMatchesNestedFiles(t *testing.T) {
	if !matchesExclude("zones/region.lock", []string{"*.lock"}) {
		t.Error("bare extension pattern should match nested files")
	}
	if !matchesExclude("cache/tmp/x.bin", []string{"**/x.bin"}) {
		t.Error("recursive pattern should match by base name")
	}
	if matchesExclude("zones/region.dat", []string{"*.lock"}) {
		t.Error("non-matching file excluded")
	}
	if matchesExclude("logs/latest.log", []string{"other/*.log"}) {
		t.Error("path-scoped pattern must not match outside its path")
	}
	if !matchesExclude("logs/latest.log", []string{"logs/*.log"}) {
		t.Error("path-scoped pattern should match inside its path")
	}
}

func TestCreateEmptySourceFails(t *testing.T) {
	store := newTestStore(t)
	dataDir := t.TempDir()
	seedServer(t, store, "s1", dataDir)

	e := newTestEngine(t, store)
	rec, err := e.Create("s1", CreateOptions{})
	if !errors.Is(err, domain.ErrArchiveSourceEmpty) {
		t.Fatalf("got %v, want ErrArchiveSourceEmpty", err)
	}
	if rec == nil || rec.Status != domain.BackupFailed {
		t.Fatalf("record = %+v, want failed record", rec)
	}
	if rec.Error == "" {
		t.Error("failure message should be retained")
	}
}

func TestCreateMissingSourceFails(t *testing.T) {
	store := newTestStore(t)
	seedServer(t, store, "s1", filepath.Join(t.TempDir(), "does-not-exist"))

	e := newTestEngine(t, store)
	if _, err := e.Create("s1", CreateOptions{}); !errors.Is(err, domain.ErrArchiveSourceMissing) {
		t.Fatalf("got %v, want ErrArchiveSourceMissing", err)
	}
}

func TestRestoreExtractionFailureKeepsSibling(t *testing.T) {
	store := newTestStore(t)
	dataDir := filepath.Join(t.TempDir(), "world")
	writeFile(t, dataDir, "a.dat", "precious")
	seedServer(t, store, "s1", dataDir)

	e := newTestEngine(t, store)
	bogus := filepath.Join(e.backupsPath, "bogus.zip")
	if err := os.MkdirAll(e.backupsPath, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(bogus, []byte("not a zip"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rec := &domain.Backup{
		ID:        uuid.New().String(),
		ServerID:  "s1",
		Name:      "bogus.zip",
		Storage:   domain.StorageLocal,
		Path:      bogus,
		Status:    domain.BackupCompleted,
		CreatedAt: time.Now(),
	}
	if err := store.SaveBackup(rec); err != nil {
		t.Fatalf("SaveBackup: %v", err)
	}

	err := e.Restore(rec.ID)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("got %v, want ErrExtractionFailed", err)
	}

	siblings, _ := filepath.Glob(dataDir + ".pre-restore-*")
	if len(siblings) != 1 {
		t.Fatalf("pre-restore sibling missing: %v", siblings)
	}
	got, rerr := os.ReadFile(filepath.Join(siblings[0], "a.dat"))
	if rerr != nil || string(got) != "precious" {
		t.Errorf("previous data not preserved in sibling: %q, %v", got, rerr)
	}

	updated, _ := store.GetBackupByID(rec.ID)
	if updated == nil || !strings.Contains(updated.Error, "restore failed") {
		t.Errorf("failure should be recorded on the backup, got %+v", updated)
	}
}

func TestRemoteBackupUploadAndRestore(t *testing.T) {
	store := newTestStore(t)
	dataDir := filepath.Join(t.TempDir(), "world")
	writeFile(t, dataDir, "a.dat", "alpha")
	seedServer(t, store, "s1", dataDir)

	remote, err := NewDirStorage(filepath.Join(t.TempDir(), "share"))
	if err != nil {
		t.Fatalf("NewDirStorage: %v", err)
	}
	e := NewEngine(store, t.TempDir(), remote, nil)

	rec, err := e.Create("s1", CreateOptions{Remote: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Storage != domain.StorageRemote {
		t.Errorf("storage = %s, want remote", rec.Storage)
	}
	if _, serr := os.Stat(filepath.Join(e.backupsPath, rec.Name)); !os.IsNotExist(serr) {
		t.Error("local staging copy should be gone after upload")
	}
	if ok, _ := remote.Exists(rec.Path); !ok {
		t.Fatal("archive missing from remote storage")
	}

	if err := os.RemoveAll(dataDir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := e.Restore(rec.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	got, rerr := os.ReadFile(filepath.Join(dataDir, "a.dat"))
	if rerr != nil || string(got) != "alpha" {
		t.Errorf("restored a.dat = %q, %v", got, rerr)
	}
}

func TestRotateForRule(t *testing.T) {
	store := newTestStore(t)
	e := newTestEngine(t, store)
	if err := os.MkdirAll(e.backupsPath, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		path := filepath.Join(e.backupsPath, uuid.New().String()+".zip")
		if err := os.WriteFile(path, []byte("zip"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		now := base.Add(time.Duration(i) * time.Minute)
		rec := &domain.Backup{
			ID:          uuid.New().String(),
			ServerID:    "s1",
			Name:        filepath.Base(path),
			Storage:     domain.StorageLocal,
			Path:        path,
			Status:      domain.BackupCompleted,
			RuleID:      "rule-1",
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := store.SaveBackup(rec); err != nil {
			t.Fatalf("SaveBackup: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	if n := e.RotateForRule("rule-1", 0); n != 0 {
		t.Errorf("limit 0 rotated %d, want 0 (unlimited)", n)
	}
	if n := e.RotateForRule("rule-1", 5); n != 0 {
		t.Errorf("count == limit rotated %d, want 0", n)
	}
	if n := e.RotateForRule("rule-1", 2); n != 3 {
		t.Errorf("rotated %d, want 3", n)
	}

	remaining, err := store.ListCompletedByRule("rule-1")
	if err != nil {
		t.Fatalf("ListCompletedByRule: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("%d backups remain, want 2", len(remaining))
	}
	// Newest two survive.
	for _, b := range remaining {
		if b.ID != ids[4] && b.ID != ids[3] {
			t.Errorf("unexpected survivor %s, want the two newest", b.ID)
		}
	}
}

func TestCreateNetworkBackupAggregatesStatus(t *testing.T) {
	store := newTestStore(t)
	okDir := filepath.Join(t.TempDir(), "ok")
	writeFile(t, okDir, "a.dat", "alpha")
	seedServer(t, store, "good", okDir)
	seedServer(t, store, "bad", filepath.Join(t.TempDir(), "missing"))

	n := &domain.Network{ID: uuid.New().String(), Name: "net", Type: domain.NetworkUnordered, CreatedAt: time.Now()}
	if err := store.SaveNetwork(n); err != nil {
		t.Fatalf("SaveNetwork: %v", err)
	}
	for i, id := range []string{"good", "bad"} {
		m := &domain.Membership{NetworkID: n.ID, ServerID: id, Role: domain.RoleMember, Position: i}
		if err := store.AddMembership(m); err != nil {
			t.Fatalf("AddMembership: %v", err)
		}
	}

	e := newTestEngine(t, store)
	nb, backups, err := e.CreateNetworkBackup(n.ID, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateNetworkBackup: %v", err)
	}
	if nb.Status != domain.BackupFailed {
		t.Errorf("aggregate status = %s, want failed when a member fails", nb.Status)
	}
	if len(backups) != 1 {
		t.Errorf("got %d member backups, want 1 (missing source never made a record)", len(backups))
	}

	// All members healthy: the aggregate completes.
	if err := store.RemoveMembership(n.ID, "bad"); err != nil {
		t.Fatalf("RemoveMembership: %v", err)
	}
	nb, backups, err = e.CreateNetworkBackup(n.ID, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateNetworkBackup: %v", err)
	}
	if nb.Status != domain.BackupCompleted {
		t.Errorf("aggregate status = %s, want completed", nb.Status)
	}
	if len(backups) != 1 || backups[0].NetworkBackupID != nb.ID {
		t.Errorf("member backup not tied to aggregate: %+v", backups)
	}
}
