package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return store
}

func testServer(id string) *domain.Server {
	return &domain.Server{
		ID:         id,
		Name:       "survival-" + id,
		Address:    "127.0.0.1",
		Port:       5520,
		MaxPlayers: 20,
		Version:    "1.0.3",
		DataDir:    "/srv/hytale/" + id,
		Launch: domain.LaunchConfig{
			Kind: domain.AdapterProcess,
			Process: &domain.ProcessLaunch{
				Executable:  "/srv/hytale/bin/HytaleServer",
				Args:        []string{"--bind", "0.0.0.0:5520"},
				MemoryMB:    4096,
				StopCommand: "shutdown",
			},
		},
		Status:    domain.StatusStopped,
		CreatedAt: time.Now(),
	}
}

func TestServerRoundTrip(t *testing.T) {
	store := newTestStore(t)

	srv := testServer("a1")
	if err := store.SaveServer(srv); err != nil {
		t.Fatalf("SaveServer: %v", err)
	}

	got, err := store.GetServerByID("a1")
	if err != nil {
		t.Fatalf("GetServerByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected server, got nil")
	}
	if got.Name != srv.Name || got.Port != srv.Port {
		t.Errorf("got %q port %d, want %q port %d", got.Name, got.Port, srv.Name, srv.Port)
	}
	if got.Launch.Kind != domain.AdapterProcess || got.Launch.Process == nil {
		t.Fatalf("launch config not preserved: %+v", got.Launch)
	}
	if got.Launch.Process.Executable != srv.Launch.Process.Executable {
		t.Errorf("executable = %q, want %q", got.Launch.Process.Executable, srv.Launch.Process.Executable)
	}

	missing, err := store.GetServerByID("nope")
	if err != nil {
		t.Fatalf("GetServerByID(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing server, got %+v", missing)
	}
}

func TestProcessFieldsUpdateAndClear(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveServer(testServer("a1")); err != nil {
		t.Fatalf("SaveServer: %v", err)
	}

	started := time.Now().Truncate(time.Second)
	if err := store.UpdateProcess("a1", 4242, started); err != nil {
		t.Fatalf("UpdateProcess: %v", err)
	}
	got, _ := store.GetServerByID("a1")
	if got.PID != 4242 {
		t.Errorf("pid = %d, want 4242", got.PID)
	}
	if !got.HasProcess() {
		t.Error("HasProcess should be true after UpdateProcess")
	}

	if err := store.ClearProcess("a1"); err != nil {
		t.Fatalf("ClearProcess: %v", err)
	}
	got, _ = store.GetServerByID("a1")
	if got.PID != 0 || got.HasProcess() {
		t.Errorf("process fields not cleared: pid=%d", got.PID)
	}
}

func TestListRecoveryCandidates(t *testing.T) {
	store := newTestStore(t)

	cases := []struct {
		id     string
		status domain.Status
		pid    int
	}{
		{"running-with-pid", domain.StatusRunning, 100},
		{"orphaned-with-pid", domain.StatusOrphaned, 101},
		{"starting-with-pid", domain.StatusStarting, 102},
		{"running-no-pid", domain.StatusRunning, 0},
		{"stopped-with-pid", domain.StatusStopped, 103},
		{"crashed-with-pid", domain.StatusCrashed, 104},
	}
	for _, c := range cases {
		srv := testServer(c.id)
		srv.Status = c.status
		srv.PID = c.pid
		if err := store.SaveServer(srv); err != nil {
			t.Fatalf("SaveServer(%s): %v", c.id, err)
		}
	}

	got, err := store.ListRecoveryCandidates()
	if err != nil {
		t.Fatalf("ListRecoveryCandidates: %v", err)
	}
	want := map[string]bool{
		"running-with-pid":  true,
		"orphaned-with-pid": true,
		"starting-with-pid": true,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for _, srv := range got {
		if !want[srv.ID] {
			t.Errorf("unexpected recovery candidate %s", srv.ID)
		}
	}
}

func TestMembershipUniqueness(t *testing.T) {
	store := newTestStore(t)

	m := &domain.Membership{NetworkID: "net1", ServerID: "a1", Role: domain.RoleBackend, Position: 0}
	if err := store.AddMembership(m); err != nil {
		t.Fatalf("AddMembership: %v", err)
	}
	if err := store.AddMembership(m); err == nil {
		t.Error("expected error adding duplicate (network, server) membership")
	}

	found, err := store.FindMembershipByServer("a1")
	if err != nil {
		t.Fatalf("FindMembershipByServer: %v", err)
	}
	if found == nil || found.NetworkID != "net1" {
		t.Fatalf("FindMembershipByServer = %+v, want net1", found)
	}
}

func TestListCompletedByRuleNewestFirst(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		b := &domain.Backup{
			ID:        string(rune('a' + i)),
			ServerID:  "a1",
			Name:      "b",
			Storage:   domain.StorageLocal,
			Status:    domain.BackupCompleted,
			RuleID:    "rule1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveBackup(b); err != nil {
			t.Fatalf("SaveBackup: %v", err)
		}
	}
	failed := &domain.Backup{
		ID: "failed", ServerID: "a1", Name: "b", Storage: domain.StorageLocal,
		Status: domain.BackupFailed, RuleID: "rule1", CreatedAt: base.Add(time.Hour),
	}
	if err := store.SaveBackup(failed); err != nil {
		t.Fatalf("SaveBackup(failed): %v", err)
	}

	got, err := store.ListCompletedByRule("rule1")
	if err != nil {
		t.Fatalf("ListCompletedByRule: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d backups, want 3 (failed excluded)", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("backups not newest-first at index %d", i)
		}
	}
}

func TestRuleRoundTripAndRunBookkeeping(t *testing.T) {
	store := newTestStore(t)

	rule := &domain.AutomationRule{
		ID:       "r1",
		ServerID: "a1",
		Name:     "nightly backup",
		Trigger:  domain.TriggerScheduled,
		Schedule: "0 3 * * *",
		Actions: []domain.Action{
			{Kind: domain.ActionBackup},
			{Kind: domain.ActionCommand, Command: "say backup done"},
		},
		Enabled:       true,
		RetainBackups: 7,
		CreatedAt:     time.Now(),
	}
	if err := store.SaveRule(rule); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}

	got, err := store.GetRuleByID("r1")
	if err != nil {
		t.Fatalf("GetRuleByID: %v", err)
	}
	if len(got.Actions) != 2 || got.Actions[1].Command != "say backup done" {
		t.Fatalf("actions not preserved: %+v", got.Actions)
	}

	at := time.Now()
	if err := store.RecordRuleRun("r1", at, "ok"); err != nil {
		t.Fatalf("RecordRuleRun: %v", err)
	}
	if err := store.RecordRuleRun("r1", at.Add(time.Minute), "ok"); err != nil {
		t.Fatalf("RecordRuleRun: %v", err)
	}
	got, _ = store.GetRuleByID("r1")
	if got.Runs != 2 {
		t.Errorf("runs = %d, want 2", got.Runs)
	}
	if got.LastStatus != "ok" || got.LastRunAt == nil {
		t.Errorf("run bookkeeping not recorded: %+v", got)
	}
}
