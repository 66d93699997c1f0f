package automation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vanities/hytale-server-manager-sub001/internal/backup"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
	"github.com/vanities/hytale-server-manager-sub001/internal/storage"
)

type fakeOps struct {
	calls   []string
	failOn  string
	metrics domain.Metrics
}

func (f *fakeOps) call(op, id string) error {
	f.calls = append(f.calls, op+":"+id)
	if f.failOn == op {
		return errors.New(op + " refused")
	}
	return nil
}

func (f *fakeOps) Start(id string) error   { return f.call("start", id) }
func (f *fakeOps) Stop(id string) error    { return f.call("stop", id) }
func (f *fakeOps) Restart(id string) error { return f.call("restart", id) }
func (f *fakeOps) SendCommand(id, text string) (*domain.CommandResult, error) {
	if err := f.call("command", id); err != nil {
		return nil, err
	}
	return &domain.CommandResult{Success: true}, nil
}
func (f *fakeOps) Metrics(id string) (*domain.Metrics, error) {
	m := f.metrics
	m.ServerID = id
	return &m, nil
}

type fakeArchiver struct {
	created []string
	rotated map[string]int
}

func (f *fakeArchiver) Create(serverID string, opts backup.CreateOptions) (*domain.Backup, error) {
	f.created = append(f.created, serverID+"/"+opts.RuleID)
	return &domain.Backup{ID: uuid.New().String(), ServerID: serverID, Status: domain.BackupCompleted}, nil
}

func (f *fakeArchiver) RotateForRule(ruleID string, limit int) int {
	if f.rotated == nil {
		f.rotated = map[string]int{}
	}
	f.rotated[ruleID] = limit
	return 0
}

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	store, err := storage.NewGormStore(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return store
}

func saveRule(t *testing.T, store *storage.GormStore, rule *domain.AutomationRule) {
	t.Helper()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	if err := store.SaveRule(rule); err != nil {
		t.Fatalf("SaveRule: %v", err)
	}
}

func TestScheduleDue(t *testing.T) {
	cases := []struct {
		expr string
		at   string
		want bool
	}{
		{"*/5 * * * *", "2026-08-30T10:05:00Z", true},
		{"*/5 * * * *", "2026-08-30T10:04:00Z", false},
		{"*/5 * * * *", "2026-08-30T10:05:42Z", true},
		{"0 3 * * *", "2026-08-30T03:00:00Z", true},
		{"0 3 * * *", "2026-08-30T04:00:00Z", false},
	}
	for _, c := range cases {
		at, err := time.Parse(time.RFC3339, c.at)
		if err != nil {
			t.Fatalf("parse %s: %v", c.at, err)
		}
		got, err := scheduleDue(c.expr, at)
		if err != nil {
			t.Fatalf("scheduleDue(%q): %v", c.expr, err)
		}
		if got != c.want {
			t.Errorf("scheduleDue(%q, %s) = %v, want %v", c.expr, c.at, got, c.want)
		}
	}
	if _, err := scheduleDue("not a cron", time.Now()); err == nil {
		t.Error("invalid expression should error")
	}
}

func TestTickRunsDueScheduledRule(t *testing.T) {
	store := newTestStore(t)
	ops := &fakeOps{}
	s := NewScheduler(store, ops, nil)

	saveRule(t, store, &domain.AutomationRule{
		ID:       "r1",
		ServerID: "s1",
		Name:     "nightly restart",
		Trigger:  domain.TriggerScheduled,
		Schedule: "0 3 * * *",
		Actions:  []domain.Action{{Kind: domain.ActionRestart}},
		Enabled:  true,
	})
	saveRule(t, store, &domain.AutomationRule{
		ID:       "r2",
		ServerID: "s1",
		Name:     "disabled",
		Trigger:  domain.TriggerScheduled,
		Schedule: "0 3 * * *",
		Actions:  []domain.Action{{Kind: domain.ActionStop}},
		Enabled:  false,
	})

	at := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	s.Tick(at)

	if len(ops.calls) != 1 || ops.calls[0] != "restart:s1" {
		t.Fatalf("calls = %v, want exactly restart:s1", ops.calls)
	}

	rule, _ := store.GetRuleByID("r1")
	if rule.Runs != 1 || rule.LastStatus != "ok" || rule.LastRunAt == nil {
		t.Errorf("bookkeeping not recorded: runs=%d status=%q lastRun=%v", rule.Runs, rule.LastStatus, rule.LastRunAt)
	}

	// Off-schedule minute: nothing fires.
	s.Tick(at.Add(time.Minute))
	if len(ops.calls) != 1 {
		t.Errorf("rule fired off schedule: %v", ops.calls)
	}
}

func TestEventRuleFiresOnMatchingEvent(t *testing.T) {
	store := newTestStore(t)
	ops := &fakeOps{}
	s := NewScheduler(store, ops, nil)

	saveRule(t, store, &domain.AutomationRule{
		ID:       "r1",
		ServerID: "s1",
		Name:     "restart on crash",
		Trigger:  domain.TriggerEvent,
		Event:    domain.EventServerCrashed,
		Actions:  []domain.Action{{Kind: domain.ActionStart}},
		Enabled:  true,
	})

	s.Sink().Notify(notify.Event{Kind: domain.EventServerCrashed, ServerID: "other"})
	if len(ops.calls) != 0 {
		t.Errorf("rule fired for the wrong server: %v", ops.calls)
	}

	s.Sink().Notify(notify.Event{Kind: domain.EventServerStopped, ServerID: "s1"})
	if len(ops.calls) != 0 {
		t.Errorf("rule fired for the wrong event kind: %v", ops.calls)
	}

	s.Sink().Notify(notify.Event{Kind: domain.EventServerCrashed, ServerID: "s1"})
	if len(ops.calls) != 1 || ops.calls[0] != "start:s1" {
		t.Errorf("calls = %v, want start:s1", ops.calls)
	}
}

func TestConditionRule(t *testing.T) {
	store := newTestStore(t)
	ops := &fakeOps{metrics: domain.Metrics{CPUPercent: 92}}
	s := NewScheduler(store, ops, nil)

	saveRule(t, store, &domain.AutomationRule{
		ID:        "r1",
		ServerID:  "s1",
		Name:      "restart on cpu spike",
		Trigger:   domain.TriggerCondition,
		Condition: &domain.Condition{Metric: "cpu", Op: ">", Value: 90},
		Actions:   []domain.Action{{Kind: domain.ActionRestart}},
		Enabled:   true,
	})

	s.Tick(time.Now())
	var fired int
	for _, c := range ops.calls {
		if c == "restart:s1" {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("calls = %v, want one restart", ops.calls)
	}

	ops.metrics.CPUPercent = 40
	ops.calls = nil
	s.Tick(time.Now())
	for _, c := range ops.calls {
		if c == "restart:s1" {
			t.Errorf("rule fired below threshold: %v", ops.calls)
		}
	}
}

func TestBackupActionTriggersRotation(t *testing.T) {
	store := newTestStore(t)
	ops := &fakeOps{}
	arch := &fakeArchiver{}
	s := NewScheduler(store, ops, arch)

	saveRule(t, store, &domain.AutomationRule{
		ID:            "r1",
		ServerID:      "s1",
		Name:          "hourly backup",
		Trigger:       domain.TriggerScheduled,
		Schedule:      "0 * * * *",
		Actions:       []domain.Action{{Kind: domain.ActionBackup}},
		Enabled:       true,
		RetainBackups: 4,
	})

	s.Tick(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))

	if len(arch.created) != 1 || arch.created[0] != "s1/r1" {
		t.Errorf("created = %v, want backup for s1 tagged rule r1", arch.created)
	}
	if arch.rotated["r1"] != 4 {
		t.Errorf("rotation limit = %d, want 4", arch.rotated["r1"])
	}
}

func TestFailingActionStopsRunAndIsRecorded(t *testing.T) {
	store := newTestStore(t)
	ops := &fakeOps{failOn: "stop"}
	s := NewScheduler(store, ops, nil)

	saveRule(t, store, &domain.AutomationRule{
		ID:       "r1",
		ServerID: "s1",
		Name:     "stop then start",
		Trigger:  domain.TriggerEvent,
		Event:    domain.EventServerCrashed,
		Actions: []domain.Action{
			{Kind: domain.ActionStop},
			{Kind: domain.ActionStart},
		},
		Enabled: true,
	})

	s.HandleEvent(notify.Event{Kind: domain.EventServerCrashed, ServerID: "s1"})

	if len(ops.calls) != 1 || ops.calls[0] != "stop:s1" {
		t.Errorf("calls = %v, want only the failing stop", ops.calls)
	}
	rule, _ := store.GetRuleByID("r1")
	if !strings.HasPrefix(rule.LastStatus, "failed") {
		t.Errorf("last status = %q, want failed", rule.LastStatus)
	}
}
