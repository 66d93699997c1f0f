package adapter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/logtail"
)

// TestMain doubles as the managed process: when HYTALE_TEST_SERVER_MODE is
// set the test binary acts like a tiny game server instead of running the
// suite.
func TestMain(m *testing.M) {
	if mode := os.Getenv("HYTALE_TEST_SERVER_MODE"); mode != "" {
		runFakeServer(mode)
		return
	}
	os.Exit(m.Run())
}

func runFakeServer(mode string) {
	switch mode {
	case "serve":
		fmt.Println("[HytaleServer] loading world")
		fmt.Println("[HytaleServer] server startup complete")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "shutdown":
				fmt.Println("[HytaleServer] shutting down")
				os.Exit(0)
			case "ping":
				fmt.Println("[HytaleServer] pong")
			}
		}
		// Manager went away; keep living like a real orphaned server would.
		time.Sleep(time.Hour)
	case "exit":
		fmt.Println("[HytaleServer] fatal: invalid world data")
		os.Exit(3)
	}
	os.Exit(0)
}

type fakeServerStore struct {
	mu       sync.Mutex
	statuses []domain.Status
	pid      int
	cleared  int
	port     int
	secret   string
	logPath  string
}

func (f *fakeServerStore) SaveServer(*domain.Server) error              { return nil }
func (f *fakeServerStore) GetServerByID(string) (*domain.Server, error) { return nil, nil }
func (f *fakeServerStore) ListServers() ([]domain.Server, error)        { return nil, nil }
func (f *fakeServerStore) ListRecoveryCandidates() ([]domain.Server, error) {
	return nil, nil
}
func (f *fakeServerStore) DeleteServer(string) error { return nil }

func (f *fakeServerStore) UpdateStatus(id string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeServerStore) UpdateProcess(id string, pid int, startedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pid = pid
	return nil
}

func (f *fakeServerStore) ClearProcess(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pid = 0
	f.cleared++
	return nil
}

func (f *fakeServerStore) UpdateConsole(id string, port int, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.port = port
	f.secret = secret
	return nil
}

func (f *fakeServerStore) UpdateLogPath(id string, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logPath = path
	return nil
}

func (f *fakeServerStore) lastStatus() domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

func (f *fakeServerStore) recordedPID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid
}

func testBinary(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return exe
}

func newTestAdapter(t *testing.T, mode string) (*processAdapter, *fakeServerStore) {
	t.Helper()
	t.Setenv("HYTALE_TEST_SERVER_MODE", mode)

	store := &fakeServerStore{}
	srv := &domain.Server{
		ID:      "srv1",
		Name:    "survival",
		DataDir: t.TempDir(),
		Status:  domain.StatusStopped,
		Launch: domain.LaunchConfig{
			Kind: domain.AdapterProcess,
			Process: &domain.ProcessLaunch{
				Executable:  testBinary(t),
				StopCommand: "shutdown",
				ReadyMarker: "server startup complete",
			},
		},
	}
	opts := Options{
		MonitorInterval: 100 * time.Millisecond,
		StartGrace:      400 * time.Millisecond,
		ReadyTimeout:    10 * time.Second,
		StopTimeout:     10 * time.Second,
		RestartDelay:    100 * time.Millisecond,
	}
	a := newProcessAdapter(srv, Deps{Store: store, Tailer: logtail.NewTailer()}, opts.withDefaults())
	t.Cleanup(func() {
		a.mu.Lock()
		cmd := a.cmd
		a.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
	return a, store
}

func waitForStatus(t *testing.T, a *processAdapter, want domain.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if a.Status().Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", a.Status().Status, want)
}

func TestStartTransitionsToRunning(t *testing.T) {
	a, store := newTestAdapter(t, "serve")

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := a.Status()
	if snap.Status == domain.StatusStopped {
		t.Errorf("status right after Start = %s, must not be stopped", snap.Status)
	}
	if snap.PID <= 0 {
		t.Error("snapshot should carry the pid")
	}
	if store.recordedPID() != snap.PID {
		t.Errorf("persisted pid = %d, want %d", store.recordedPID(), snap.PID)
	}

	waitForStatus(t, a, domain.StatusRunning)

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := a.Status().Status; got != domain.StatusStopped {
		t.Errorf("status after Stop = %s, want stopped", got)
	}
	if store.recordedPID() != 0 {
		t.Error("pid should be cleared after stop")
	}
	if store.lastStatus() != domain.StatusStopped {
		t.Errorf("persisted status = %s, want stopped", store.lastStatus())
	}
}

func TestStartWhileRunningFails(t *testing.T) {
	a, _ := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Kill()

	if err := a.Start(); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestStartMissingExecutable(t *testing.T) {
	a, store := newTestAdapter(t, "serve")
	a.srv.Launch.Process.Executable = "/does/not/exist/HytaleServer"

	err := a.Start()
	if !errors.Is(err, domain.ErrMissingExecutable) {
		t.Fatalf("error = %v, want ErrMissingExecutable", err)
	}
	if got := a.Status().Status; got != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
	if store.recordedPID() != 0 {
		t.Error("no pid should be recorded for a failed start")
	}
}

func TestStartExitedImmediately(t *testing.T) {
	a, store := newTestAdapter(t, "exit")

	err := a.Start()
	if !errors.Is(err, domain.ErrExitedImmediately) {
		t.Fatalf("error = %v, want ErrExitedImmediately", err)
	}

	waitForStatus(t, a, domain.StatusStopped)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && store.recordedPID() != 0 {
		time.Sleep(20 * time.Millisecond)
	}
	if store.recordedPID() != 0 {
		t.Error("pid should be cleared when the process dies during startup")
	}
}

func TestCrashDetection(t *testing.T) {
	a, store := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, a, domain.StatusRunning)

	pid := a.Status().PID
	proc, err := os.FindProcess(pid)
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	waitForStatus(t, a, domain.StatusCrashed)
	if store.lastStatus() != domain.StatusCrashed {
		t.Errorf("persisted status = %s, want crashed", store.lastStatus())
	}
	if store.recordedPID() != 0 {
		t.Error("pid should be cleared after crash handling")
	}
	if a.Status().Players != 0 {
		t.Error("players should reset on crash")
	}
}

func TestKillResetsState(t *testing.T) {
	a, store := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, a, domain.StatusRunning)

	if err := a.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	snap := a.Status()
	if snap.Status != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}
	if snap.PID != 0 || snap.Players != 0 {
		t.Errorf("state not reset: %+v", snap)
	}
	if store.recordedPID() != 0 {
		t.Error("persisted pid should be cleared")
	}

	// Killing again is tolerated.
	if err := a.Kill(); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}

func TestStopWhenNotRunningIsNoOp(t *testing.T) {
	a, store := newTestAdapter(t, "serve")
	if err := a.Stop(); err != nil {
		t.Errorf("Stop on stopped server: %v", err)
	}
	if len(store.statuses) != 0 {
		t.Errorf("no status writes expected, got %v", store.statuses)
	}
}

func TestSendCommandNotRunning(t *testing.T) {
	a, _ := newTestAdapter(t, "serve")
	if _, err := a.SendCommand("ping"); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("error = %v, want ErrNotRunning", err)
	}
}

func TestSendCommandViaStdin(t *testing.T) {
	a, _ := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Kill()
	waitForStatus(t, a, domain.StatusRunning)

	var mu sync.Mutex
	var seen []string
	_, cancel := a.Subscribe(func(l domain.LogLine) {
		mu.Lock()
		seen = append(seen, l.Text)
		mu.Unlock()
	})
	defer cancel()

	res, err := a.SendCommand("ping")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if !res.Success {
		t.Fatalf("command not successful: %+v", res)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		found := false
		for _, text := range seen {
			if strings.Contains(text, "pong") {
				found = true
			}
		}
		mu.Unlock()
		if found {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("pong line never observed")
}

func TestExitHandlingIdempotent(t *testing.T) {
	a, store := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, a, domain.StatusRunning)
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	store.mu.Lock()
	writes := len(store.statuses)
	cleared := store.cleared
	store.mu.Unlock()

	// A late exit event for the same process must change nothing.
	a.handleExit(1)

	if got := a.Status().Status; got != domain.StatusStopped {
		t.Errorf("status after duplicate exit = %s, want stopped", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.statuses) != writes {
		t.Errorf("duplicate exit caused %d extra status writes", len(store.statuses)-writes)
	}
	if store.cleared != cleared {
		t.Error("duplicate exit cleared process fields again")
	}
}

func TestRestartYieldsFreshProcess(t *testing.T) {
	a, _ := newTestAdapter(t, "serve")
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Kill()
	waitForStatus(t, a, domain.StatusRunning)
	first := a.Status().PID

	if err := a.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	waitForStatus(t, a, domain.StatusRunning)
	second := a.Status().PID
	if second == 0 || second == first {
		t.Errorf("restart should spawn a new process, pids %d -> %d", first, second)
	}
}

func TestReconnectRestoresSupervision(t *testing.T) {
	t.Setenv("HYTALE_TEST_SERVER_MODE", "serve")
	cmd := exec.Command(testBinary(t))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() {
		stdin.Close()
		cmd.Process.Kill()
		cmd.Wait()
	}()

	a, store := newTestAdapter(t, "serve")
	a.srv.PID = cmd.Process.Pid
	a.srv.ProcessStart = time.Now().Add(-time.Minute)
	a.srv.Status = domain.StatusOrphaned
	a.status = domain.StatusOrphaned
	a.pid = cmd.Process.Pid

	if err := a.Reconnect(cmd.Process.Pid); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	snap := a.Status()
	if snap.Status != domain.StatusRunning {
		t.Errorf("status = %s, want running", snap.Status)
	}
	if snap.Uptime < time.Minute {
		t.Errorf("uptime = %s, should include time before the manager restart", snap.Uptime)
	}
	if store.lastStatus() != domain.StatusRunning {
		t.Errorf("persisted status = %s, want running", store.lastStatus())
	}

	// Disconnect detaches without killing.
	a.Disconnect()
	if got := a.Status().Status; got != domain.StatusOrphaned {
		t.Errorf("status after Disconnect = %s, want orphaned", got)
	}
	if !pidAlive(cmd.Process.Pid) {
		t.Error("process must survive Disconnect")
	}
}

func TestReconnectDeadProcess(t *testing.T) {
	t.Setenv("HYTALE_TEST_SERVER_MODE", "exit")
	cmd := exec.Command(testBinary(t))
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	pid := cmd.Process.Pid
	cmd.Wait()

	a, _ := newTestAdapter(t, "serve")
	if err := a.Reconnect(pid); err == nil {
		t.Error("Reconnect to a dead pid should fail")
	}
}
