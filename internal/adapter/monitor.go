package adapter

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// monitorCrashCode is the synthetic exit code used when the monitor loop
// finds the process gone, so exit handling classifies it as a crash.
const monitorCrashCode = 1

func (a *processAdapter) startMonitorLocked() {
	if a.monitorStop != nil {
		return
	}
	stop := make(chan struct{})
	a.monitorStop = stop
	go a.monitorLoop(stop)
}

func (a *processAdapter) stopMonitorLocked() {
	if a.monitorStop != nil {
		close(a.monitorStop)
		a.monitorStop = nil
	}
}

func (a *processAdapter) monitorLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.opts.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			pid := a.pid
			a.mu.Unlock()
			if pid <= 0 {
				return
			}
			if !a.isExpectedProcess(pid) {
				log.Printf("server %s: pid %d is gone, handling as crash", a.srv.ID, pid)
				a.handleExit(monitorCrashCode)
				return
			}
		}
	}
}

// handleExit is the single finalization path for every way a process can
// end: natural exit, monitor-detected death, stop, kill. It runs the real
// work exactly once per supervised process; racing callers block until the
// first invocation has finished persisting.
func (a *processAdapter) handleExit(code int) {
	a.mu.Lock()
	once := a.exitOnce
	done := a.exitDone
	a.mu.Unlock()

	once.Do(func() { a.finalizeExit(code, done) })
	<-done
}

func (a *processAdapter) finalizeExit(code int, done chan struct{}) {
	defer close(done)

	a.mu.Lock()
	a.stopMonitorLocked()
	wasRunning := a.status == domain.StatusRunning
	pid := a.pid
	a.cmd = nil
	a.stdin = nil
	a.pid = 0
	a.startedAt = time.Time{}
	a.players = 0
	final := domain.StatusStopped
	if code != 0 && wasRunning {
		final = domain.StatusCrashed
	}
	a.status = final
	a.mu.Unlock()

	if pid > 0 {
		log.Printf("server %s exited (pid %d, code %d), status %s", a.srv.ID, pid, code, final)
	}

	if a.deps.Console != nil {
		a.deps.Console.Disconnect(a.srv.ID)
	}
	if a.deps.Tailer != nil {
		a.deps.Tailer.Stop(a.srv.ID)
	}

	a.persistStatus(final)
	if a.deps.Store != nil {
		if err := a.deps.Store.ClearProcess(a.srv.ID); err != nil {
			log.Printf("warning: could not clear process fields for server %s: %v", a.srv.ID, err)
		}
	}

	if final == domain.StatusCrashed {
		a.notify(domain.EventServerCrashed, fmt.Sprintf("exit code %d", code))
	} else {
		a.notify(domain.EventServerStopped, "")
	}
}

// Reconnect re-attaches to a process that survived a manager restart. The
// process must be alive and look like the configured executable; there is
// no handle afterwards, supervision runs against the pid alone.
func (a *processAdapter) Reconnect(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("server %s: invalid pid %d", a.srv.ID, pid)
	}
	if !a.isExpectedProcess(pid) {
		return fmt.Errorf("server %s: pid %d is not alive or not the expected process", a.srv.ID, pid)
	}

	a.mu.Lock()
	a.cmd = nil
	a.stdin = nil
	a.pid = pid
	a.status = domain.StatusRunning
	a.startedAt = a.srv.ProcessStart
	a.procDone = nil
	a.exitOnce = new(sync.Once)
	a.exitDone = make(chan struct{})
	a.startMonitorLocked()
	a.mu.Unlock()

	a.persistStatus(domain.StatusRunning)
	a.connectConsole()
	a.startTailing(true)
	log.Printf("server %s: reconnected to pid %d", a.srv.ID, pid)
	return nil
}

// Disconnect detaches supervision without touching the process: monitor and
// tailer stop, the console drops, the pid stays recorded for recovery.
func (a *processAdapter) Disconnect() {
	a.mu.Lock()
	a.stopMonitorLocked()
	if a.status == domain.StatusRunning || a.status == domain.StatusStarting {
		a.status = domain.StatusOrphaned
	}
	a.cmd = nil
	a.stdin = nil
	a.mu.Unlock()

	if a.deps.Console != nil {
		a.deps.Console.Disconnect(a.srv.ID)
	}
	if a.deps.Tailer != nil {
		a.deps.Tailer.Stop(a.srv.ID)
	}
}

func pidAlive(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

// isExpectedProcess checks liveness plus, where the platform reports one, a
// process-name match against the configured executable so a reused pid is
// not mistaken for our server.
func (a *processAdapter) isExpectedProcess(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}
	name, err := proc.Name()
	if err != nil || name == "" {
		return true
	}
	expected := filepath.Base(a.srv.Launch.Process.Executable)
	return processNameMatches(name, expected)
}

// processNameMatches tolerates kernel-truncated names and platform suffixes.
func processNameMatches(actual, expected string) bool {
	actual = strings.ToLower(strings.TrimSuffix(actual, filepath.Ext(actual)))
	expected = strings.ToLower(strings.TrimSuffix(expected, filepath.Ext(expected)))
	if actual == expected {
		return true
	}
	return strings.HasPrefix(expected, actual) || strings.HasPrefix(actual, expected)
}
