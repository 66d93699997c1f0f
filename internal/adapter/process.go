package adapter

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/logtail"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

const (
	sourceStdout = "stdout"
	sourceStderr = "stderr"
	sourceFile   = "file"

	tailSettleDelay = 200 * time.Millisecond
	stopPollEvery   = 500 * time.Millisecond
	killReapTimeout = 5 * time.Second
)

// processAdapter supervises one spawned OS process. All mutable state is
// guarded by mu; store and console calls happen outside the lock.
type processAdapter struct {
	srv  *domain.Server
	deps Deps
	opts Options

	buffer *LogBuffer

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	status      domain.Status
	pid         int
	startedAt   time.Time
	players     int
	monitorStop chan struct{}
	procDone    chan struct{}
	exitOnce    *sync.Once
	exitDone    chan struct{}
}

func newProcessAdapter(srv *domain.Server, deps Deps, opts Options) *processAdapter {
	status := srv.Status
	if status == "" {
		status = domain.StatusStopped
	}
	return &processAdapter{
		srv:       srv,
		deps:      deps,
		opts:      opts,
		buffer:    NewLogBuffer(opts.RingSize),
		status:    status,
		pid:       srv.PID,
		startedAt: srv.ProcessStart,
		exitOnce:  new(sync.Once),
		exitDone:  make(chan struct{}),
	}
}

func (a *processAdapter) Start() error {
	a.mu.Lock()
	if a.cmd != nil || a.pid > 0 {
		a.mu.Unlock()
		return fmt.Errorf("%w: server %s", domain.ErrAlreadyRunning, a.srv.ID)
	}
	a.mu.Unlock()

	// Release the log file before the new process opens it.
	if a.deps.Tailer != nil && a.deps.Tailer.IsTailing(a.srv.ID) {
		a.deps.Tailer.Stop(a.srv.ID)
		time.Sleep(tailSettleDelay)
	}

	launch := a.srv.Launch.Process
	if _, err := os.Stat(launch.Executable); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrMissingExecutable, launch.Executable)
		}
		return fmt.Errorf("failed to check executable %s: %w", launch.Executable, err)
	}

	a.primeConsoleConfig()

	cmd := exec.Command(launch.Executable, launch.Args...)
	cmd.Dir = filepath.Dir(launch.Executable)
	cmd.Env = os.Environ()
	if launch.MemoryMB > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("HYTALE_SERVER_MEMORY_MB=%d", launch.MemoryMB))
	}
	if a.srv.DataDir != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("HYTALE_SERVER_DATA_DIR=%s", a.srv.DataDir))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	marker := strings.ToLower(launch.ReadyMarker)
	if marker == "" {
		marker = defaultReadyMarker
	}
	readyCh := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(readyCh) }) }

	go a.consumePipe(stdout, sourceStdout, marker, signalReady)
	go a.consumePipe(stderr, sourceStderr, marker, signalReady)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server %s: %w", a.srv.ID, err)
	}

	now := time.Now()
	procDone := make(chan struct{})

	a.mu.Lock()
	a.cmd = cmd
	a.stdin = stdin
	a.pid = cmd.Process.Pid
	a.startedAt = now
	a.players = 0
	a.status = domain.StatusStarting
	a.procDone = procDone
	a.exitOnce = new(sync.Once)
	a.exitDone = make(chan struct{})
	a.mu.Unlock()

	// Persist the process identity first thing, so a manager restart in the
	// next instant can still find and recover this process.
	if a.deps.Store != nil {
		if err := a.deps.Store.UpdateProcess(a.srv.ID, cmd.Process.Pid, now); err != nil {
			log.Printf("warning: could not persist pid for server %s: %v", a.srv.ID, err)
		}
	}
	a.persistStatus(domain.StatusStarting)

	go func(c *exec.Cmd, done chan struct{}) {
		waitErr := c.Wait()
		close(done)
		code := 0
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = 1
			}
		}
		a.handleExit(code)
	}(cmd, procDone)

	select {
	case <-procDone:
		return fmt.Errorf("%w: server %s exited during startup", domain.ErrExitedImmediately, a.srv.ID)
	case <-time.After(a.opts.StartGrace):
	}

	a.mu.Lock()
	a.startMonitorLocked()
	a.mu.Unlock()

	go a.awaitReady(readyCh, procDone)
	return nil
}

func (a *processAdapter) awaitReady(readyCh, procDone <-chan struct{}) {
	timer := time.NewTimer(a.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-readyCh:
	case <-timer.C:
		// Unrecognized log format; assume the server came up rather than
		// sitting in starting forever.
		log.Printf("server %s: no ready marker after %s, assuming running", a.srv.ID, a.opts.ReadyTimeout)
	case <-procDone:
		return
	}
	a.becomeReady()
}

func (a *processAdapter) becomeReady() {
	a.mu.Lock()
	if a.status != domain.StatusStarting {
		a.mu.Unlock()
		return
	}
	a.status = domain.StatusRunning
	a.mu.Unlock()

	a.persistStatus(domain.StatusRunning)
	a.connectConsole()
	a.startTailing(false)
	a.notify(domain.EventServerStarted, "")
}

// primeConsoleConfig allocates console credentials if the record has none
// and writes them where the server process reads its own configuration.
func (a *processAdapter) primeConsoleConfig() {
	if a.deps.Console == nil || a.srv.DataDir == "" {
		return
	}
	if a.srv.ConsolePort == 0 {
		if a.deps.AllocateConsolePort == nil {
			return
		}
		port, err := a.deps.AllocateConsolePort()
		if err != nil {
			log.Printf("warning: could not allocate console port for server %s: %v", a.srv.ID, err)
			return
		}
		a.srv.ConsolePort = port
	}
	if a.srv.ConsoleSecret == "" {
		a.srv.ConsoleSecret = newConsoleSecret()
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.UpdateConsole(a.srv.ID, a.srv.ConsolePort, a.srv.ConsoleSecret); err != nil {
			log.Printf("warning: could not persist console credentials for server %s: %v", a.srv.ID, err)
		}
	}

	cfg := map[string]any{
		"console": map[string]any{
			"enabled": true,
			"bind":    fmt.Sprintf("%s:%d", a.opts.ConsoleHost, a.srv.ConsolePort),
			"secret":  a.srv.ConsoleSecret,
		},
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(a.srv.DataDir, "config", "console.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Printf("warning: could not create config dir for server %s: %v", a.srv.ID, err)
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		log.Printf("warning: could not write console config for server %s: %v", a.srv.ID, err)
	}
}

func newConsoleSecret() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (a *processAdapter) connectConsole() {
	if a.deps.Console == nil || a.srv.ConsolePort <= 0 || a.srv.ConsoleSecret == "" {
		return
	}
	if err := a.deps.Console.Connect(a.srv.ID, a.opts.ConsoleHost, a.srv.ConsolePort, a.srv.ConsoleSecret); err != nil {
		log.Printf("warning: console connect failed for server %s: %v", a.srv.ID, err)
	}
}

// startTailing follows the on-disk log. countPlayers is set when the tail is
// the only line source (recovered process with no stdout); when stdout is
// attached the pipes already count joins and leaves.
func (a *processAdapter) startTailing(countPlayers bool) {
	if a.deps.Tailer == nil {
		return
	}
	path := a.srv.LogPath
	if path == "" {
		path = logtail.FindLatestLog(a.srv.DataDir)
		if path == "" {
			return
		}
		a.srv.LogPath = path
		if a.deps.Store != nil {
			if err := a.deps.Store.UpdateLogPath(a.srv.ID, path); err != nil {
				log.Printf("warning: could not persist log path for server %s: %v", a.srv.ID, err)
			}
		}
	}
	fn := func(line string) { a.recordLine(line, sourceFile, countPlayers) }
	if err := a.deps.Tailer.Start(a.srv.ID, path, fn); err != nil {
		log.Printf("warning: could not tail log for server %s: %v", a.srv.ID, err)
	}
}

func (a *processAdapter) consumePipe(r io.Reader, source, readyMarker string, signalReady func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), readyMarker) {
			signalReady()
		}
		a.recordLine(text, source, true)
	}
}

func (a *processAdapter) recordLine(text, source string, countPlayers bool) {
	if countPlayers {
		lower := strings.ToLower(text)
		if strings.Contains(lower, playerJoinMarker) {
			a.mu.Lock()
			a.players++
			a.mu.Unlock()
		} else if strings.Contains(lower, playerLeaveMarker) {
			a.mu.Lock()
			if a.players > 0 {
				a.players--
			}
			a.mu.Unlock()
		}
	}
	a.buffer.Append(domain.LogLine{
		Time:   time.Now(),
		Level:  classifyLine(text),
		Text:   text,
		Source: source,
	})
}

func (a *processAdapter) Stop() error {
	a.mu.Lock()
	if a.cmd == nil && a.pid <= 0 {
		a.mu.Unlock()
		log.Printf("server %s is not running, nothing to stop", a.srv.ID)
		return nil
	}
	prev := a.status
	a.status = domain.StatusStopping
	a.stopMonitorLocked()
	pid := a.pid
	procDone := a.procDone
	a.mu.Unlock()

	a.persistStatus(domain.StatusStopping)
	if a.deps.Tailer != nil {
		a.deps.Tailer.Stop(a.srv.ID)
	}

	stopCmd := a.srv.Launch.Process.StopCommand
	if stopCmd == "" {
		stopCmd = defaultStopCommand
	}
	res, err := a.SendCommand(stopCmd)
	if err != nil || res == nil || !res.Success {
		log.Printf("server %s: could not deliver stop command, force-killing", a.srv.ID)
		return a.killOrRestore(prev)
	}

	if procDone != nil {
		select {
		case <-procDone:
			<-a.currentExitDone()
			return nil
		case <-time.After(a.opts.StopTimeout):
			log.Printf("server %s did not exit within %s, force-killing", a.srv.ID, a.opts.StopTimeout)
			return a.killOrRestore(prev)
		}
	}

	// Recovered process: no handle to wait on, poll the pid instead.
	deadline := time.Now().Add(a.opts.StopTimeout)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			a.handleExit(0)
			return nil
		}
		time.Sleep(stopPollEvery)
	}
	log.Printf("server %s (pid %d) did not exit within %s, force-killing", a.srv.ID, pid, a.opts.StopTimeout)
	return a.killOrRestore(prev)
}

// killOrRestore force-kills as the tail end of a graceful stop. If even the
// kill fails the previously observed status is restored so the record does
// not read stopping forever.
func (a *processAdapter) killOrRestore(prev domain.Status) error {
	if err := a.Kill(); err != nil {
		a.mu.Lock()
		a.status = prev
		a.mu.Unlock()
		a.persistStatus(prev)
		return err
	}
	return nil
}

func (a *processAdapter) Restart() error {
	if err := a.Stop(); err != nil {
		return fmt.Errorf("restart aborted, stop failed: %w", err)
	}
	time.Sleep(a.opts.RestartDelay)
	return a.Start()
}

func (a *processAdapter) Kill() error {
	a.mu.Lock()
	a.stopMonitorLocked()
	if a.status == domain.StatusRunning || a.status == domain.StatusStarting || a.status == domain.StatusOrphaned {
		a.status = domain.StatusStopping
	}
	cmd := a.cmd
	pid := a.pid
	procDone := a.procDone
	a.mu.Unlock()

	var killErr error
	switch {
	case cmd != nil && cmd.Process != nil:
		killErr = cmd.Process.Kill()
	case pid > 0:
		if proc, err := os.FindProcess(pid); err == nil {
			killErr = proc.Kill()
		}
	}
	if killErr != nil && !isProcessGone(killErr) {
		return fmt.Errorf("failed to kill server %s: %w", a.srv.ID, killErr)
	}

	if procDone != nil {
		select {
		case <-procDone:
		case <-time.After(killReapTimeout):
		}
	}
	a.handleExit(0)
	<-a.currentExitDone()
	return nil
}

func isProcessGone(err error) bool {
	if errors.Is(err, os.ErrProcessDone) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "process already finished") || strings.Contains(msg, "no such process")
}

func (a *processAdapter) SendCommand(text string) (*domain.CommandResult, error) {
	a.mu.Lock()
	cmd := a.cmd
	stdin := a.stdin
	pid := a.pid
	a.mu.Unlock()

	if cmd == nil && pid <= 0 {
		return nil, fmt.Errorf("%w: server %s", domain.ErrNotRunning, a.srv.ID)
	}

	if a.deps.Console != nil && a.deps.Console.IsConnected(a.srv.ID) {
		res, err := a.deps.Console.SendCommand(a.srv.ID, text)
		if err == nil {
			return res, nil
		}
		log.Printf("console command failed for server %s, falling back to stdin: %v", a.srv.ID, err)
	}

	if stdin != nil {
		if _, err := io.WriteString(stdin, text+"\n"); err == nil {
			return &domain.CommandResult{Success: true, Message: "sent via process input"}, nil
		} else {
			log.Printf("stdin write failed for server %s: %v", a.srv.ID, err)
		}
	}

	return &domain.CommandResult{Success: false, Message: "no command channel available"}, nil
}

func (a *processAdapter) Status() domain.StatusSnapshot {
	a.mu.Lock()
	snap := domain.StatusSnapshot{
		ServerID: a.srv.ID,
		Status:   a.status,
		PID:      a.pid,
		Players:  a.players,
	}
	if !a.startedAt.IsZero() && a.pid > 0 {
		snap.Uptime = time.Since(a.startedAt)
	}
	a.mu.Unlock()

	if a.deps.Console != nil {
		snap.ConsoleConnected = a.deps.Console.IsConnected(a.srv.ID)
	}
	return snap
}

func (a *processAdapter) Subscribe(fn func(domain.LogLine)) ([]domain.LogLine, func()) {
	return a.buffer.Subscribe(fn)
}

func (a *processAdapter) currentExitDone() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exitDone
}

func (a *processAdapter) persistStatus(status domain.Status) {
	if a.deps.Store == nil {
		return
	}
	if err := a.deps.Store.UpdateStatus(a.srv.ID, status); err != nil {
		log.Printf("warning: could not update status to %s for server %s: %v", status, a.srv.ID, err)
	}
}

func (a *processAdapter) notify(kind domain.EventKind, message string) {
	if a.deps.Notifier == nil {
		return
	}
	a.deps.Notifier.Notify(notify.Event{
		Kind:     kind,
		ServerID: a.srv.ID,
		Message:  message,
		At:       time.Now(),
	})
}
