package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/console"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/logtail"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

// Adapter supervises one managed server process end-to-end. Callers never
// touch the process handle directly; every lifecycle action goes through
// this contract.
type Adapter interface {
	Start() error
	Stop() error
	Restart() error
	Kill() error
	Status() domain.StatusSnapshot
	Metrics() (*domain.Metrics, error)
	SendCommand(text string) (*domain.CommandResult, error)
	Subscribe(fn func(domain.LogLine)) ([]domain.LogLine, func())
	InstallContent(item *domain.ContentItem, payload []byte) error
	UninstallContent(item *domain.ContentItem) error
	SetContentEnabled(item *domain.ContentItem, enabled bool) error
	Reconnect(pid int) error
	Disconnect()
}

// Deps are the collaborators an adapter talks to.
type Deps struct {
	Store    domain.ServerRepository
	Console  console.Client
	Tailer   *logtail.Tailer
	Notifier notify.Notifier

	// AllocateConsolePort hands out a free console port when the server
	// record has none yet. Optional; without it console handoff is skipped
	// and commands go through the process input stream only.
	AllocateConsolePort func() (int, error)
}

// Options tune the supervision timing. Zero values fall back to defaults.
type Options struct {
	MonitorInterval time.Duration
	StopTimeout     time.Duration
	StartGrace      time.Duration
	ReadyTimeout    time.Duration
	RestartDelay    time.Duration
	RingSize        int
	ConsoleHost     string
}

const (
	defaultMonitorInterval = 5 * time.Second
	defaultStopTimeout     = 30 * time.Second
	defaultStartGrace      = 3 * time.Second
	defaultReadyTimeout    = 90 * time.Second
	defaultRestartDelay    = 2 * time.Second
	defaultRingSize        = 500
	defaultReadyMarker     = "server startup complete"
	defaultStopCommand     = "shutdown"
)

func (o Options) withDefaults() Options {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = defaultMonitorInterval
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = defaultStopTimeout
	}
	if o.StartGrace <= 0 {
		o.StartGrace = defaultStartGrace
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = defaultReadyTimeout
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = defaultRestartDelay
	}
	if o.RingSize <= 0 {
		o.RingSize = defaultRingSize
	}
	if o.ConsoleHost == "" {
		o.ConsoleHost = "127.0.0.1"
	}
	return o
}

// New builds the adapter matching the server's launch kind.
func New(srv *domain.Server, deps Deps, opts Options) (Adapter, error) {
	switch srv.Launch.Kind {
	case domain.AdapterProcess:
		if srv.Launch.Process == nil {
			return nil, fmt.Errorf("server %s has kind %q but no process launch config", srv.ID, srv.Launch.Kind)
		}
		return newProcessAdapter(srv, deps, opts.withDefaults()), nil
	default:
		return nil, fmt.Errorf("unsupported adapter kind %q for server %s", srv.Launch.Kind, srv.ID)
	}
}

// classifyLine derives the log level from markers in the line text.
func classifyLine(text string) domain.LogLevel {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "ERROR") || strings.Contains(upper, "SEVERE") || strings.Contains(upper, "EXCEPTION"):
		return domain.LevelError
	case strings.Contains(upper, "WARN"):
		return domain.LevelWarn
	case strings.Contains(upper, "DEBUG"):
		return domain.LevelDebug
	default:
		return domain.LevelInfo
	}
}

const (
	playerJoinMarker  = "player connected"
	playerLeaveMarker = "player disconnected"
)
