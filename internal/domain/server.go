package domain

import "time"

// Status is the lifecycle state of a managed server. Transitions move
// stopped -> starting -> running -> stopping -> stopped, with crashed on
// unexpected exit and orphaned when the manager shuts down without killing
// the process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
	StatusOrphaned Status = "orphaned"
)

// IsTransitional reports whether the status is one of the in-flight states.
func (s Status) IsTransitional() bool {
	return s == StatusStarting || s == StatusStopping
}

type AdapterKind string

const (
	// AdapterProcess launches and supervises a local OS process.
	AdapterProcess AdapterKind = "process"
)

// LaunchConfig is a closed union of per-adapter-kind configuration.
// Exactly one variant field is set, matching Kind.
type LaunchConfig struct {
	Kind    AdapterKind    `json:"kind"`
	Process *ProcessLaunch `json:"process,omitempty"`
}

// ProcessLaunch configures the process adapter: what to run and how to
// recognize it once running.
type ProcessLaunch struct {
	Executable  string   `json:"executable"`
	Args        []string `json:"args,omitempty"`
	MemoryMB    int      `json:"memoryMb,omitempty"`
	StopCommand string   `json:"stopCommand,omitempty"`
	ReadyMarker string   `json:"readyMarker,omitempty"`
}

// Server is one managed Hytale server: its identity, its on-disk data and
// the process-identity fields persisted so supervision can be recovered
// after a manager restart.
type Server struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Address    string       `json:"address"`
	Port       int          `json:"port"`
	MaxPlayers int          `json:"maxPlayers"`
	Version    string       `json:"version"`
	DataDir    string       `json:"dataDir"`
	Launch     LaunchConfig `json:"launch"`
	Status     Status       `json:"status"`

	// Recovery fields. PID 0 and a zero ProcessStart mean "no recorded process".
	PID           int       `json:"pid,omitempty"`
	ProcessStart  time.Time `json:"processStart,omitempty"`
	ConsolePort   int       `json:"consolePort,omitempty"`
	ConsoleSecret string    `json:"-"`
	LogPath       string    `json:"logPath,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// HasProcess reports whether the record carries a process id worth
// checking during recovery.
func (s *Server) HasProcess() bool {
	return s.PID > 0
}

// StatusSnapshot is a non-blocking view of an adapter's live state.
type StatusSnapshot struct {
	ServerID         string        `json:"serverId"`
	Status           Status        `json:"status"`
	PID              int           `json:"pid,omitempty"`
	Players          int           `json:"players"`
	Uptime           time.Duration `json:"uptime"`
	ConsoleConnected bool          `json:"consoleConnected"`
}

// Metrics is a point-in-time sample for one server process and all of its
// OS-level descendants.
type Metrics struct {
	ServerID    string        `json:"serverId"`
	CPUPercent  float64       `json:"cpuPercent"`
	MemoryBytes uint64        `json:"memoryBytes"`
	Players     int           `json:"players"`
	MaxPlayers  int           `json:"maxPlayers"`
	TickRate    float64       `json:"tickRate"`
	Uptime      time.Duration `json:"uptime"`
}

// LogLevel classifies a captured console or log-file line.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

// LogLine is one timestamped line of server output, from any of the
// capture paths (stdout, stderr, tailed log file).
type LogLine struct {
	Time   time.Time `json:"time"`
	Level  LogLevel  `json:"level"`
	Text   string    `json:"text"`
	Source string    `json:"source"`
}

// CommandResult reports a console command attempt. Routing failures are
// reported here rather than as errors: both channels being down is an
// answer, not an exception.
type CommandResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}
