package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

var ErrNotConnected = errors.New("console not connected")

const (
	defaultDialTimeout    = 5 * time.Second
	defaultCommandTimeout = 10 * time.Second
	writeTimeout          = 5 * time.Second
)

// Client sends commands to a server over its console channel.
type Client interface {
	Connect(serverID, host string, port int, secret string) error
	IsConnected(serverID string) bool
	SendCommand(serverID, text string) (*domain.CommandResult, error)
	Disconnect(serverID string)
}

type commandFrame struct {
	Identifier int64  `json:"identifier"`
	Message    string `json:"message"`
}

type replyFrame struct {
	Identifier int64  `json:"identifier"`
	Body       string `json:"body"`
	Error      string `json:"error,omitempty"`
}

// WebConsole talks to the server's websocket console endpoint. The secret
// is the URL path, commands are JSON frames matched to replies by identifier.
type WebConsole struct {
	conns          map[string]*consoleConn
	mu             sync.Mutex
	dialTimeout    time.Duration
	commandTimeout time.Duration
}

func NewWebConsole() *WebConsole {
	return &WebConsole{
		conns:          make(map[string]*consoleConn),
		dialTimeout:    defaultDialTimeout,
		commandTimeout: defaultCommandTimeout,
	}
}

type consoleConn struct {
	ws        *websocket.Conn
	owner     *WebConsole
	serverID  string
	writeMu   sync.Mutex
	pendingMu sync.Mutex
	pending   map[int64]chan replyFrame
	lastID    int64
	done      chan struct{}
	closeOnce sync.Once
}

func (w *WebConsole) Connect(serverID, host string, port int, secret string) error {
	url := fmt.Sprintf("ws://%s:%d/%s", host, port, secret)
	dialer := websocket.Dialer{HandshakeTimeout: w.dialTimeout}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect console for server %s: %w", serverID, err)
	}

	conn := &consoleConn{
		ws:       ws,
		owner:    w,
		serverID: serverID,
		pending:  make(map[int64]chan replyFrame),
		done:     make(chan struct{}),
	}

	w.mu.Lock()
	old := w.conns[serverID]
	w.conns[serverID] = conn
	w.mu.Unlock()
	if old != nil {
		old.close()
	}

	go conn.readLoop()
	return nil
}

func (w *WebConsole) IsConnected(serverID string) bool {
	w.mu.Lock()
	conn, ok := w.conns[serverID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-conn.done:
		return false
	default:
		return true
	}
}

func (w *WebConsole) SendCommand(serverID, text string) (*domain.CommandResult, error) {
	w.mu.Lock()
	conn, ok := w.conns[serverID]
	w.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}

	conn.pendingMu.Lock()
	conn.lastID++
	id := conn.lastID
	reply := make(chan replyFrame, 1)
	conn.pending[id] = reply
	conn.pendingMu.Unlock()
	defer func() {
		conn.pendingMu.Lock()
		delete(conn.pending, id)
		conn.pendingMu.Unlock()
	}()

	conn.writeMu.Lock()
	conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.ws.WriteJSON(commandFrame{Identifier: id, Message: text})
	conn.writeMu.Unlock()
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("failed to send command to server %s: %w", serverID, err)
	}

	timer := time.NewTimer(w.commandTimeout)
	defer timer.Stop()
	select {
	case frame := <-reply:
		return &domain.CommandResult{
			Success:  frame.Error == "",
			Response: frame.Body,
			Message:  frame.Error,
		}, nil
	case <-conn.done:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, fmt.Errorf("command to server %s timed out", serverID)
	}
}

func (w *WebConsole) Disconnect(serverID string) {
	w.mu.Lock()
	conn, ok := w.conns[serverID]
	if ok {
		delete(w.conns, serverID)
	}
	w.mu.Unlock()
	if ok {
		conn.close()
	}
}

func (c *consoleConn) readLoop() {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame replyFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Identifier == 0 {
			// Unsolicited console chatter; log lines arrive via the
			// process pipes, not this channel.
			continue
		}
		c.pendingMu.Lock()
		reply, ok := c.pending[frame.Identifier]
		if ok {
			delete(c.pending, frame.Identifier)
		}
		c.pendingMu.Unlock()
		if ok {
			reply <- frame
		}
	}
}

func (c *consoleConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.owner.mu.Lock()
		if c.owner.conns[c.serverID] == c {
			delete(c.owner.conns, c.serverID)
		}
		c.owner.mu.Unlock()
	})
}
