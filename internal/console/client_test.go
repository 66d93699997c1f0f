package console

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// startConsoleServer runs a fake console endpoint that checks the secret
// path and answers every command frame through reply.
func startConsoleServer(t *testing.T, secret string, reply func(commandFrame) replyFrame) (host string, port int, cleanup func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame commandFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			if reply == nil {
				continue
			}
			out, _ := json.Marshal(reply(frame))
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))

	hostPort := strings.TrimPrefix(ts.URL, "http://")
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port, ts.Close
}

func TestSendCommandRoundTrip(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", func(in commandFrame) replyFrame {
		return replyFrame{Identifier: in.Identifier, Body: "pong: " + in.Message}
	})
	defer cleanup()

	web := NewWebConsole()
	if err := web.Connect("srv1", host, port, "s3cret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer web.Disconnect("srv1")

	if !web.IsConnected("srv1") {
		t.Fatal("IsConnected should be true after Connect")
	}

	res, err := web.SendCommand("srv1", "list players")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if !res.Success {
		t.Errorf("result not successful: %+v", res)
	}
	if res.Response != "pong: list players" {
		t.Errorf("response = %q, want %q", res.Response, "pong: list players")
	}
}

func TestSendCommandServerError(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", func(in commandFrame) replyFrame {
		return replyFrame{Identifier: in.Identifier, Error: "unknown command"}
	})
	defer cleanup()

	web := NewWebConsole()
	if err := web.Connect("srv1", host, port, "s3cret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer web.Disconnect("srv1")

	res, err := web.SendCommand("srv1", "bogus")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if res.Success {
		t.Error("result should not be successful")
	}
	if res.Message != "unknown command" {
		t.Errorf("message = %q, want %q", res.Message, "unknown command")
	}
}

func TestConnectBadSecret(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", nil)
	defer cleanup()

	web := NewWebConsole()
	if err := web.Connect("srv1", host, port, "wrong"); err == nil {
		t.Error("Connect with wrong secret should fail")
	}
	if web.IsConnected("srv1") {
		t.Error("IsConnected should be false after failed Connect")
	}
}

func TestSendCommandNotConnected(t *testing.T) {
	web := NewWebConsole()
	if _, err := web.SendCommand("srv1", "ping"); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendCommandTimeout(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", nil)
	defer cleanup()

	web := NewWebConsole()
	web.commandTimeout = 100 * time.Millisecond
	if err := web.Connect("srv1", host, port, "s3cret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer web.Disconnect("srv1")

	if _, err := web.SendCommand("srv1", "ping"); err == nil {
		t.Error("SendCommand should time out when the server never replies")
	}
}

func TestDisconnect(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", func(in commandFrame) replyFrame {
		return replyFrame{Identifier: in.Identifier, Body: "ok"}
	})
	defer cleanup()

	web := NewWebConsole()
	if err := web.Connect("srv1", host, port, "s3cret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	web.Disconnect("srv1")

	if web.IsConnected("srv1") {
		t.Error("IsConnected should be false after Disconnect")
	}
	if _, err := web.SendCommand("srv1", "ping"); err != ErrNotConnected {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestServerClosePropagates(t *testing.T) {
	host, port, cleanup := startConsoleServer(t, "s3cret", func(in commandFrame) replyFrame {
		return replyFrame{Identifier: in.Identifier, Body: "ok"}
	})

	web := NewWebConsole()
	if err := web.Connect("srv1", host, port, "s3cret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !web.IsConnected("srv1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("IsConnected should turn false after the server closes the connection")
}
