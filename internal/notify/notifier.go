package notify

import (
	"log"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// Event is one lifecycle or backup transition worth telling collaborators
// about.
type Event struct {
	Kind      domain.EventKind
	ServerID  string
	NetworkID string
	Message   string
	At        time.Time
}

// Notifier receives events best-effort. Implementations must swallow their
// own failures; a broken sink never propagates into lifecycle code.
type Notifier interface {
	Notify(event Event)
}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(event Event) {
	if event.Message != "" {
		log.Printf("event %s server=%s: %s", event.Kind, event.ServerID, event.Message)
		return
	}
	log.Printf("event %s server=%s", event.Kind, event.ServerID)
}

// Multi fans one event out to several sinks.
type Multi []Notifier

func (m Multi) Notify(event Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(event)
		}
	}
}

// Func adapts a plain function to the Notifier interface.
type Func func(Event)

func (f Func) Notify(event Event) { f(event) }
