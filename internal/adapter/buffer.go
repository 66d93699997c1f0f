package adapter

import (
	"sync"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// LogBuffer keeps the most recent output lines of one server and fans new
// lines out to subscribed observers. Late subscribers get the buffered
// history replayed so a console view opened mid-run is not blank.
type LogBuffer struct {
	mu        sync.Mutex
	lines     []domain.LogLine
	max       int
	observers map[int]func(domain.LogLine)
	nextID    int
}

func NewLogBuffer(max int) *LogBuffer {
	if max < 0 {
		max = 0
	}
	return &LogBuffer{
		max:       max,
		observers: make(map[int]func(domain.LogLine)),
	}
}

// Append records a line, dropping the oldest once the buffer is full, and
// delivers it to every observer.
func (b *LogBuffer) Append(line domain.LogLine) {
	b.mu.Lock()
	if b.max > 0 {
		b.lines = append(b.lines, line)
		if len(b.lines) > b.max {
			b.lines = b.lines[1:]
		}
	}
	fns := make([]func(domain.LogLine), 0, len(b.observers))
	for _, fn := range b.observers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(line)
	}
}

// Subscribe registers fn for future lines and returns the buffered history
// plus a cancel function. History is a copy; the caller may keep it.
func (b *LogBuffer) Subscribe(fn func(domain.LogLine)) ([]domain.LogLine, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers[id] = fn
	history := make([]domain.LogLine, len(b.lines))
	copy(history, b.lines)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
	return history, cancel
}

// History returns a copy of the buffered lines.
func (b *LogBuffer) History() []domain.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := make([]domain.LogLine, len(b.lines))
	copy(history, b.lines)
	return history
}

// Clear drops the buffered lines but keeps observers attached.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	b.lines = nil
	b.mu.Unlock()
}
