package logtail

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LineFunc receives one complete log line without its trailing newline.
type LineFunc func(line string)

// Tailer follows server log files and delivers appended lines as they are
// written. Each tail watches the file's parent directory so rotation and
// recreation are picked up.
type Tailer struct {
	tails map[string]*tail
	mu    sync.Mutex
}

func NewTailer() *Tailer {
	return &Tailer{tails: make(map[string]*tail)}
}

type tail struct {
	path    string
	watcher *fsnotify.Watcher
	fn      LineFunc
	offset  int64
	partial []byte
	stop    chan struct{}
}

// Start begins tailing path for the given server id, delivering new lines
// to fn. Lines already in the file are skipped. Starting an id that is
// already tailing restarts it.
func (t *Tailer) Start(serverID, path string, fn LineFunc) error {
	t.Stop(serverID)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch log directory: %w", err)
	}

	tl := &tail{
		path:    path,
		watcher: watcher,
		fn:      fn,
		stop:    make(chan struct{}),
	}
	if info, err := os.Stat(path); err == nil {
		tl.offset = info.Size()
	}

	t.mu.Lock()
	t.tails[serverID] = tl
	t.mu.Unlock()

	go tl.run()
	return nil
}

// Stop ends the tail for the given server id. Stopping an id that is not
// tailing is a no-op.
func (t *Tailer) Stop(serverID string) {
	t.mu.Lock()
	tl, ok := t.tails[serverID]
	if ok {
		delete(t.tails, serverID)
	}
	t.mu.Unlock()
	if ok {
		close(tl.stop)
		tl.watcher.Close()
	}
}

func (t *Tailer) IsTailing(serverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tails[serverID]
	return ok
}

func (tl *tail) run() {
	for {
		select {
		case <-tl.stop:
			return
		case event, ok := <-tl.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(tl.path) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// File was rotated or recreated, read it from the top.
				tl.offset = 0
				tl.partial = nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			tl.readNew()
		case _, ok := <-tl.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (tl *tail) readNew() {
	f, err := os.Open(tl.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < tl.offset {
		// Truncated underneath us.
		tl.offset = 0
		tl.partial = nil
	}
	if info.Size() == tl.offset {
		return
	}

	if _, err := f.Seek(tl.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return
	}
	tl.offset += int64(len(data))

	buf := append(tl.partial, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(buf[:idx], "\r"))
		buf = buf[idx+1:]
		if line != "" {
			tl.fn(line)
		}
	}
	tl.partial = append([]byte(nil), buf...)
}

// FindLatestLog returns the newest *.log file under dir or dir/logs, or ""
// when neither holds one.
func FindLatestLog(dir string) string {
	var newest string
	var newestMod int64
	for _, d := range []string{dir, filepath.Join(dir, "logs")} {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
				newest = filepath.Join(d, entry.Name())
				newestMod = mod
			}
		}
	}
	return newest
}
