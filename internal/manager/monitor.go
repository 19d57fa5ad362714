package manager

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period Monitor waits for after the last
// change before reloading.
const DefaultDebounce = time.Second

// Monitor watches library files and calls reload once they stop changing.
// The parent directories are watched so that files replaced by rename are
// still seen.
type Monitor struct {
	files    map[string]bool
	reload   func()
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer

	stop chan struct{}
	done chan struct{}
}

// NewMonitor starts watching paths. debounce <= 0 selects DefaultDebounce.
func NewMonitor(paths []string, debounce time.Duration, reload func(), logger zerolog.Logger) (*Monitor, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("library monitor: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	m := &Monitor{
		files:    make(map[string]bool),
		reload:   reload,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("library monitor: %w", err)
		}
		m.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("library monitor: watch %q: %w", dir, err)
		}
	}

	go m.loop()
	return m, nil
}

func (m *Monitor) loop() {
	defer close(m.done)
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !m.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				m.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("library file changed")
				m.schedule()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error().Err(err).Msg("library monitor error")
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, m.reload)
}

// Close stops watching. A pending reload is cancelled.
func (m *Monitor) Close() error {
	close(m.stop)
	err := m.watcher.Close()
	<-m.done

	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()
	return err
}
