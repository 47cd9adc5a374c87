package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies
// minimal; node fleets change rarely.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It loads the initial config
// immediately and starts polling in a background goroutine.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w.current = cfg
	if err := w.recordFileState(); err != nil {
		return nil, err
	}

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts polling. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

// checkOnce reloads the file if its mtime or content hash changed. A reload
// that fails validation keeps the previous config in effect.
func (w *Watcher) checkOnce() {
	fi, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchangedMtime := fi.ModTime().Equal(w.lastMtime)
	w.mu.Unlock()
	if unchangedMtime {
		return
	}

	hash, err := hashFile(w.path)
	if err != nil {
		slog.Warn("config watcher hash failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	sameContent := hash == w.lastHash
	w.lastMtime = fi.ModTime()
	w.mu.Unlock()
	if sameContent {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) recordFileState() error {
	fi, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("config: stat %q: %w", w.path, err)
	}
	hash, err := hashFile(w.path)
	if err != nil {
		return err
	}
	w.lastMtime = fi.ModTime()
	w.lastHash = hash
	return nil
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, fmt.Errorf("config: hash %q: %w", path, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
