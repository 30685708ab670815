package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// debounceDelay collapses the burst of events an editor save produces.
const debounceDelay = 100 * time.Millisecond

// Preferences is the content of the user preferences file. Absent keys are
// nil and leave the current setting untouched.
type Preferences struct {
	MaxSourceCount *int     `json:"max_source_count"`
	MaxSourceAge   *float64 `json:"max_source_age"` // seconds
	ReadAhead      *int     `json:"read_ahead"`
}

// SourceAge returns MaxSourceAge as a duration.
func (p Preferences) SourceAge() (time.Duration, bool) {
	if p.MaxSourceAge == nil {
		return 0, false
	}
	return time.Duration(*p.MaxSourceAge * float64(time.Second)), true
}

// ParsePreferences decodes a preferences document. Negative values are
// rejected.
func ParsePreferences(data []byte) (Preferences, error) {
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if p.MaxSourceCount != nil && *p.MaxSourceCount < 0 {
		return Preferences{}, fmt.Errorf("max_source_count must not be negative")
	}
	if p.MaxSourceAge != nil && *p.MaxSourceAge < 0 {
		return Preferences{}, fmt.Errorf("max_source_age must not be negative")
	}
	if p.ReadAhead != nil && *p.ReadAhead < 0 {
		return Preferences{}, fmt.Errorf("read_ahead must not be negative")
	}
	return p, nil
}

// LoadPreferences reads and parses the preferences file at path. A missing
// file yields empty preferences.
func LoadPreferences(path string) (Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}
	return ParsePreferences(data)
}

// PreferencesWatcher re-reads the preferences file whenever it is written or
// replaced and hands the result to apply.
type PreferencesWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	apply     func(Preferences)
	stop      chan struct{}
	done      chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
	closed   bool
}

// WatchPreferences loads path, applies it once and keeps applying it on
// every change until Stop is called.
func WatchPreferences(path string, apply func(Preferences)) (*PreferencesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory: editors often replace the file instead of
	// writing it in place, which drops a watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	w := &PreferencesWatcher{
		fsWatcher: fsw,
		path:      filepath.Clean(path),
		apply:     apply,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	w.reload()
	go w.run()
	return w, nil
}

func (w *PreferencesWatcher) run() {
	defer func() {
		w.mu.Lock()
		w.closed = true
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
		close(w.done)
	}()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.debounce = time.AfterFunc(debounceDelay, func() {
				w.mu.Lock()
				closed := w.closed
				w.mu.Unlock()
				if !closed {
					w.reload()
				}
			})
			w.mu.Unlock()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("preferences watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *PreferencesWatcher) reload() {
	p, err := LoadPreferences(w.path)
	if err != nil {
		// Log but keep the settings in effect
		slog.Warn("failed to load preferences", "path", w.path, "error", err)
		return
	}
	w.apply(p)
}

// Stop shuts down the watcher.
func (w *PreferencesWatcher) Stop() {
	close(w.stop)
	w.fsWatcher.Close()
	<-w.done
}
