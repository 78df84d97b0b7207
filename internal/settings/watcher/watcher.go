// Package watcher provides a per-file watch subscription for the managed
// configuration files.
//
// The underlying notification behaves as one-shot from the subsystem's
// point of view: every reload attempt is followed by an unconditional
// Restart, and a subscription is torn down before any local write and
// recreated only after the write settles. Modeling the subscription as an
// explicit Stopped/Active pair with a single Restart choke point keeps that
// discipline visible at the call sites.
package watcher

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Errors returned by subscription operations.
var (
	// ErrWatcherClosed indicates use after Close.
	ErrWatcherClosed = errors.New("file watcher closed")
)

// State is the subscription state.
type State int

const (
	// StateStopped means no OS subscription exists.
	StateStopped State = iota
	// StateActive means the file is being observed.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Handler is invoked once per debounced burst of content changes.
type Handler func()

// FileWatcher observes a single file for content modifications.
//
// Events are filtered to content-modifying operations, coalesced over a
// quiet period, and delivered by calling the handler on a timer goroutine.
// The caller serializes reloads; the watcher guarantees only that a stopped
// subscription delivers nothing, including bursts already in flight.
type FileWatcher struct {
	mu sync.Mutex

	path string
	dir  string
	name string

	debounce time.Duration
	handler  Handler
	logger   *log.Logger

	fsw    *fsnotify.Watcher
	state  State
	closed bool

	// suspended blocks activation while a local write is in flight, so a
	// previously scheduled Start cannot observe the subsystem's own write.
	// suspendGen pairs each Resume with its Suspend; a Resume carrying a
	// stale token is a no-op, so a resume scheduled for an earlier write
	// cannot lift the suspension of a later one.
	suspended  bool
	suspendGen uint64

	// gen invalidates pending debounce timers across Stop/Start cycles.
	gen   uint64
	timer *time.Timer
}

// New creates a watcher for path in the Stopped state. A nil logger falls
// back to the default.
func New(path string, debounce time.Duration, handler Handler, logger *log.Logger) *FileWatcher {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FileWatcher{
		path:     abs,
		dir:      filepath.Dir(abs),
		name:     filepath.Base(abs),
		debounce: debounce,
		handler:  handler,
		logger:   logger,
	}
}

// Path returns the watched file path.
func (w *FileWatcher) Path() string {
	return w.path
}

// State returns the current subscription state.
func (w *FileWatcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start creates the OS subscription. Starting an active watcher is a no-op.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file atomically (write temp, rename over) do
// not silently detach the subscription.
func (w *FileWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	if w.suspended || w.state == StateActive {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}

	w.fsw = fsw
	w.state = StateActive
	w.gen++
	go w.eventLoop(fsw, w.gen)
	return nil
}

// Stop tears down the OS subscription and cancels any pending debounce.
// Stopping a stopped watcher is a no-op.
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *FileWatcher) stopLocked() {
	if w.state != StateActive {
		return
	}
	w.state = StateStopped
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
		w.fsw = nil
	}
}

// Restart is the single choke point for re-establishing observation: it
// tears down whatever subscription exists and creates a fresh one. While
// the watcher is suspended for a local write, Restart leaves it down; the
// matching Resume re-establishes it.
func (w *FileWatcher) Restart() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	if w.suspended {
		w.mu.Unlock()
		return nil
	}
	w.stopLocked()
	w.mu.Unlock()
	return w.Start()
}

// Suspend tears down the subscription and blocks any activation until the
// matching Resume. Called before every local write to the watched file.
// The returned token identifies this suspension; only the Resume carrying
// it lifts it.
func (w *FileWatcher) Suspend() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.suspended = true
	w.suspendGen++
	return w.suspendGen
}

// Resume lifts the suspension identified by token and re-establishes the
// subscription. Called after the local write and its settle delay, whether
// or not the write succeeded. A stale token means a later write has taken
// over the suspension; that Resume is a no-op and the later write's own
// Resume re-establishes observation.
func (w *FileWatcher) Resume(token uint64) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	if !w.suspended || token != w.suspendGen {
		w.mu.Unlock()
		return nil
	}
	w.suspended = false
	w.mu.Unlock()
	return w.Start()
}

// Close stops the watcher permanently.
func (w *FileWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.closed = true
}

// eventLoop drains one fsnotify instance until it closes.
func (w *FileWatcher) eventLoop(fsw *fsnotify.Watcher, gen uint64) {
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.queue(gen)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watch error", "path", w.path, "err", err)
		}
	}
}

// relevant filters to content-modifying events on the watched file.
// Chmod and metadata-only events never trigger a reload.
func (w *FileWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != w.name {
		return false
	}
	return ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)
}

// queue arms or re-arms the debounce timer for the current burst.
func (w *FileWatcher) queue(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateActive || gen != w.gen {
		return
	}
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.fire(gen)
	})
}

// fire delivers one coalesced change to the handler, unless the
// subscription was stopped or restarted since the burst began.
func (w *FileWatcher) fire(gen uint64) {
	w.mu.Lock()
	if w.state != StateActive || gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	handler := w.handler
	w.mu.Unlock()

	if handler != nil {
		handler()
	}
}
