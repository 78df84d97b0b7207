package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/settings/codec"
	"github.com/taskdeck/taskdeck/internal/settings/paths"
	"github.com/taskdeck/taskdeck/internal/settings/store"
	"github.com/taskdeck/taskdeck/internal/settings/watcher"
)

// State is the manager lifecycle state.
type State int

const (
	// StateUninitialized is the state before Initialize.
	StateUninitialized State = iota
	// StateInitializing means Initialize is in progress.
	StateInitializing
	// StateReady means the manager accepts operations.
	StateReady
	// StateFailed is terminal: initialization failed, the first error is
	// recorded, and a process restart is required. Automatic retry is
	// refused so a persistent misconfiguration stays visible.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultDebounce     = 300 * time.Millisecond
	defaultSettleDelay  = 250 * time.Millisecond
	defaultProbeRetries = 5
	defaultProbeBackoff = 200 * time.Millisecond
)

// Manager owns the two managed files and is the single writer for both.
// Construct one at application startup and inject it into consumers.
type Manager struct {
	mu sync.Mutex

	state    State
	initErr  error
	disposed bool
	migrated bool

	resolver  paths.Resolver
	configDir string
	paths     paths.Paths

	store  *store.Store
	logger *log.Logger

	debounce     time.Duration
	settleDelay  time.Duration
	probe        func() error
	probeRetries int
	probeBackoff time.Duration

	settingsWatcher    *watcher.FileWatcher
	keybindingsWatcher *watcher.FileWatcher

	// Exact last-read text of each managed file, kept to support
	// structure-preserving rewrites.
	rawSettings    []byte
	rawKeybindings []byte

	lastReloadErr error
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfigDir pins the config root, bypassing per-OS resolution.
func WithConfigDir(dir string) Option {
	return func(m *Manager) { m.configDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDebounce sets the quiet period for coalescing external edits.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithSettleDelay sets the pause between a local write completing and the
// file's watch subscription being re-established.
func WithSettleDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.settleDelay = d
		}
	}
}

// WithProbe replaces the filesystem availability probe run at the start of
// Initialize.
func WithProbe(probe func() error) Option {
	return func(m *Manager) {
		if probe != nil {
			m.probe = probe
		}
	}
}

// WithProbeRetries sets the probe retry count and fixed backoff.
func WithProbeRetries(retries int, backoff time.Duration) Option {
	return func(m *Manager) {
		if retries >= 0 {
			m.probeRetries = retries
		}
		if backoff > 0 {
			m.probeBackoff = backoff
		}
	}
}

// NewManager creates an uninitialized Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:       log.Default().WithPrefix("settings"),
		debounce:     defaultDebounce,
		settleDelay:  defaultSettleDelay,
		probeRetries: defaultProbeRetries,
		probeBackoff: defaultProbeBackoff,
	}
	m.probe = func() error {
		_, err := os.UserHomeDir()
		return err
	}

	for _, opt := range opts {
		opt(m)
	}

	m.store = store.New(m.logger)
	return m
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize brings the manager to Ready: wait for the filesystem, resolve
// paths, ensure directories, import legacy storage, and load or create both
// managed files. Watching starts only after an additional settle delay;
// filesystem events immediately after startup are unreliable.
//
// Initialize is valid only from the uninitialized state. Any failure is
// terminal for this Manager.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	switch m.state {
	case StateUninitialized:
	case StateFailed:
		err := m.initErr
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPermanentFailure, err)
	default:
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.state = StateInitializing

	err := m.initialize(ctx)
	if err != nil {
		m.state = StateFailed
		m.initErr = err
		m.mu.Unlock()
		m.logger.Error("initialization failed", "err", err)
		return fmt.Errorf("settings: initialize: %w", err)
	}

	m.state = StateReady
	migrated := m.migrated
	settingsSnap := settingsFromMap(m.store.Settings())
	bindingsSnap := m.store.Keybindings()
	m.mu.Unlock()

	if migrated {
		m.store.Notify(ChangeEvent{Kind: KindSettings, Current: settingsSnap, Origin: OriginMigration})
		m.store.Notify(ChangeEvent{Kind: KindKeybindings, Current: bindingsSnap, Origin: OriginMigration})
	}
	return nil
}

// initialize runs with m.mu held.
func (m *Manager) initialize(ctx context.Context) error {
	if err := m.waitForFilesystem(ctx); err != nil {
		return err
	}

	if m.configDir != "" {
		m.paths = paths.FromRoot(m.configDir)
	} else {
		p, err := m.resolver.Resolve()
		if err != nil {
			return err
		}
		m.paths = p
	}

	if err := m.resolver.EnsureDirectories(m.paths); err != nil {
		return err
	}

	if fileExists(m.paths.LegacyStorageFile) && !fileExists(m.paths.SettingsFile) {
		m.runMigration()
	}

	if err := m.loadOrCreateSettings(); err != nil {
		return err
	}
	if err := m.loadOrCreateKeybindings(); err != nil {
		return err
	}

	m.settingsWatcher = watcher.New(m.paths.SettingsFile, m.debounce, m.reloadSettings, m.logger)
	m.keybindingsWatcher = watcher.New(m.paths.KeybindingsFile, m.debounce, m.reloadKeybindings, m.logger)

	sw, kw := m.settingsWatcher, m.keybindingsWatcher
	time.AfterFunc(m.settleDelay, func() {
		if err := sw.Start(); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
			m.logger.Warn("settings watcher start failed", "err", err)
		}
		if err := kw.Start(); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
			m.logger.Warn("keybindings watcher start failed", "err", err)
		}
	})

	m.logger.Info("initialized", "configRoot", m.paths.ConfigRoot, "migrated", m.migrated)
	return nil
}

// waitForFilesystem retries the availability probe with fixed backoff.
// Host filesystem bootstrap may lag process start.
func (m *Manager) waitForFilesystem(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= m.probeRetries; attempt++ {
		if err = m.probe(); err == nil {
			return nil
		}
		if attempt == m.probeRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.probeBackoff):
		}
	}
	return fmt.Errorf("filesystem unavailable after %d attempts: %w", m.probeRetries+1, err)
}

func (m *Manager) loadOrCreateSettings() error {
	text, err := os.ReadFile(m.paths.SettingsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		text = []byte(defaultSettingsText)
		if werr := os.WriteFile(m.paths.SettingsFile, text, 0o644); werr != nil {
			return &FileSystemError{Op: "write", Path: m.paths.SettingsFile, Err: werr}
		}
		m.logger.Info("created default settings file", "path", m.paths.SettingsFile)
	case err != nil:
		return &FileSystemError{Op: "read", Path: m.paths.SettingsFile, Err: err}
	}

	m.rawSettings = text
	doc, perr := codec.ParseFile(m.paths.SettingsFile, text)
	if perr != nil {
		// Malformed content is not fatal: defaults carry the process and
		// the file is left untouched for the user to repair.
		m.lastReloadErr = perr
		m.logger.Warn("settings file is malformed, using defaults", "err", perr)
		doc = nil
	}
	m.store.SetSettings(store.MergeWithDefaults(doc, defaultSettings()))
	return nil
}

func (m *Manager) loadOrCreateKeybindings() error {
	text, err := os.ReadFile(m.paths.KeybindingsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		text = defaultKeybindingsText()
		if werr := os.WriteFile(m.paths.KeybindingsFile, text, 0o644); werr != nil {
			return &FileSystemError{Op: "write", Path: m.paths.KeybindingsFile, Err: werr}
		}
		m.logger.Info("created default keybindings file", "path", m.paths.KeybindingsFile)
	case err != nil:
		return &FileSystemError{Op: "read", Path: m.paths.KeybindingsFile, Err: err}
	}

	m.rawKeybindings = text
	bindings, perr := codec.DecodeKeybindingsFile(m.paths.KeybindingsFile, text)
	if perr != nil {
		m.lastReloadErr = perr
		m.logger.Warn("keybindings file is malformed, using defaults", "err", perr)
		bindings = defaultKeybindings()
	}
	m.store.SetKeybindings(bindings)
	return nil
}

// Settings returns a snapshot of the merged settings.
func (m *Manager) Settings() AppSettings {
	return settingsFromMap(m.store.Settings())
}

// SettingsMap returns a deep copy of the merged settings document.
func (m *Manager) SettingsMap() map[string]any {
	return m.store.Settings()
}

// Keybindings returns a copy of the current keybindings.
func (m *Manager) Keybindings() []Keybinding {
	return m.store.Keybindings()
}

// SettingsPath returns the settings.toml path.
func (m *Manager) SettingsPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths.SettingsFile
}

// KeybindingsPath returns the keybindings.toml path.
func (m *Manager) KeybindingsPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paths.KeybindingsFile
}

// OnChange registers a change listener. Listeners receive snapshots and
// must not mutate them. The returned function unsubscribes.
func (m *Manager) OnChange(l func(ChangeEvent)) func() {
	return m.store.OnChange(l)
}

// LastReloadError returns the most recent read or parse failure on the
// reload path, or nil. Prior good state is retained across such failures.
func (m *Manager) LastReloadError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReloadErr
}

// ListenerStats returns delivery counters for change listeners.
func (m *Manager) ListenerStats() store.Stats {
	return m.store.Stats()
}

// UpdateSettings overlays a partial document onto the current settings and
// persists the result with a structure-preserving rewrite. An empty partial
// is a no-op: no write, no reload, no event. Write failures reject the
// operation and leave both memory and disk unchanged.
func (m *Manager) UpdateSettings(partial map[string]any) error {
	m.mu.Lock()

	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if len(partial) == 0 {
		m.mu.Unlock()
		return nil
	}

	current := m.store.Settings()
	next := store.MergeWithDefaults(partial, current)
	if store.Equal(next, current) {
		m.mu.Unlock()
		return nil
	}

	newText := codec.SerializeIncremental(m.rawSettings, next)
	if err := m.writeManaged(m.settingsWatcher, m.paths.SettingsFile, newText); err != nil {
		m.mu.Unlock()
		return err
	}

	m.rawSettings = newText
	m.store.SetSettings(next)
	ev := ChangeEvent{
		Kind:     KindSettings,
		Previous: settingsFromMap(current),
		Current:  settingsFromMap(next),
		Origin:   OriginApp,
	}
	m.mu.Unlock()

	m.store.Notify(ev)
	return nil
}

// AddKeybinding adds a binding, replacing any existing binding with the
// same key, and regenerates keybindings.toml.
func (m *Manager) AddKeybinding(kb Keybinding) error {
	if kb.Key == "" {
		return &ValidationError{Field: "key", Message: "must not be empty"}
	}
	if kb.Command == "" {
		return &ValidationError{Field: "command", Message: "must not be empty"}
	}

	return m.commitKeybindings(func(current []Keybinding) []Keybinding {
		next := make([]Keybinding, 0, len(current)+1)
		replaced := false
		for _, b := range current {
			if b.Key == kb.Key {
				next = append(next, kb.Clone())
				replaced = true
				continue
			}
			next = append(next, b)
		}
		if !replaced {
			next = append(next, kb.Clone())
		}
		return next
	})
}

// RemoveKeybinding removes the binding for key. Removing a key with no
// binding succeeds and still emits a change event.
func (m *Manager) RemoveKeybinding(key string) error {
	return m.commitKeybindings(func(current []Keybinding) []Keybinding {
		next := make([]Keybinding, 0, len(current))
		for _, b := range current {
			if b.Key == key {
				continue
			}
			next = append(next, b)
		}
		return next
	})
}

// commitKeybindings applies a list transform, persists the regenerated
// file, and notifies listeners with an app origin.
func (m *Manager) commitKeybindings(transform func([]Keybinding) []Keybinding) error {
	m.mu.Lock()

	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	current := m.store.Keybindings()
	next := transform(current)

	newText := codec.EncodeKeybindings(next)
	if err := m.writeManaged(m.keybindingsWatcher, m.paths.KeybindingsFile, newText); err != nil {
		m.mu.Unlock()
		return err
	}

	m.rawKeybindings = newText
	m.store.SetKeybindings(next)
	ev := ChangeEvent{
		Kind:     KindKeybindings,
		Previous: current,
		Current:  m.store.Keybindings(),
		Origin:   OriginApp,
	}
	m.mu.Unlock()

	m.store.Notify(ev)
	return nil
}

// writeManaged performs a suppressed local write: the file's subscription
// is suspended first and resumed after the settle delay, whether or not
// the write succeeded. The suspend token ties the deferred resume to this
// write; when a later write re-suspends before the timer fires, the stale
// resume is inert and the later write's own timer governs.
func (m *Manager) writeManaged(w *watcher.FileWatcher, path string, text []byte) error {
	token := w.Suspend()
	err := os.WriteFile(path, text, 0o644)
	m.scheduleResume(w, token)
	if err != nil {
		return &FileSystemError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (m *Manager) scheduleResume(w *watcher.FileWatcher, token uint64) {
	time.AfterFunc(m.settleDelay, func() {
		if err := w.Resume(token); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
			m.logger.Warn("watcher resume failed", "path", w.Path(), "err", err)
		}
	})
}

// readyLocked guards mutating operations.
func (m *Manager) readyLocked() error {
	switch {
	case m.disposed:
		return ErrDisposed
	case m.state == StateFailed:
		return fmt.Errorf("%w: %v", ErrPermanentFailure, m.initErr)
	case m.state != StateReady:
		return ErrNotReady
	}
	return nil
}

// reloadSettings handles a debounced external change to settings.toml.
func (m *Manager) reloadSettings() {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return
	}

	var ev *ChangeEvent
	text, err := os.ReadFile(m.paths.SettingsFile)
	if err != nil {
		m.lastReloadErr = &FileSystemError{Op: "read", Path: m.paths.SettingsFile, Err: err}
		m.logger.Warn("settings reload failed", "err", err)
	} else if doc, perr := codec.ParseFile(m.paths.SettingsFile, text); perr != nil {
		m.lastReloadErr = perr
		m.logger.Warn("external settings edit not applied", "err", perr)
	} else {
		m.lastReloadErr = nil
		merged := store.MergeWithDefaults(doc, defaultSettings())
		m.rawSettings = text
		previous := m.store.SetSettings(merged)
		ev = &ChangeEvent{
			Kind:     KindSettings,
			Previous: settingsFromMap(previous),
			Current:  settingsFromMap(merged),
			Origin:   OriginFile,
		}
		m.logger.Debug("settings reloaded from file")
	}
	w := m.settingsWatcher
	m.mu.Unlock()

	if ev != nil {
		m.store.Notify(*ev)
	}
	// The subscription is one-shot from our point of view: restart it
	// after every reload attempt, success or failure.
	if err := w.Restart(); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
		m.logger.Warn("settings watcher restart failed", "err", err)
	}
}

// reloadKeybindings handles a debounced external change to keybindings.toml.
func (m *Manager) reloadKeybindings() {
	m.mu.Lock()

	if m.disposed {
		m.mu.Unlock()
		return
	}

	var ev *ChangeEvent
	text, err := os.ReadFile(m.paths.KeybindingsFile)
	if err != nil {
		m.lastReloadErr = &FileSystemError{Op: "read", Path: m.paths.KeybindingsFile, Err: err}
		m.logger.Warn("keybindings reload failed", "err", err)
	} else if bindings, perr := codec.DecodeKeybindingsFile(m.paths.KeybindingsFile, text); perr != nil {
		m.lastReloadErr = perr
		m.logger.Warn("external keybindings edit not applied", "err", perr)
	} else {
		m.lastReloadErr = nil
		m.rawKeybindings = text
		previous := m.store.SetKeybindings(bindings)
		ev = &ChangeEvent{
			Kind:     KindKeybindings,
			Previous: previous,
			Current:  m.store.Keybindings(),
			Origin:   OriginFile,
		}
		m.logger.Debug("keybindings reloaded from file")
	}
	w := m.keybindingsWatcher
	m.mu.Unlock()

	if ev != nil {
		m.store.Notify(*ev)
	}
	if err := w.Restart(); err != nil && !errors.Is(err, watcher.ErrWatcherClosed) {
		m.logger.Warn("keybindings watcher restart failed", "err", err)
	}
}

// RepairSettingsFile applies the allow-listed auto-fix to a settings file
// whose last reload failed with a fixable diagnosis. The original file is
// backed up first; the repair is applied only when the fixed content
// parses. Never called implicitly.
func (m *Manager) RepairSettingsFile() error {
	m.mu.Lock()

	if err := m.readyLocked(); err != nil {
		m.mu.Unlock()
		return err
	}

	var perr *ParseError
	if !errors.As(m.lastReloadErr, &perr) || perr.Path != m.paths.SettingsFile || !codec.CanAutoFix(perr.Diagnosis) {
		m.mu.Unlock()
		return ErrNotFixable
	}

	text, err := os.ReadFile(m.paths.SettingsFile)
	if err != nil {
		m.mu.Unlock()
		return &FileSystemError{Op: "read", Path: m.paths.SettingsFile, Err: err}
	}

	fixed, changed := codec.AutoFix(text)
	if !changed {
		m.mu.Unlock()
		return ErrNotFixable
	}
	doc, perr2 := codec.Parse(fixed)
	if perr2 != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: fixed content still malformed", ErrNotFixable)
	}

	backupName := fmt.Sprintf("settings-backup-%s-%s.toml",
		time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	backupPath := filepath.Join(m.paths.BackupDir, backupName)
	if err := os.WriteFile(backupPath, text, 0o644); err != nil {
		m.mu.Unlock()
		return &FileSystemError{Op: "write backup", Path: backupPath, Err: err}
	}

	if err := m.writeManaged(m.settingsWatcher, m.paths.SettingsFile, fixed); err != nil {
		m.mu.Unlock()
		return err
	}

	m.lastReloadErr = nil
	m.rawSettings = fixed
	current := m.store.Settings()
	merged := store.MergeWithDefaults(doc, defaultSettings())
	m.store.SetSettings(merged)
	ev := ChangeEvent{
		Kind:     KindSettings,
		Previous: settingsFromMap(current),
		Current:  settingsFromMap(merged),
		Origin:   OriginApp,
	}
	m.logger.Info("settings file repaired", "backup", backupPath)
	m.mu.Unlock()

	m.store.Notify(ev)
	return nil
}

// Dispose stops both watchers and renders the manager inert. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	if m.settingsWatcher != nil {
		m.settingsWatcher.Close()
	}
	if m.keybindingsWatcher != nil {
		m.keybindingsWatcher.Close()
	}
	m.logger.Debug("disposed")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
