package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/settings/codec"
)

const (
	testDebounce = 25 * time.Millisecond
	testSettle   = 50 * time.Millisecond
	waitTimeout  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
	quietPeriod  = 400 * time.Millisecond
)

// eventLog collects change events for assertions across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (l *eventLog) record(ev ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *eventLog) all() []ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ChangeEvent(nil), l.events...)
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	}
	m := NewManager(append(base, opts...)...)
	t.Cleanup(m.Dispose)
	return m, dir
}

// waitForWatchers blocks until the post-initialize settle delay has elapsed
// and the file subscriptions are live.
func waitForWatchers(t *testing.T) {
	t.Helper()
	time.Sleep(testSettle + 100*time.Millisecond)
}

func TestInitializeFreshStart(t *testing.T) {
	m, dir := newTestManager(t)

	require.Equal(t, StateUninitialized, m.State())
	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, StateReady, m.State())

	// Both managed files exist with the commented default content.
	settingsText, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Contains(t, string(settingsText), "# TaskDeck settings")
	require.Contains(t, string(settingsText), `theme = "auto"`)

	_, err = os.Stat(filepath.Join(dir, "keybindings.toml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "backups"))
	require.NoError(t, err)

	s := m.Settings()
	require.Equal(t, "auto", s.App.Theme)
	require.Equal(t, "en-US", s.App.Language)
	require.Equal(t, 8787, s.Server.Port)
	require.Equal(t, 14, s.UI.FontSize)
	require.Equal(t, 1.0, s.Appearance.DensityScale)
	require.NoError(t, m.LastReloadError())

	require.NotEmpty(t, m.Keybindings())
	require.Equal(t, filepath.Join(dir, "settings.toml"), m.SettingsPath())
	require.Equal(t, filepath.Join(dir, "keybindings.toml"), m.KeybindingsPath())
}

func TestInitializeTwice(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.Initialize(context.Background()))
	require.ErrorIs(t, m.Initialize(context.Background()), ErrAlreadyInitialized)
}

func TestOperationsBeforeInitialize(t *testing.T) {
	m, _ := newTestManager(t)

	require.ErrorIs(t, m.UpdateSettings(map[string]any{"app": map[string]any{"theme": "dark"}}), ErrNotReady)
	require.ErrorIs(t, m.AddKeybinding(Keybinding{Key: "Ctrl+Q", Command: "app.quit"}), ErrNotReady)
	require.ErrorIs(t, m.RemoveKeybinding("Ctrl+Q"), ErrNotReady)
	require.ErrorIs(t, m.RepairSettingsFile(), ErrNotReady)
}

func TestInitializePermanentFailure(t *testing.T) {
	m, _ := newTestManager(t,
		WithProbe(func() error { return errors.New("volume offline") }),
		WithProbeRetries(1, time.Millisecond),
	)

	err := m.Initialize(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, m.State())

	// The failure is terminal: retries refuse with the original error.
	err = m.Initialize(context.Background())
	require.ErrorIs(t, err, ErrPermanentFailure)
	require.Contains(t, err.Error(), "volume offline")

	require.ErrorIs(t, m.UpdateSettings(map[string]any{"app": map[string]any{"theme": "dark"}}), ErrPermanentFailure)
}

func TestInitializeProbeRecovers(t *testing.T) {
	attempts := 0
	m, _ := newTestManager(t,
		WithProbe(func() error {
			attempts++
			if attempts < 3 {
				return errors.New("not yet")
			}
			return nil
		}),
		WithProbeRetries(5, time.Millisecond),
	)

	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, 3, attempts)
}

func TestInitializeContextCancelled(t *testing.T) {
	m, _ := newTestManager(t,
		WithProbe(func() error { return errors.New("never ready") }),
		WithProbeRetries(100, 50*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Initialize(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StateFailed, m.State())
}

func TestInitializeExistingFile(t *testing.T) {
	dir := t.TempDir()
	custom := "# my notes\n[app]\ntheme = \"dark\"\n\n[ui]\nfontSize = 18\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(custom), 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	require.NoError(t, m.Initialize(context.Background()))

	s := m.Settings()
	require.Equal(t, "dark", s.App.Theme)
	require.Equal(t, 18, s.UI.FontSize)
	// Absent keys come from defaults without touching the file.
	require.Equal(t, "en-US", s.App.Language)
	require.Equal(t, 280, s.UI.SidebarWidth)

	after, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Equal(t, custom, string(after), "initialize must not rewrite an existing file")
}

func TestInitializeMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[app\ntheme = ???\n"), 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	// Malformed content is not fatal; the session runs on defaults.
	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, StateReady, m.State())
	require.Equal(t, "auto", m.Settings().App.Theme)

	var pe *ParseError
	require.ErrorAs(t, m.LastReloadError(), &pe)
}

func TestUpdateSettingsPersists(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "dark"},
		"ui":  map[string]any{"fontSize": int64(18)},
	}))

	s := m.Settings()
	require.Equal(t, "dark", s.App.Theme)
	require.Equal(t, 18, s.UI.FontSize)
	// Untouched values survive the partial update.
	require.True(t, s.App.ConfirmDelete)

	text, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Contains(t, string(text), `theme = "dark"`)
	require.Contains(t, string(text), "fontSize = 18")
	// The structure-preserving rewrite keeps the template comments.
	require.Contains(t, string(text), "# TaskDeck settings")
	require.Contains(t, string(text), "# Sync server endpoint.")

	require.Equal(t, 1, log.len())
	ev := log.all()[0]
	require.Equal(t, KindSettings, ev.Kind)
	require.Equal(t, OriginApp, ev.Origin)
	prev, ok := ev.Previous.(AppSettings)
	require.True(t, ok)
	require.Equal(t, "auto", prev.App.Theme)
	cur, ok := ev.Current.(AppSettings)
	require.True(t, ok)
	require.Equal(t, "dark", cur.App.Theme)
}

func TestUpdateSettingsEmptyIsNoOp(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	before, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.UpdateSettings(nil))
	require.NoError(t, m.UpdateSettings(map[string]any{}))

	after, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
	require.Zero(t, log.len())
}

func TestUpdateSettingsUnchangedValueIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "auto"},
	}))
	require.Zero(t, log.len())
}

func TestUpdateSettingsNoFeedbackLoop(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	waitForWatchers(t)

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "dark"},
	}))

	// Give the watcher time to resume and (incorrectly) fire if the
	// subsystem's own write leaked through as an external change.
	time.Sleep(testSettle + quietPeriod)
	require.Equal(t, 1, log.len(), "own write must not come back as a file event")
	require.Equal(t, OriginApp, log.all()[0].Origin)
}

func TestOverlappingUpdatesNoFeedbackLoop(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	waitForWatchers(t)

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.UpdateSettings(map[string]any{"app": map[string]any{"theme": "dark"}}))
	// Land a second write near the end of the first write's settle window,
	// so the first write's deferred resume fires under the second write's
	// suspension.
	time.Sleep(testSettle - 10*time.Millisecond)
	require.NoError(t, m.UpdateSettings(map[string]any{"app": map[string]any{"theme": "light"}}))

	time.Sleep(testSettle + quietPeriod)
	events := log.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		require.Equal(t, OriginApp, ev.Origin, "own write surfaced as an external change")
	}
	require.Equal(t, "light", m.Settings().App.Theme)
}

func TestExternalEditReload(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	waitForWatchers(t)

	var log eventLog
	m.OnChange(log.record)

	edit := func(theme string) {
		text, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
		require.NoError(t, err)
		updated := strings.Replace(string(text), `theme = "auto"`, `theme = "`+theme+`"`, 1)
		require.NotEqual(t, string(text), updated)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(updated), 0o644))
	}

	edit("dark")
	require.Eventually(t, func() bool { return log.len() == 1 }, waitTimeout, pollInterval)

	ev := log.all()[0]
	require.Equal(t, KindSettings, ev.Kind)
	require.Equal(t, OriginFile, ev.Origin)
	require.Equal(t, "dark", m.Settings().App.Theme)
	require.NoError(t, m.LastReloadError())

	// The subscription survives its own firing; a second edit reloads too.
	text, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	updated := strings.Replace(string(text), `theme = "dark"`, `theme = "light"`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(updated), 0o644))

	require.Eventually(t, func() bool { return log.len() == 2 }, waitTimeout, pollInterval)
	require.Equal(t, "light", m.Settings().App.Theme)
}

func TestExternalEditMalformedKeepsState(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))
	waitForWatchers(t)

	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "dark"},
	}))
	time.Sleep(testSettle + 100*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[app\nbroken = ???\n"), 0o644))

	require.Eventually(t, func() bool { return m.LastReloadError() != nil }, waitTimeout, pollInterval)

	// Prior good state is retained.
	require.Equal(t, "dark", m.Settings().App.Theme)

	var pe *ParseError
	require.ErrorAs(t, m.LastReloadError(), &pe)
}

func TestKeybindingLifecycle(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.AddKeybinding(Keybinding{Key: "Ctrl+Q", Command: "app.quit"}))
	require.Equal(t, 1, log.len())
	require.Equal(t, KindKeybindings, log.all()[0].Kind)
	require.Equal(t, OriginApp, log.all()[0].Origin)

	find := func(key string) (Keybinding, bool) {
		for _, b := range m.Keybindings() {
			if b.Key == key {
				return b, true
			}
		}
		return Keybinding{}, false
	}

	kb, ok := find("Ctrl+Q")
	require.True(t, ok)
	require.Equal(t, "app.quit", kb.Command)

	// Adding the same key replaces rather than duplicates.
	require.NoError(t, m.AddKeybinding(Keybinding{Key: "Ctrl+Q", Command: "window.close"}))
	kb, ok = find("Ctrl+Q")
	require.True(t, ok)
	require.Equal(t, "window.close", kb.Command)
	count := 0
	for _, b := range m.Keybindings() {
		if b.Key == "Ctrl+Q" {
			count++
		}
	}
	require.Equal(t, 1, count)

	// The regenerated file reflects the change and groups by namespace.
	text, err := os.ReadFile(filepath.Join(dir, "keybindings.toml"))
	require.NoError(t, err)
	require.Contains(t, string(text), `command = "window.close"`)
	require.Contains(t, string(text), "# window")

	require.NoError(t, m.RemoveKeybinding("Ctrl+Q"))
	_, ok = find("Ctrl+Q")
	require.False(t, ok)
}

func TestAddKeybindingValidation(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var ve *ValidationError
	require.ErrorAs(t, m.AddKeybinding(Keybinding{Command: "task.new"}), &ve)
	require.Equal(t, "key", ve.Field)
	require.ErrorAs(t, m.AddKeybinding(Keybinding{Key: "Ctrl+N"}), &ve)
	require.Equal(t, "command", ve.Field)
}

func TestRemoveKeybindingAbsentStillNotifies(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.RemoveKeybinding("Ctrl+Alt+Nothing"))
	require.Equal(t, 1, log.len())
	require.Equal(t, KindKeybindings, log.all()[0].Kind)
}

func TestOnChangeUnsubscribe(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	var log eventLog
	unsub := m.OnChange(log.record)
	unsub()

	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "dark"},
	}))
	require.Zero(t, log.len())
}

func TestRepairSettingsFile(t *testing.T) {
	dir := t.TempDir()
	broken := "[app]\ntheme = \"auto\"\nexportDir = \"C:\\data\\snapshots\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte(broken), 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	require.NoError(t, m.Initialize(context.Background()))
	require.Error(t, m.LastReloadError())

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.RepairSettingsFile())
	require.NoError(t, m.LastReloadError())

	// The repaired file parses and carries the escaped path.
	text, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	doc, err := codec.Parse(text)
	require.NoError(t, err)
	app := doc["app"].(map[string]any)
	require.Equal(t, `C:\data\snapshots`, app["exportDir"])

	// The original content is backed up.
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "settings-backup-"))
	backup, err := os.ReadFile(filepath.Join(dir, "backups", entries[0].Name()))
	require.NoError(t, err)
	require.Equal(t, broken, string(backup))

	require.Equal(t, 1, log.len())
	require.Equal(t, OriginApp, log.all()[0].Origin)
}

func TestRepairSettingsFileNotFixable(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	// A healthy file has nothing to repair.
	require.ErrorIs(t, m.RepairSettingsFile(), ErrNotFixable)
}

func TestDispose(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	m.Dispose()
	m.Dispose()

	require.ErrorIs(t, m.UpdateSettings(map[string]any{"app": map[string]any{"theme": "dark"}}), ErrDisposed)
	require.ErrorIs(t, m.Initialize(context.Background()), ErrDisposed)
}

func TestListenerStats(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	m.OnChange(func(ChangeEvent) {})
	require.NoError(t, m.UpdateSettings(map[string]any{
		"app": map[string]any{"theme": "dark"},
	}))

	stats := m.ListenerStats()
	require.Equal(t, uint64(1), stats.Delivered)
	require.Zero(t, stats.Failed)
}

func TestSettingsMapIsCopy(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Initialize(context.Background()))

	doc := m.SettingsMap()
	doc["app"].(map[string]any)["theme"] = "mutated"

	require.Equal(t, "auto", m.Settings().App.Theme)
}

func TestManagerStateString(t *testing.T) {
	require.Equal(t, "uninitialized", StateUninitialized.String())
	require.Equal(t, "initializing", StateInitializing.String())
	require.Equal(t, "ready", StateReady.String())
	require.Equal(t, "failed", StateFailed.String())
}
