package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeLegacyBlob(t *testing.T, dir string, payload map[string]any) {
	t.Helper()
	blob := map[string]any{"taskdeck-storage": payload}
	raw, err := json.Marshal(blob)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "localStorage.json"), raw, 0o644))
}

func TestMigrationImportsLegacyStorage(t *testing.T) {
	dir := t.TempDir()
	writeLegacyBlob(t, dir, map[string]any{
		"settings": map[string]any{
			"theme":        "dark",
			"serverHost":   "sync.example.com",
			"serverPort":   float64(9443),
			"useTls":       true,
			"fontSize":     float64(16),
			"densityScale": 1.25,
			"ignoredField": "dropped",
		},
		"keybindings": []any{
			map[string]any{"key": "Ctrl+N", "command": "task.new"},
			map[string]any{"keys": "Ctrl+T", "command": "task.today"},
		},
	})

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.Initialize(context.Background()))

	s := m.Settings()
	require.Equal(t, "dark", s.App.Theme)
	require.Equal(t, "sync.example.com", s.Server.Host)
	require.Equal(t, 9443, s.Server.Port)
	require.True(t, s.Server.TLS)
	require.Equal(t, 16, s.UI.FontSize)
	require.Equal(t, 1.25, s.Appearance.DensityScale)
	// Fields the legacy blob never set come from defaults.
	require.Equal(t, "en-US", s.App.Language)
	require.True(t, s.App.ConfirmDelete)

	bindings := m.Keybindings()
	require.Len(t, bindings, 2)
	require.Equal(t, "Ctrl+N", bindings[0].Key)
	// The older "keys" field name is accepted.
	require.Equal(t, "Ctrl+T", bindings[1].Key)

	// The migrated settings file keeps the commented template layout.
	text, err := os.ReadFile(filepath.Join(dir, "settings.toml"))
	require.NoError(t, err)
	require.Contains(t, string(text), "# TaskDeck settings")
	require.Contains(t, string(text), `theme = "dark"`)
	require.Contains(t, string(text), `host = "sync.example.com"`)

	// The legacy blob is backed up, then removed.
	_, err = os.Stat(filepath.Join(dir, "localStorage.json"))
	require.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "localStorage-backup-"))

	// Listeners registered before Initialize observe the import.
	events := log.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		require.Equal(t, OriginMigration, ev.Origin)
	}
	require.Equal(t, KindSettings, events[0].Kind)
	require.Equal(t, KindKeybindings, events[1].Kind)
}

func TestMigrationBarePayload(t *testing.T) {
	// The oldest builds wrote the payload without the storage key wrapper.
	dir := t.TempDir()
	raw, err := json.Marshal(map[string]any{
		"settings": map[string]any{"theme": "light"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "localStorage.json"), raw, 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, "light", m.Settings().App.Theme)
}

func TestMigrationSkippedWhenSettingsExist(t *testing.T) {
	dir := t.TempDir()
	writeLegacyBlob(t, dir, map[string]any{
		"settings": map[string]any{"theme": "dark"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"), []byte("[app]\ntheme = \"light\"\n"), 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	var log eventLog
	m.OnChange(log.record)

	require.NoError(t, m.Initialize(context.Background()))

	// The existing TOML wins; the blob stays where it is.
	require.Equal(t, "light", m.Settings().App.Theme)
	_, err := os.Stat(filepath.Join(dir, "localStorage.json"))
	require.NoError(t, err)
	require.Zero(t, log.len())
}

func TestMigrationCorruptBlobFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "localStorage.json"), []byte("{not json"), 0o644))

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	// Migration is best effort; a corrupt blob never blocks startup.
	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, StateReady, m.State())
	require.Equal(t, "auto", m.Settings().App.Theme)

	// The unreadable blob is left in place for manual inspection.
	_, err := os.Stat(filepath.Join(dir, "localStorage.json"))
	require.NoError(t, err)
}

func TestMigrationEmptyKeybindingsGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeLegacyBlob(t, dir, map[string]any{
		"settings": map[string]any{"theme": "dark"},
	})

	m := NewManager(
		WithConfigDir(dir),
		WithDebounce(testDebounce),
		WithSettleDelay(testSettle),
		WithProbe(func() error { return nil }),
	)
	t.Cleanup(m.Dispose)

	require.NoError(t, m.Initialize(context.Background()))
	require.NotEmpty(t, m.Keybindings())
}
