package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taskdeck/taskdeck/internal/settings/codec"
	"github.com/taskdeck/taskdeck/internal/settings/store"
)

// legacyStorageKey is the well-known key earlier releases stored their
// single JSON blob under.
const legacyStorageKey = "taskdeck-storage"

// runMigration imports the legacy single-blob storage into the new file
// format. It runs at most once, only when the legacy blob exists and
// settings.toml does not. Best effort throughout: a timestamped backup is
// written before the legacy source is deleted, every failure is logged and
// swallowed, and startup is never blocked.
//
// Runs with m.mu held, before load-or-create, so the migrated files are
// picked up by the normal load path.
func (m *Manager) runMigration() {
	raw, err := os.ReadFile(m.paths.LegacyStorageFile)
	if err != nil {
		m.logger.Warn("legacy storage unreadable, skipping migration", "err", err)
		return
	}

	var blob map[string]any
	if err := json.Unmarshal(raw, &blob); err != nil {
		m.logger.Warn("legacy storage is not valid JSON, skipping migration", "err", err)
		return
	}

	payload, ok := blob[legacyStorageKey].(map[string]any)
	if !ok {
		// Oldest builds wrote the payload bare, without the storage key.
		payload = blob
	}

	settingsDoc := convertLegacySettings(payload["settings"])
	bindings := convertLegacyKeybindings(payload["keybindings"])

	backupName := fmt.Sprintf("localStorage-backup-%s.json", time.Now().Format("20060102-150405"))
	backupPath := filepath.Join(m.paths.BackupDir, backupName)
	if err := os.WriteFile(backupPath, raw, 0o644); err != nil {
		m.logger.Warn("legacy backup failed, aborting migration", "path", backupPath, "err", err)
		return
	}

	merged := store.MergeWithDefaults(settingsDoc, defaultSettings())
	settingsText := codec.SerializeIncremental([]byte(defaultSettingsText), merged)
	if err := os.WriteFile(m.paths.SettingsFile, settingsText, 0o644); err != nil {
		m.logger.Warn("migrated settings write failed", "err", err)
		return
	}

	if len(bindings) == 0 {
		bindings = defaultKeybindings()
	}
	if err := os.WriteFile(m.paths.KeybindingsFile, codec.EncodeKeybindings(bindings), 0o644); err != nil {
		m.logger.Warn("migrated keybindings write failed", "err", err)
		return
	}

	if err := os.Remove(m.paths.LegacyStorageFile); err != nil {
		m.logger.Warn("legacy storage removal failed", "err", err)
	}

	m.migrated = true
	m.logger.Info("migrated legacy storage", "backup", backupPath)
}

// convertLegacySettings maps the flat legacy settings object into the new
// sectioned schema. Unrecognized fields drop; absent fields default later
// through the merge.
func convertLegacySettings(v any) map[string]any {
	legacy, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	doc := make(map[string]any)
	set := func(path string, val any, ok bool) {
		if ok {
			store.SetPath(doc, path, val)
		}
	}

	s, ok := legacyString(legacy, "theme")
	set("app.theme", s, ok)
	s, ok = legacyString(legacy, "language")
	set("app.language", s, ok)
	b, ok := legacyBool(legacy, "autostartSync")
	set("app.autostartSync", b, ok)
	b, ok = legacyBool(legacy, "confirmDelete")
	set("app.confirmDelete", b, ok)

	s, ok = legacyString(legacy, "serverHost")
	set("server.host", s, ok)
	n, ok := legacyInt(legacy, "serverPort")
	set("server.port", n, ok)
	n, ok = legacyInt(legacy, "reconnectDelayMs")
	set("server.reconnectDelayMs", n, ok)
	b, ok = legacyBool(legacy, "useTls")
	set("server.tls", b, ok)

	n, ok = legacyInt(legacy, "fontSize")
	set("ui.fontSize", n, ok)
	b, ok = legacyBool(legacy, "compactMode")
	set("ui.compactMode", b, ok)
	b, ok = legacyBool(legacy, "showCompleted")
	set("ui.showCompleted", b, ok)
	n, ok = legacyInt(legacy, "sidebarWidth")
	set("ui.sidebarWidth", n, ok)

	s, ok = legacyString(legacy, "accentColor")
	set("appearance.accentColor", s, ok)
	f, ok := legacyFloat(legacy, "densityScale")
	set("appearance.densityScale", f, ok)
	b, ok = legacyBool(legacy, "animationsEnabled")
	set("appearance.animationsEnabled", b, ok)

	return doc
}

// convertLegacyKeybindings maps the legacy binding list. Both the old
// "keys" field name and the current "key" are accepted.
func convertLegacyKeybindings(v any) []Keybinding {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]Keybinding, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kb := Keybinding{}
		if s, ok := legacyString(entry, "key"); ok {
			kb.Key = s
		} else if s, ok := legacyString(entry, "keys"); ok {
			kb.Key = s
		}
		kb.Command, _ = legacyString(entry, "command")
		kb.When, _ = legacyString(entry, "when")
		if args, ok := entry["args"].(map[string]any); ok {
			kb.Args = args
		}
		out = append(out, kb)
	}
	return codec.NormalizeBindings(out)
}

func legacyString(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

func legacyBool(m map[string]any, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// legacyInt converts JSON numbers (always float64) to the integer type the
// schema stores.
func legacyInt(m map[string]any, key string) (int64, bool) {
	f, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func legacyFloat(m map[string]any, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}
