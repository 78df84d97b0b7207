package settings

import "github.com/taskdeck/taskdeck/internal/settings/codec"

// defaultSettings returns the complete default settings document. Every
// leaf the application understands appears here; loaded content is always
// merged onto a copy of this map. Numeric literals use the types the TOML
// decoder produces so unchanged values compare equal against file content.
func defaultSettings() map[string]any {
	return map[string]any{
		"app": map[string]any{
			"theme":         "auto",
			"language":      "en-US",
			"autostartSync": true,
			"confirmDelete": true,
		},
		"server": map[string]any{
			"host":             "127.0.0.1",
			"port":             int64(8787),
			"reconnectDelayMs": int64(1500),
			"tls":              false,
		},
		"ui": map[string]any{
			"fontSize":      int64(14),
			"compactMode":   false,
			"showCompleted": true,
			"sidebarWidth":  int64(280),
		},
		"appearance": map[string]any{
			"accentColor":       "#4f6ef2",
			"densityScale":      1.0,
			"animationsEnabled": true,
		},
	}
}

// defaultSettingsText is the file written on first run. It carries the full
// schema with explanatory comments; managed rewrites preserve this layout.
const defaultSettingsText = `# TaskDeck settings
#
# TaskDeck rewrites this file when settings change in the app, preserving
# your comments, blank lines, and section order. Edits made here while
# TaskDeck is running are picked up automatically.

[app]
# Color theme: "auto", "light", or "dark".
theme = "auto"
# Interface language as a BCP 47 tag.
language = "en-US"
# Start the background sync client on launch.
autostartSync = true
# Ask for confirmation before deleting a task.
confirmDelete = true

[server]
# Sync server endpoint.
host = "127.0.0.1"
port = 8787
# Delay before reconnecting after a dropped sync connection (milliseconds).
reconnectDelayMs = 1500
tls = false

[ui]
fontSize = 14
# Tighter spacing in task lists.
compactMode = false
showCompleted = true
sidebarWidth = 280

[appearance]
accentColor = "#4f6ef2"
densityScale = 1.0
animationsEnabled = true
`

// defaultKeybindings returns the bindings written on first run.
func defaultKeybindings() []Keybinding {
	return []Keybinding{
		{Key: "Ctrl+Shift+P", Command: "palette.open"},
		{Key: "Ctrl+N", Command: "task.new"},
		{Key: "Ctrl+D", Command: "task.complete", When: "taskSelected"},
		{Key: "Delete", Command: "task.delete", When: "taskSelected && !editing"},
		{Key: "Ctrl+K", Command: "task.search"},
		{Key: "Ctrl+1", Command: "schedule.today"},
		{Key: "Ctrl+2", Command: "schedule.week"},
		{Key: "Ctrl+B", Command: "view.toggleSidebar"},
		{Key: "Ctrl+Shift+H", Command: "view.toggleCompleted"},
		{Key: "Ctrl+R", Command: "sync.now", Args: map[string]any{"force": false}},
	}
}

// defaultKeybindingsText renders the first-run keybindings file.
func defaultKeybindingsText() []byte {
	return codec.EncodeKeybindings(defaultKeybindings())
}
