package settings

import (
	"github.com/taskdeck/taskdeck/internal/settings/codec"
	"github.com/taskdeck/taskdeck/internal/settings/store"
)

// Keybinding is one entry of keybindings.toml.
type Keybinding = codec.Binding

// ChangeEvent describes one settings or keybindings change.
type ChangeEvent = store.ChangeEvent

// ChangeKind identifies which managed document changed.
type ChangeKind = store.ChangeKind

// Origin identifies where a change came from.
type Origin = store.Origin

// Re-exported event constants.
const (
	KindSettings    = store.KindSettings
	KindKeybindings = store.KindKeybindings

	OriginFile      = store.OriginFile
	OriginApp       = store.OriginApp
	OriginMigration = store.OriginMigration
)

// Section accessors return snapshot structs built from the merged document.
// Mutating a snapshot does not modify stored state; use
// Manager.UpdateSettings for that.

// AppSection holds general application settings.
type AppSection struct {
	// Theme is the color theme: "auto", "light", or "dark".
	Theme string

	// Language is the interface language as a BCP 47 tag.
	Language string

	// AutostartSync starts the background sync client on launch.
	AutostartSync bool

	// ConfirmDelete asks before deleting a task.
	ConfirmDelete bool
}

// ServerSection holds sync server settings.
type ServerSection struct {
	// Host is the sync server endpoint host.
	Host string

	// Port is the sync server port.
	Port int

	// ReconnectDelayMS is the delay before reconnecting after a dropped
	// sync connection, in milliseconds.
	ReconnectDelayMS int

	// TLS enables transport security for the sync connection.
	TLS bool
}

// UISection holds layout settings.
type UISection struct {
	FontSize      int
	CompactMode   bool
	ShowCompleted bool
	SidebarWidth  int
}

// AppearanceSection holds visual tuning settings.
type AppearanceSection struct {
	AccentColor       string
	DensityScale      float64
	AnimationsEnabled bool
}

// AppSettings is the typed view of the merged settings document. Every
// field is always populated: loaded content is merged onto a complete
// default before this view is built.
type AppSettings struct {
	App        AppSection
	Server     ServerSection
	UI         UISection
	Appearance AppearanceSection
}

// settingsFromMap builds the typed view from a merged document. The merge
// invariant guarantees every path resolves; the zero fallbacks here only
// cover documents built outside the store.
func settingsFromMap(doc map[string]any) AppSettings {
	return AppSettings{
		App: AppSection{
			Theme:         stringAt(doc, "app.theme"),
			Language:      stringAt(doc, "app.language"),
			AutostartSync: boolAt(doc, "app.autostartSync"),
			ConfirmDelete: boolAt(doc, "app.confirmDelete"),
		},
		Server: ServerSection{
			Host:             stringAt(doc, "server.host"),
			Port:             intAt(doc, "server.port"),
			ReconnectDelayMS: intAt(doc, "server.reconnectDelayMs"),
			TLS:              boolAt(doc, "server.tls"),
		},
		UI: UISection{
			FontSize:      intAt(doc, "ui.fontSize"),
			CompactMode:   boolAt(doc, "ui.compactMode"),
			ShowCompleted: boolAt(doc, "ui.showCompleted"),
			SidebarWidth:  intAt(doc, "ui.sidebarWidth"),
		},
		Appearance: AppearanceSection{
			AccentColor:       stringAt(doc, "appearance.accentColor"),
			DensityScale:      floatAt(doc, "appearance.densityScale"),
			AnimationsEnabled: boolAt(doc, "appearance.animationsEnabled"),
		},
	}
}

func stringAt(doc map[string]any, path string) string {
	if v, ok := store.Lookup(doc, path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolAt(doc map[string]any, path string) bool {
	if v, ok := store.Lookup(doc, path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func intAt(doc map[string]any, path string) int {
	if v, ok := store.Lookup(doc, path); ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

func floatAt(doc map[string]any, path string) float64 {
	if v, ok := store.Lookup(doc, path); ok {
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		case int:
			return float64(n)
		}
	}
	return 0
}
