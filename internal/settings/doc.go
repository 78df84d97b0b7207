// Package settings implements the TaskDeck configuration subsystem.
//
// It persists user preferences and keybindings as human-editable TOML under
// the per-OS configuration directory, watches both files for external
// edits, and reconciles edits made through the API against edits made
// outside the process.
//
// # Managed files
//
//	settings.toml     sections [app], [server], [ui], [appearance];
//	                  comments and ordering survive managed rewrites
//	keybindings.toml  array-of-tables [[keybindings]]; regenerated wholesale
//
// # Dual writers
//
// Both files have exactly two writers: this subsystem and the user's
// editor. Before every local write the file's watch subscription is torn
// down, and it is recreated only after the write completes and a settle
// delay elapses, so the write is never observed as an external change.
// External edits are debounced, reloaded, merged onto the built-in
// defaults, and announced to listeners with a file origin. After every
// reload attempt the subscription is restarted unconditionally.
//
// # Basic usage
//
//	mgr := settings.NewManager()
//	if err := mgr.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Dispose()
//
//	unsub := mgr.OnChange(func(ev settings.ChangeEvent) {
//	    // react to ev.Kind / ev.Origin
//	})
//	defer unsub()
//
//	theme := mgr.Settings().App.Theme
//	err = mgr.UpdateSettings(map[string]any{"app": map[string]any{"theme": "dark"}})
//
// A Manager is constructed once at application startup and injected into
// whatever consumes it; there is no package-level singleton.
package settings
