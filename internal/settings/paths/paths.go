// Package paths computes the OS-appropriate locations of the managed
// configuration files.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	// vendorDirName is the directory name on platforms with vendor-style
	// application data locations (Windows, macOS).
	vendorDirName = "TaskDeck"

	// unixDirName is the XDG-style directory name.
	unixDirName = "taskdeck"

	settingsFileName    = "settings.toml"
	keybindingsFileName = "keybindings.toml"
	backupsDirName      = "backups"

	// legacyStorageFileName is the single-blob storage file earlier
	// releases kept; Migration consumes it exactly once.
	legacyStorageFileName = "localStorage.json"
)

// Paths holds the resolved locations of the configuration subsystem.
type Paths struct {
	// ConfigRoot is the directory holding both managed files.
	ConfigRoot string
	// SettingsFile is the settings.toml path.
	SettingsFile string
	// KeybindingsFile is the keybindings.toml path.
	KeybindingsFile string
	// BackupDir holds migration and repair snapshots.
	BackupDir string
	// LegacyStorageFile is the legacy single-blob location, which may not
	// exist.
	LegacyStorageFile string
}

// FileSystemError wraps a filesystem failure with the path it happened on.
// The caller decides whether it is fatal.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// FromRoot builds Paths directly from a config root, bypassing per-OS
// resolution. Tests and embedders with a fixed directory use this.
func FromRoot(root string) Paths {
	return Paths{
		ConfigRoot:        root,
		SettingsFile:      filepath.Join(root, settingsFileName),
		KeybindingsFile:   filepath.Join(root, keybindingsFileName),
		BackupDir:         filepath.Join(root, backupsDirName),
		LegacyStorageFile: filepath.Join(root, legacyStorageFileName),
	}
}

// Resolver computes configuration paths. The zero value resolves against
// the real environment; the fields exist so tests can pin the inputs.
type Resolver struct {
	// GOOS overrides runtime.GOOS when non-empty.
	GOOS string
	// Home overrides the user home directory when non-empty.
	Home string
	// AppData overrides %APPDATA% when non-empty (Windows only).
	AppData string
	// XDGConfigHome overrides $XDG_CONFIG_HOME when non-empty.
	XDGConfigHome string
}

// Resolve computes the per-OS paths. It is pure: no directories are
// created and no filesystem state is consulted beyond the environment.
func (r Resolver) Resolve() (Paths, error) {
	root, err := r.configRoot()
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigRoot:        root,
		SettingsFile:      filepath.Join(root, settingsFileName),
		KeybindingsFile:   filepath.Join(root, keybindingsFileName),
		BackupDir:         filepath.Join(root, backupsDirName),
		LegacyStorageFile: filepath.Join(root, legacyStorageFileName),
	}, nil
}

func (r Resolver) configRoot() (string, error) {
	switch r.goos() {
	case "windows":
		appData := r.AppData
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData == "" {
			home, err := r.home()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, vendorDirName), nil

	case "darwin":
		home, err := r.home()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", vendorDirName), nil

	default:
		xdg := r.XDGConfigHome
		if xdg == "" {
			xdg = os.Getenv("XDG_CONFIG_HOME")
		}
		if xdg != "" {
			return filepath.Join(xdg, unixDirName), nil
		}
		home, err := r.home()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", unixDirName), nil
	}
}

func (r Resolver) goos() string {
	if r.GOOS != "" {
		return r.GOOS
	}
	return runtime.GOOS
}

func (r Resolver) home() (string, error) {
	if r.Home != "" {
		return r.Home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", &FileSystemError{Op: "resolve home", Path: "~", Err: err}
	}
	return home, nil
}

// EnsureDirectories creates the config root and backup directory, and moves
// files from the legacy dot-directory location (~/.taskdeck) into the new
// root when the new root has none. Errors carry the failed path.
func (r Resolver) EnsureDirectories(p Paths) error {
	if err := os.MkdirAll(p.ConfigRoot, 0o755); err != nil {
		return &FileSystemError{Op: "create dir", Path: p.ConfigRoot, Err: err}
	}
	if err := os.MkdirAll(p.BackupDir, 0o755); err != nil {
		return &FileSystemError{Op: "create dir", Path: p.BackupDir, Err: err}
	}
	if err := r.migrateLegacyLocation(p); err != nil {
		return err
	}
	return nil
}

// migrateLegacyLocation moves managed files from the pre-1.0 ~/.taskdeck
// directory into the resolved root, if they exist there and not yet here.
func (r Resolver) migrateLegacyLocation(p Paths) error {
	home, err := r.home()
	if err != nil {
		return nil
	}
	legacyRoot := filepath.Join(home, "."+unixDirName)
	if legacyRoot == p.ConfigRoot {
		return nil
	}
	info, err := os.Stat(legacyRoot)
	if err != nil || !info.IsDir() {
		return nil
	}

	names := []string{settingsFileName, keybindingsFileName, legacyStorageFileName}
	for _, name := range names {
		src := filepath.Join(legacyRoot, name)
		dst := filepath.Join(p.ConfigRoot, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			// Never clobber a file in the new location.
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return &FileSystemError{Op: "migrate legacy file", Path: src, Err: err}
		}
	}
	return nil
}
