package settings

import (
	"errors"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/settings/codec"
	"github.com/taskdeck/taskdeck/internal/settings/paths"
)

// Errors returned by Manager operations.
var (
	// ErrNotReady indicates an operation that requires a Ready manager.
	ErrNotReady = errors.New("settings manager not ready")

	// ErrAlreadyInitialized indicates a second Initialize call.
	ErrAlreadyInitialized = errors.New("settings manager already initialized")

	// ErrPermanentFailure indicates the manager failed initialization and
	// refuses further work; a process restart is required.
	ErrPermanentFailure = errors.New("settings manager permanently failed")

	// ErrNotFixable indicates the last reload error carries no
	// allow-listed diagnosis, so no automatic repair is offered.
	ErrNotFixable = errors.New("file error is not auto-fixable")

	// ErrDisposed indicates use after Dispose.
	ErrDisposed = errors.New("settings manager disposed")
)

// ParseError reports malformed file content with its position and a
// diagnosis usable by the auto-fix pass.
type ParseError = codec.ParseError

// FileSystemError reports a path or IO failure with the failed path.
type FileSystemError = paths.FileSystemError

// ValidationError reports structurally valid but semantically wrong input
// to an explicit API call.
type ValidationError struct {
	// Field names the offending field.
	Field string
	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
