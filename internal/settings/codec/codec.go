// Package codec parses and serializes the two managed configuration files.
//
// Parsing is delegated to the TOML library; serialization is deliberately
// not. The settings file is rewritten incrementally so that comments, blank
// lines, and section order survive every managed write, and the keybindings
// file is regenerated wholesale with entries grouped by command namespace.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Diagnosis classifies a parse failure. Only a subset of diagnoses is
// eligible for automatic repair; see CanAutoFix.
type Diagnosis string

const (
	// DiagInvalidEscape indicates an invalid backslash escape inside a
	// basic string, typically a pasted Windows path.
	DiagInvalidEscape Diagnosis = "invalid_escape"

	// DiagUnterminatedString indicates a string literal that never closes.
	DiagUnterminatedString Diagnosis = "unterminated_string"

	// DiagGeneric covers every other parse failure.
	DiagGeneric Diagnosis = "generic"
)

// ParseError describes a failure to parse a managed file.
type ParseError struct {
	// Path is the file that failed to parse. Empty for in-memory parses.
	Path string
	// Line is the 1-based line of the failure, 0 if unknown.
	Line int
	// Column is the 1-based column of the failure, 0 if unknown.
	Column int
	// Diagnosis classifies the failure for the auto-fix allow-list.
	Diagnosis Diagnosis
	// Err is the underlying decoder error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %v", e.pathOrDoc(), e.Line, e.Column, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %v", e.pathOrDoc(), e.Line, e.Err)
	}
	return fmt.Sprintf("parse error in %s: %v", e.pathOrDoc(), e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) pathOrDoc() string {
	if e.Path == "" {
		return "<document>"
	}
	return e.Path
}

// Parse decodes TOML text into a nested map. On failure the returned error
// is a *ParseError carrying line/column position and a diagnosis.
func Parse(text []byte) (map[string]any, error) {
	return ParseFile("", text)
}

// ParseFile is Parse with the originating path recorded on any error.
func ParseFile(path string, text []byte) (map[string]any, error) {
	var data map[string]any
	if err := toml.Unmarshal(text, &data); err != nil {
		pe := &ParseError{
			Path:      path,
			Diagnosis: diagnose(err),
			Err:       err,
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	if data == nil {
		data = make(map[string]any)
	}
	return data, nil
}

// diagnose maps a decoder error onto the diagnosis taxonomy.
func diagnose(err error) Diagnosis {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "escape"):
		return DiagInvalidEscape
	case strings.Contains(msg, "unterminated"), strings.Contains(msg, "incomplete string"):
		return DiagUnterminatedString
	default:
		return DiagGeneric
	}
}

// CanAutoFix reports whether a diagnosis is on the auto-fix allow-list.
// Repairs are never attempted for generic failures.
func CanAutoFix(d Diagnosis) bool {
	switch d {
	case DiagInvalidEscape, DiagUnterminatedString:
		return true
	default:
		return false
	}
}
