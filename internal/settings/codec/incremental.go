package codec

import (
	"strings"
)

// lineKind classifies one line of a managed settings file.
type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineSection
	lineArraySection
	lineKeyValue
	lineOther
)

// classifyLine determines the kind of a single line.
func classifyLine(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return lineBlank
	case strings.HasPrefix(trimmed, "#"):
		return lineComment
	case strings.HasPrefix(trimmed, "[["):
		return lineArraySection
	case strings.HasPrefix(trimmed, "["):
		return lineSection
	case strings.Contains(line, "="):
		return lineKeyValue
	default:
		return lineOther
	}
}

// SerializeIncremental rewrites previous settings text against a new value,
// preserving structure. Blank lines, comments, and section headers copy
// verbatim; a `key = value` line is re-emitted only when the value at
// section.key differs between the old and new documents. Keys present in
// the new value but absent from the previous text are not appended; the
// in-memory default merge covers them.
//
// The function is pure: it touches no filesystem state and is deterministic
// for a given (previous, value) pair.
func SerializeIncremental(previous []byte, value map[string]any) []byte {
	oldDoc, err := Parse(previous)
	if err != nil {
		oldDoc = nil
	}

	lines := strings.Split(string(previous), "\n")
	out := make([]string, 0, len(lines))

	section := ""
	sectionLive := true

	for _, rawLine := range lines {
		line := strings.TrimSuffix(rawLine, "\r")

		switch classifyLine(line) {
		case lineSection:
			section = sectionName(line)
			sectionLive = true
			out = append(out, rawLine)

		case lineArraySection:
			// Array-of-tables never appears in the settings schema; keep
			// the text but stop patching until the next plain header.
			sectionLive = false
			out = append(out, rawLine)

		case lineKeyValue:
			if !sectionLive {
				out = append(out, rawLine)
				continue
			}
			eq := strings.Index(line, "=")
			key := parseKeyToken(line[:eq])
			if key == "" {
				out = append(out, rawLine)
				continue
			}
			path := key
			if section != "" {
				path = section + "." + key
			}
			newVal, ok := lookupPath(value, path)
			if !ok {
				out = append(out, rawLine)
				continue
			}
			if oldDoc != nil {
				if oldVal, found := lookupPath(oldDoc, path); found && tomlValuesEqual(oldVal, newVal) {
					out = append(out, rawLine)
					continue
				}
			}
			out = append(out, line[:eq+1]+" "+FormatValue(newVal))

		default:
			out = append(out, rawLine)
		}
	}

	return []byte(strings.Join(out, "\n"))
}

// sectionName extracts the dotted section name from a `[section]` line.
func sectionName(line string) string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "[")
	if idx := strings.Index(trimmed, "]"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// parseKeyToken extracts the key from the text left of the equals sign,
// stripping optional single or double quotes.
func parseKeyToken(s string) string {
	key := strings.TrimSpace(s)
	if len(key) >= 2 {
		if (key[0] == '"' && key[len(key)-1] == '"') || (key[0] == '\'' && key[len(key)-1] == '\'') {
			key = key[1 : len(key)-1]
		}
	}
	return key
}

// lookupPath retrieves a value from a nested map using a dot-separated path.
func lookupPath(doc map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	current := any(doc)
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// tomlValuesEqual compares decoded TOML values, treating integer and float
// representations of the same number as equal.
func tomlValuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch va := a.(type) {
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, v := range va {
			w, ok := vb[k]
			if !ok || !tomlValuesEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !tomlValuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	}

	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}

	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
