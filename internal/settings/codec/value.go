package codec

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// formatStrategy attempts to render a value as a TOML literal. It reports
// false when the value is outside its competence so the next strategy runs.
type formatStrategy func(v any) (string, bool)

// formatStrategies is the ordered fallback chain for value emission:
// typed literal first, then inline structured serialization, then quoted
// string coercion. The order is part of the file format contract and is
// covered by tests.
var formatStrategies = []formatStrategy{
	formatScalar,
	formatInline,
	formatCoerced,
}

// FormatValue renders a value as a single-line TOML literal using the
// strategy chain. It never fails; the final strategy accepts anything.
func FormatValue(v any) string {
	for _, f := range formatStrategies {
		if s, ok := f(v); ok {
			return s
		}
	}
	// Unreachable: formatCoerced always succeeds.
	return quoteString(fmt.Sprintf("%v", v))
}

// formatScalar emits strings, booleans, integers, floats, and big integers.
// Big integers are converted to decimal text because the TOML integer type
// cannot carry them.
func formatScalar(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if strings.ContainsAny(val, "\n\r") {
			return tripleQuoteString(val), true
		}
		return quoteString(val), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.FormatInt(int64(val), 10), true
	case int8, int16, int32:
		return fmt.Sprintf("%d", val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), true
	case float32:
		return formatFloat(float64(val)), true
	case float64:
		return formatFloat(val), true
	case *big.Int:
		if val == nil {
			return "", false
		}
		return val.String(), true
	case big.Int:
		return val.String(), true
	default:
		return "", false
	}
}

// formatInline emits arrays and inline tables recursively. Map keys are
// sorted so output is deterministic.
func formatInline(v any) (string, bool) {
	switch val := v.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := formatScalar(item)
			if !ok {
				s, ok = formatInline(item)
			}
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", true
	case []string:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, quoteString(item))
		}
		return "[" + strings.Join(parts, ", ") + "]", true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			s, ok := formatScalar(val[k])
			if !ok {
				s, ok = formatInline(val[k])
			}
			if !ok {
				return "", false
			}
			parts = append(parts, formatKey(k)+" = "+s)
		}
		return "{" + strings.Join(parts, ", ") + "}", true
	default:
		return "", false
	}
}

// formatCoerced quotes the value's default string rendering. Last resort.
func formatCoerced(v any) (string, bool) {
	return quoteString(fmt.Sprintf("%v", v)), true
}

// quoteString renders a TOML basic string with backslash and quote escaping.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				b.WriteString(fmt.Sprintf(`\u%04X`, r))
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// tripleQuoteString renders a multi-line basic string.
func tripleQuoteString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"""`, `\"\"\"`)
	return `"""` + "\n" + escaped + `"""`
}

// formatKey renders a table key, quoting it when it is not a bare key.
func formatKey(k string) string {
	if isBareKey(k) {
		return k
	}
	return quoteString(k)
}

func isBareKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// formatFloat renders a float as a valid TOML float literal. TOML requires
// a fractional part or exponent, so integral values gain a trailing ".0".
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "inf") && !strings.Contains(s, "nan") {
		s += ".0"
	}
	return s
}
