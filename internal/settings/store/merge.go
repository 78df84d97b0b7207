package store

import "strings"

// MergeWithDefaults overlays loaded values onto a complete default
// structure. Maps merge recursively; arrays replace wholesale; a loaded
// value whose broad type disagrees with the default's is discarded in favor
// of the default. The result always contains every leaf the defaults
// contain, and keeps unknown keys the loaded document carries so they
// round-trip untouched.
func MergeWithDefaults(loaded, defaults map[string]any) map[string]any {
	result := CloneMap(defaults)
	if loaded == nil {
		return result
	}

	for key, lv := range loaded {
		dv, exists := result[key]
		if !exists {
			result[key] = cloneValue(lv)
			continue
		}

		lm, lIsMap := lv.(map[string]any)
		dm, dIsMap := dv.(map[string]any)
		switch {
		case lIsMap && dIsMap:
			result[key] = MergeWithDefaults(lm, dm)
		case lIsMap != dIsMap:
			// Shape mismatch: keep the default.
		case compatible(dv, lv):
			result[key] = cloneValue(lv)
		}
	}

	return result
}

// compatible reports whether a loaded scalar/array may replace the default.
// Integers and floats are interchangeable; everything else must match kind.
func compatible(def, loaded any) bool {
	if def == nil {
		return true
	}
	switch def.(type) {
	case bool:
		_, ok := loaded.(bool)
		return ok
	case string:
		_, ok := loaded.(string)
		return ok
	case int, int64, float64, float32:
		switch loaded.(type) {
		case int, int64, float64, float32:
			return true
		}
		return false
	case []any:
		_, ok := loaded.([]any)
		return ok
	default:
		return true
	}
}

// Equal compares two documents. Integer and float renderings of the same
// number compare equal, matching the decoder's loose numeric typing.
func Equal(a, b map[string]any) bool {
	return valuesEqual(a, b)
}

func valuesEqual(a, b any) bool {
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
			if !ok || !valuesEqual(v, w) {
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
			if !valuesEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	}

	if na, ok := numeric(a); ok {
		nb, ok := numeric(b)
		return ok && na == nb
	}

	return a == b
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// CloneMap creates a deep copy of a nested document.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return make(map[string]any)
	}
	dst := make(map[string]any, len(src))
	for key, val := range src {
		dst[key] = cloneValue(val)
	}
	return dst
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return CloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// Lookup retrieves a value from a nested document by dot-separated path.
func Lookup(doc map[string]any, path string) (any, bool) {
	current := any(doc)
	for _, part := range strings.Split(path, ".") {
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

// SetPath sets a value in a nested document by dot-separated path, creating
// intermediate maps as needed.
func SetPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
