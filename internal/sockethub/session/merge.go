package session

// Merge returns existing with incoming merged into it. Where both sides hold
// an object at the same key the objects are merged recursively; any other
// incoming value replaces the existing one. Neither input is modified.
func Merge(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = deepCopy(v)
	}
	for k, v := range incoming {
		if in, ok := v.(map[string]any); ok {
			if ex, ok := out[k].(map[string]any); ok {
				out[k] = Merge(ex, in)
				continue
			}
		}
		out[k] = deepCopy(v)
	}
	return out
}

// deepCopy copies the object and array levels of a JSON value.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
