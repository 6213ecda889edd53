package memory

// deepMerge returns base with update applied: nested objects merge
// recursively, lists union without duplicates in first-seen order, and any
// other value in update replaces the one in base. Neither input is modified.
func deepMerge(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, uv := range update {
		bv, exists := out[k]
		if !exists {
			out[k] = uv
			continue
		}
		switch u := uv.(type) {
		case map[string]any:
			if b, ok := bv.(map[string]any); ok {
				out[k] = deepMerge(b, u)
				continue
			}
		case []any:
			if b, ok := bv.([]any); ok {
				out[k] = unionLists(b, u)
				continue
			}
		}
		out[k] = uv
	}
	return out
}

// unionLists appends the elements of b missing from a. Elements are compared
// by their JSON form so objects and lists dedupe too.
func unionLists(a, b []any) []any {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [][]any{a, b} {
		for _, item := range list {
			key, err := encodeJSON(item)
			if err != nil {
				out = append(out, item)
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
