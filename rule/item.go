package rule

import "strings"

// Item is an identifiable record with arbitrary, possibly nested fields.
type Item struct {
	ID     string
	Fields map[string]any
}

// Lookup resolves a dot-separated path. The second return value is false
// when any segment is missing or crosses a non-map value.
func (it Item) Lookup(path string) (Value, bool) {
	raw, ok := Resolve(it.Fields, path)
	if !ok {
		if path == "id" {
			return String(it.ID), true
		}
		return Absent(), false
	}
	v := FromAny(raw)
	if v.IsAbsent() {
		return v, false
	}
	return v, true
}

// Resolve walks a dot-separated path through nested maps.
func Resolve(fields map[string]any, path string) (any, bool) {
	if fields == nil || path == "" {
		return nil, false
	}

	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		var (
			next any
			ok   bool
		)
		switch m := cur.(type) {
		case map[string]any:
			next, ok = m[seg]
		case map[any]any:
			next, ok = m[seg]
		default:
			return nil, false
		}
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// IDs returns the item IDs in order.
func IDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
