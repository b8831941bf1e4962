// Package items loads item collections from YAML or JSON files.
//
// A file holds either a list of items or a mapping with an "items" list.
// Every item is a mapping with an identifier field; all other keys become the
// item's fields. Nested mappings are kept and addressable through dot paths.
package items

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"gopkg.in/yaml.v3"

	"github.com/s0up4200/smartfolder/rule"
)

// DefaultIDField is the field holding an item's identifier
const DefaultIDField = "id"

// Options controls decoding
type Options struct {
	// IDField names the identifier field. Empty means DefaultIDField.
	IDField string
	// DateFields are dot paths whose string values are parsed into time.Time.
	DateFields []string
	// Location is used for dates without a zone. Nil means UTC.
	Location *time.Location
}

// LoadError describes why an item file could not be loaded
type LoadError struct {
	Path   string
	Index  int // -1 when the error is not tied to one item
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	where := e.Path
	if where == "" {
		where = "items"
	}
	if e.Index >= 0 {
		where = fmt.Sprintf("%s: item %d", where, e.Index)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", where, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", where, e.Reason)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads items from a YAML or JSON file
func Load(path string, opts Options) ([]rule.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Index: -1, Reason: "failed to read file", Err: err}
	}

	items, err := Decode(bytes.NewReader(data), opts)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			loadErr.Path = path
		}
		return nil, err
	}

	return items, nil
}

// Decode reads items from r. JSON is accepted as a subset of YAML.
func Decode(r io.Reader, opts Options) ([]rule.Item, error) {
	if opts.IDField == "" {
		opts.IDField = DefaultIDField
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var doc any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []rule.Item{}, nil
		}
		return nil, &LoadError{Index: -1, Reason: "failed to parse", Err: err}
	}

	entries, err := entriesOf(doc)
	if err != nil {
		return nil, err
	}

	items := make([]rule.Item, 0, len(entries))
	seen := make(map[string]int, len(entries))

	for i, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, &LoadError{Index: i, Reason: fmt.Sprintf("expected a mapping, got %T", entry)}
		}

		id, err := identifier(fields, opts.IDField)
		if err != nil {
			return nil, &LoadError{Index: i, Reason: err.Error()}
		}
		if first, dup := seen[id]; dup {
			return nil, &LoadError{Index: i, Reason: fmt.Sprintf("duplicate id '%s' (first seen at item %d)", id, first)}
		}
		seen[id] = i

		for _, path := range opts.DateFields {
			if err := parseDateField(fields, path, opts.Location); err != nil {
				return nil, &LoadError{Index: i, Reason: fmt.Sprintf("invalid date in field '%s'", path), Err: err}
			}
		}

		delete(fields, opts.IDField)
		items = append(items, rule.Item{ID: id, Fields: fields})
	}

	return items, nil
}

func entriesOf(doc any) ([]any, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		list, ok := v["items"]
		if !ok {
			return nil, &LoadError{Index: -1, Reason: "mapping documents need an 'items' list"}
		}
		if list == nil {
			return nil, nil
		}
		entries, ok := list.([]any)
		if !ok {
			return nil, &LoadError{Index: -1, Reason: fmt.Sprintf("'items' must be a list, got %T", list)}
		}
		return entries, nil
	}
	return nil, &LoadError{Index: -1, Reason: fmt.Sprintf("expected a list of items, got %T", doc)}
}

func identifier(fields map[string]any, field string) (string, error) {
	raw, ok := fields[field]
	if !ok || raw == nil {
		return "", fmt.Errorf("missing '%s'", field)
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("empty '%s'", field)
		}
		return v, nil
	case int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("'%s' must be a string or number, got %T", field, raw)
}

// parseDateField replaces the string at path with its parsed time. Missing
// paths and values that are already times are left alone.
func parseDateField(fields map[string]any, path string, loc *time.Location) error {
	parts := strings.Split(path, ".")
	parent := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := parent[part].(map[string]any)
		if !ok {
			return nil
		}
		parent = next
	}

	leaf := parts[len(parts)-1]
	s, ok := parent[leaf].(string)
	if !ok {
		return nil
	}

	t, err := dateparse.ParseIn(strings.TrimSpace(s), loc)
	if err != nil {
		return err
	}
	parent[leaf] = t
	return nil
}
