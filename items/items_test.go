package items

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/smartfolder/rule"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "tasks.yaml", `
items:
  - id: t1
    title: Quarterly report
    status: open
    priority: 3
    due: 2024-03-01
    owner:
      name: Ada
  - id: 42
    title: Buy milk
    status: closed
    done: true
`)

	items, err := Load(path, Options{DateFields: []string{"due"}})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, []string{"t1", "42"}, rule.IDs(items))
	assert.NotContains(t, items[0].Fields, "id")

	due, ok := items[0].Lookup("due")
	require.True(t, ok)
	ts, ok := due.AsTime()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), ts)

	owner, ok := items[0].Lookup("owner.name")
	require.True(t, ok)
	assert.Equal(t, "Ada", owner.Text())

	priority, ok := items[0].Lookup("priority")
	require.True(t, ok)
	n, ok := priority.AsNumber()
	require.True(t, ok)
	assert.Equal(t, 3.0, n)

	done, ok := items[1].Lookup("done")
	require.True(t, ok)
	b, ok := done.AsBool()
	require.True(t, ok)
	assert.True(t, b)
}

func TestLoadJSONList(t *testing.T) {
	path := writeFile(t, "notes.json", `[
  {"key": "n1", "title": "Draft", "meta": {"created": "2024-01-15T10:30:00Z"}},
  {"key": "n2", "title": "Final"}
]`)

	items, err := Load(path, Options{IDField: "key", DateFields: []string{"meta.created"}})
	require.NoError(t, err)
	require.Len(t, items, 2)

	created, ok := items[0].Lookup("meta.created")
	require.True(t, ok)
	assert.Equal(t, rule.KindTime, created.Kind())

	_, ok = items[1].Lookup("meta.created")
	assert.False(t, ok)
}

func TestDecodeEmpty(t *testing.T) {
	items, err := Decode(strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = Decode(strings.NewReader("items: []"), Options{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		opts      Options
		wantIndex int
		reason    string
	}{
		{
			name:      "malformed",
			input:     "items: [",
			wantIndex: -1,
			reason:    "failed to parse",
		},
		{
			name:      "scalar document",
			input:     "hello",
			wantIndex: -1,
			reason:    "expected a list of items",
		},
		{
			name:      "mapping without items",
			input:     "tasks: []",
			wantIndex: -1,
			reason:    "'items' list",
		},
		{
			name:      "entry is not a mapping",
			input:     "- id: a\n- just text\n",
			wantIndex: 1,
			reason:    "expected a mapping",
		},
		{
			name:      "missing id",
			input:     "- id: a\n- title: b\n",
			wantIndex: 1,
			reason:    "missing 'id'",
		},
		{
			name:      "duplicate id",
			input:     "- id: a\n- id: b\n- id: a\n",
			wantIndex: 2,
			reason:    "duplicate id 'a'",
		},
		{
			name:      "bad date",
			input:     "- id: a\n  due: not a date at all\n",
			opts:      Options{DateFields: []string{"due"}},
			wantIndex: 0,
			reason:    "invalid date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), tt.opts)
			require.Error(t, err)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, tt.wantIndex, loadErr.Index)
			assert.Contains(t, loadErr.Error(), tt.reason)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Load(path, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, path, loadErr.Path)
}

func TestLoadErrorCarriesPath(t *testing.T) {
	path := writeFile(t, "bad.yaml", "- title: no id\n")

	_, err := Load(path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), "item 0")
}
