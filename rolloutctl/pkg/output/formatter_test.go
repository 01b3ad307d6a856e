package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type rows [][]string

func (r rows) Header() []string { return []string{"ID", "STATUS"} }
func (r rows) Rows() [][]string { return r }

type record struct {
	ID        string            `json:"id"`
	Version   string            `json:"version"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func TestTableFormatter_Tabular(t *testing.T) {
	out := NewFormatter("table").Format(rows{{"ro-1", "RUNNING"}, {"ro-2", "READY"}})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "RUNNING")
}

func TestTableFormatter_Empty(t *testing.T) {
	assert.Equal(t, "No resources found.\n", NewFormatter("").Format(rows{}))
	assert.Equal(t, "No resources found.\n", NewFormatter("table").Format([]string{}))
}

func TestTableFormatter_Struct(t *testing.T) {
	out := NewFormatter("table").Format(&record{ID: "ds-1", Labels: map[string]string{"b": "2", "a": "1"}})
	assert.Contains(t, out, "ds-1")
	assert.Contains(t, out, "a=1,b=2")
	assert.Contains(t, out, "Version:")
}

func TestJSONFormatter(t *testing.T) {
	out := NewFormatter("json").Format(record{ID: "ds-1"})
	assert.Contains(t, out, `"id": "ds-1"`)
}

func TestYAMLFormatter_UsesJSONNames(t *testing.T) {
	out := NewFormatter("YAML").Format(record{ID: "ds-1", Version: "1.0", Labels: map[string]string{"hw": "v2"}})
	assert.Contains(t, out, "id: ds-1")
	assert.Contains(t, out, "version: \"1.0\"")
	assert.Contains(t, out, "labels:\n    hw: v2")
	assert.NotContains(t, out, "{")
}

func TestCell(t *testing.T) {
	var nilTime *time.Time
	assert.Equal(t, "-", Cell(nilTime))
	assert.Equal(t, "-", Cell(""))
	assert.Equal(t, "-", Cell(time.Time{}))
	assert.Equal(t, "2026-01-01 12:00:00", Cell(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "42", Cell(42))
}
