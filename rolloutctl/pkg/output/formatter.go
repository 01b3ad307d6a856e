package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Formatter defines the interface for output formatting.
type Formatter interface {
	Format(data any) string
}

// Tabular is implemented by values that know their own table layout.
// JSON and YAML output ignore it and render the value itself.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// NewFormatter returns a Formatter for the given format string.
// Supported formats: "table" (default), "json", "yaml".
func NewFormatter(format string) Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{}
	case "yaml":
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}

// TableFormatter formats data as aligned text tables using tabwriter.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	if t, ok := data.(Tabular); ok {
		rows := t.Rows()
		if len(rows) == 0 {
			return "No resources found.\n"
		}
		fmt.Fprintln(w, strings.Join(t.Header(), "\t"))
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		w.Flush()
		return buf.String()
	}

	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Slice:
		if v.Len() == 0 {
			return "No resources found.\n"
		}
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, v.Index(i).Interface())
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", t.Field(i).Name, Cell(v.Field(i).Interface()))
		}
	default:
		fmt.Fprintln(w, data)
	}

	w.Flush()
	return buf.String()
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("error formatting JSON: %v\n", err)
	}
	return string(b) + "\n"
}

// YAMLFormatter formats data as YAML. Values are encoded through their JSON
// form so field names match the API.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) string {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(j, &node); err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	blockStyle(&node)
	b, err := yaml.Marshal(&node)
	if err != nil {
		return fmt.Sprintf("error formatting YAML: %v\n", err)
	}
	return string(b)
}

// blockStyle drops the flow and quoting styles the JSON source implies.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// Cell renders a single table value. Nil pointers and empty values print
// as "-".
func Cell(v any) string {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return "-"
	}
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "-"
		}
		rv = rv.Elem()
	}
	if t, ok := rv.Interface().(time.Time); ok {
		if t.IsZero() {
			return "-"
		}
		return t.Format(time.DateTime)
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Len() == 0 {
			return "-"
		}
		keys := rv.MapKeys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%v=%v", k.Interface(), rv.MapIndex(k).Interface()))
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	case reflect.Slice:
		if rv.Len() == 0 {
			return "-"
		}
	case reflect.String:
		if rv.Len() == 0 {
			return "-"
		}
	}
	return fmt.Sprintf("%v", rv.Interface())
}
