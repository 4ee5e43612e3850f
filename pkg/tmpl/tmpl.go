// Package tmpl renders user-supplied output templates for notifications and
// positions.
package tmpl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"clock": clock,
	"coord": coord,
	"upper": strings.ToUpper,
	"json":  toJSON,
}

// clock formats t as a wall-clock time, or "-" when t is zero.
func clock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}

// coord formats a latitude or longitude with five decimals (about one meter).
func coord(v float64) string {
	return fmt.Sprintf("%.5f", v)
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Template is a parsed output template. A Template is safe for concurrent use.
type Template struct {
	t *template.Template
}

// Parse compiles text. References to undefined keys fail at render time.
//
// Available template functions:
//   - clock: format a time.Time as HH:MM:SS
//   - coord: format a coordinate with five decimals
//   - upper: upper-case a string
//   - json:  encode a value as JSON
func Parse(text string) (*Template, error) {
	t, err := template.New("").Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Template{t: t}, nil
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// Render parses and executes tmpl with the given data in one step.
func Render(tmpl string, data any) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return t.Render(data)
}
