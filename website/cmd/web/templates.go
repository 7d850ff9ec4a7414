package main

import (
	"html/template"
	"io/fs"
	"path/filepath"
	"strconv"
	"time"

	"furitingoasis/wiredin/internal/bridge"
	"furitingoasis/wiredin/website/ui"
)

type templateData struct {
	CurrentTime     time.Time
	Form            any
	Flash           string
	IsAuthenticated bool
	CSRFToken       string
	Snapshot        *bridge.Snapshot
}

// fieldData feeds the "threshold" and "switch" partials.
type fieldData struct {
	Name  string
	Label string
	Value string
	Error string
}

func humanDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("02 Jan 2006 at 15:04")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func reading(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + " " + unit
}

// field takes err as any because a missing FieldErrors key reaches the
// template as an invalid value.
func field(name, label, value string, err any) fieldData {
	msg, _ := err.(string)
	return fieldData{Name: name, Label: label, Value: value, Error: msg}
}

var functions = template.FuncMap{
	"humanDate": humanDate,
	"onOff":     onOff,
	"reading":   reading,
	"field":     field,
}

func newTemplateCache() (map[string]*template.Template, error) {
	cache := map[string]*template.Template{}

	pages, err := fs.Glob(ui.Files, "html/pages/*.html")
	if err != nil {
		return nil, err
	}

	for _, page := range pages {
		name := filepath.Base(page)

		patterns := []string{
			"html/base.html",
			"html/partials/*.html",
			page,
		}

		ts, err := template.New(name).Funcs(functions).ParseFS(ui.Files, patterns...)
		if err != nil {
			return nil, err
		}
		cache[name] = ts
	}
	return cache, nil
}
