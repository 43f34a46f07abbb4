// Package framework serves the static control catalogs for the supported
// security frameworks. Catalog data is embedded at build time.
package framework

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed data/*.json
var dataFS embed.FS

var catalogFiles = []string{
	"data/cis_v8.json",
	"data/nist_csf.json",
	"data/nist_csf_2_0.json",
}

type Control struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Function    string `json:"function,omitempty"`
	Description string `json:"description,omitempty"`
	Family      string `json:"family,omitempty"`
	Category    string `json:"category,omitempty"`
}

type Framework struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Publisher   string    `json:"publisher"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Controls    []Control `json:"controls"`
}

type Meta struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Version   string `json:"version"`
	Publisher string `json:"publisher"`
	Count     int    `json:"count"`
}

// CategoryGroup is one drawer entry for the CSF 2.0 catalog: the
// subcategories that share a category, keyed by function family.
type CategoryGroup struct {
	Family   string    `json:"family"`
	Category string    `json:"category"`
	Controls []Control `json:"controls"`
}

type Registry struct {
	order      []string
	frameworks map[string]Framework
	controls   map[string]map[string]struct{}
}

// NewRegistry parses the embedded catalog files. It fails only when an
// embedded file is malformed, which is a build defect rather than a runtime
// condition.
func NewRegistry() (*Registry, error) {
	reg := &Registry{
		frameworks: make(map[string]Framework),
		controls:   make(map[string]map[string]struct{}),
	}
	for _, file := range catalogFiles {
		raw, err := dataFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", file, err)
		}
		var fw Framework
		if err := json.Unmarshal(raw, &fw); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", file, err)
		}
		if fw.Key == "" || len(fw.Controls) == 0 {
			return nil, fmt.Errorf("catalog %s has no key or controls", file)
		}
		reg.order = append(reg.order, fw.Key)
		reg.frameworks[fw.Key] = fw

		ids := make(map[string]struct{}, len(fw.Controls))
		for _, control := range fw.Controls {
			ids[control.ID] = struct{}{}
		}
		reg.controls[fw.Key] = ids
	}
	return reg, nil
}

// List returns catalog metadata in load order.
func (r *Registry) List() []Meta {
	out := make([]Meta, 0, len(r.order))
	for _, key := range r.order {
		fw := r.frameworks[key]
		out = append(out, Meta{
			Key:       fw.Key,
			Name:      fw.Name,
			Version:   fw.Version,
			Publisher: fw.Publisher,
			Count:     len(fw.Controls),
		})
	}
	return out
}

// Get returns one framework with its controls filtered by the optional
// function and free-text query. Filtering never mutates the catalog.
func (r *Registry) Get(key, query, function string) (Framework, bool) {
	fw, ok := r.frameworks[key]
	if !ok {
		return Framework{}, false
	}

	controls := fw.Controls
	if function != "" {
		filtered := make([]Control, 0, len(controls))
		for _, control := range controls {
			fn := control.Function
			if fn == "" {
				fn = control.Family
			}
			if strings.EqualFold(fn, function) {
				filtered = append(filtered, control)
			}
		}
		controls = filtered
	}
	if qs := strings.ToLower(strings.TrimSpace(query)); qs != "" {
		filtered := make([]Control, 0, len(controls))
		for _, control := range controls {
			if strings.Contains(strings.ToLower(control.ID), qs) || strings.Contains(strings.ToLower(control.Title), qs) {
				filtered = append(filtered, control)
			}
		}
		controls = filtered
	}

	fw.Controls = controls
	return fw, true
}

// HasControl reports whether a control id belongs to the framework.
func (r *Registry) HasControl(key, controlID string) bool {
	ids, ok := r.controls[key]
	if !ok {
		return false
	}
	_, ok = ids[controlID]
	return ok
}

// Keys returns the known framework keys in load order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Categories groups a framework's controls by function family and category.
// Only catalogs that carry category data (CSF 2.0) produce groups.
func (r *Registry) Categories(key string) ([]CategoryGroup, bool) {
	fw, ok := r.frameworks[key]
	if !ok {
		return nil, false
	}

	groups := make([]CategoryGroup, 0)
	index := make(map[string]int)
	for _, control := range fw.Controls {
		if control.Category == "" {
			continue
		}
		groupKey := control.Family + "\x00" + control.Category
		at, seen := index[groupKey]
		if !seen {
			index[groupKey] = len(groups)
			groups = append(groups, CategoryGroup{Family: control.Family, Category: control.Category})
			at = len(groups) - 1
		}
		groups[at].Controls = append(groups[at].Controls, control)
	}
	return groups, true
}

// CSV renders a framework's controls as a small CSV export and returns the
// suggested download filename.
func (r *Registry) CSV(key string) ([]byte, string, bool) {
	fw, ok := r.frameworks[key]
	if !ok {
		return nil, "", false
	}

	var buf bytes.Buffer
	buf.WriteString("id,title,function\n")
	for i, control := range fw.Controls {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fn := control.Function
		if fn == "" {
			fn = control.Family
		}
		title := strings.ReplaceAll(control.Title, `"`, `""`)
		fmt.Fprintf(&buf, `%s,"%s",%s`, control.ID, title, fn)
	}
	return buf.Bytes(), fmt.Sprintf("%s_controls.csv", key), true
}
