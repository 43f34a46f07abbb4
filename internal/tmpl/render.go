package tmpl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var converter = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ParamError describes a single rejected parameter.
type ParamError struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Resolve validates input against the schema and returns the effective
// parameter set with defaults applied. Unknown names, missing required
// values, wrong types, and out-of-range ints are all collected rather than
// failing on the first problem.
func Resolve(specs []ParamSpec, input map[string]any) (map[string]any, []ParamError) {
	known := make(map[string]ParamSpec, len(specs))
	for _, spec := range specs {
		known[spec.Name] = spec
	}

	var problems []ParamError
	for name := range input {
		if _, ok := known[name]; !ok {
			problems = append(problems, ParamError{Name: name, Reason: "unknown parameter"})
		}
	}

	resolved := make(map[string]any, len(specs))
	for _, spec := range specs {
		value, present := input[spec.Name]
		if !present || value == nil {
			if spec.Required {
				problems = append(problems, ParamError{Name: spec.Name, Reason: "required parameter missing"})
				continue
			}
			if spec.Default != nil {
				resolved[spec.Name] = normalizeDefault(spec, spec.Default)
			}
			continue
		}

		coerced, reason := coerce(spec, value)
		if reason != "" {
			problems = append(problems, ParamError{Name: spec.Name, Reason: reason})
			continue
		}
		resolved[spec.Name] = coerced
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return resolved, nil
}

func normalizeDefault(spec ParamSpec, value any) any {
	coerced, reason := coerce(spec, value)
	if reason != "" {
		return value
	}
	return coerced
}

func coerce(spec ParamSpec, value any) (any, string) {
	switch spec.Type {
	case TypeString:
		text, ok := value.(string)
		if !ok {
			return nil, "must be a string"
		}
		if spec.Required && strings.TrimSpace(text) == "" {
			return nil, "required parameter missing"
		}
		return text, ""
	case TypeInt:
		number, reason := toInt(value)
		if reason != "" {
			return nil, reason
		}
		if spec.Min != nil && number < *spec.Min {
			return nil, fmt.Sprintf("must be at least %d", *spec.Min)
		}
		if spec.Max != nil && number > *spec.Max {
			return nil, fmt.Sprintf("must be at most %d", *spec.Max)
		}
		return number, ""
	case TypeStringList:
		switch typed := value.(type) {
		case []string:
			return typed, ""
		case []any:
			items := make([]string, 0, len(typed))
			for _, entry := range typed {
				text, ok := entry.(string)
				if !ok {
					return nil, "must be a list of strings"
				}
				items = append(items, text)
			}
			return items, ""
		default:
			return nil, "must be a list of strings"
		}
	default:
		return value, ""
	}
}

func toInt(value any) (int, string) {
	switch typed := value.(type) {
	case int:
		return typed, ""
	case float64:
		if typed != math.Trunc(typed) {
			return 0, "must be an integer"
		}
		return int(typed), ""
	case json.Number:
		parsed, err := strconv.Atoi(string(typed))
		if err != nil {
			return 0, "must be an integer"
		}
		return parsed, ""
	default:
		return 0, "must be an integer"
	}
}

// Rendered is the output of expanding a template body with parameters.
type Rendered struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// Render substitutes {{name}} placeholders in the Markdown body and converts
// the result to HTML.
func Render(title, body string, params map[string]any) (Rendered, error) {
	markdown := body
	for name, value := range params {
		markdown = strings.ReplaceAll(markdown, "{{"+name+"}}", formatValue(value))
	}

	var buf bytes.Buffer
	if err := converter.Convert([]byte(markdown), &buf); err != nil {
		return Rendered{}, fmt.Errorf("convert markdown: %w", err)
	}
	return Rendered{Title: title, Markdown: markdown, HTML: buf.String()}, nil
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case int:
		return strconv.Itoa(typed)
	case float64:
		return strconv.Itoa(int(typed))
	case []string:
		return strings.Join(typed, ", ")
	case []any:
		items := make([]string, 0, len(typed))
		for _, entry := range typed {
			items = append(items, fmt.Sprint(entry))
		}
		return strings.Join(items, ", ")
	default:
		return fmt.Sprint(typed)
	}
}
