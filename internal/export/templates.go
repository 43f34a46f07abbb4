package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

var documentTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}
	documentTemplate = template.Must(template.New("document").Funcs(funcMap).Parse(pageTemplate))
}

// TemplateData holds data for the export page template.
type TemplateData struct {
	Title       string
	TemplateKey string
	Version     int
	Owner       string
	CreatedAt   time.Time
	ContentHTML template.HTML
	Approvals   []ApprovalEntry
	Comments    []CommentEntry
}

// RenderDocumentHTML renders the export page with provided data.
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .entry { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .entry .who { font-weight: bold; }
    .status { text-transform: uppercase; font-size: 0.8em; letter-spacing: 0.05em; }
  </style>
</head>
<body>
  <div class="meta">{{.TemplateKey}} | v{{.Version}}{{if .Owner}} | {{.Owner}}{{end}} | {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
  {{if .Approvals}}
  <h2>Approvals</h2>
  {{range .Approvals}}<div class="entry"><span class="who">{{.Reviewer}}</span> <span class="status">{{.Status}}</span>{{if .Note}}<p>{{.Note}}</p>{{end}}</div>{{end}}
  {{end}}
  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}<div class="entry"><span class="who">{{.Author}}</span> on {{formatDate .CreatedAt "Jan 2, 2006"}}<p>{{.Body}}</p></div>{{end}}
  {{end}}
</body>
</html>`
