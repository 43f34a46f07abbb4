package export

import (
	"html/template"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	decided := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	data := TemplateData{
		Title:       "Access Control Policy",
		TemplateKey: "access_control_policy",
		Version:     2,
		Owner:       "owner@acme.test",
		CreatedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ContentHTML: template.HTML("<h1>Access Control Policy</h1><p>Passwords must be at least 16 characters long.</p>"),
		Approvals: []ApprovalEntry{
			{Reviewer: "alice", Status: "approved", Note: "LGTM", DecidedAt: &decided},
		},
		Comments: []CommentEntry{
			{Author: "bob@acme.test", Body: "Please bump the minimum length.", CreatedAt: decided},
		},
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	if !strings.Contains(html, "Access Control Policy") {
		t.Error("HTML missing title")
	}
	if !strings.Contains(html, "v2") {
		t.Error("HTML missing version")
	}
	if !strings.Contains(html, "Approvals") {
		t.Error("HTML missing approvals section")
	}
	if !strings.Contains(html, "alice") {
		t.Error("HTML missing reviewer")
	}
	if !strings.Contains(html, "Please bump the minimum length.") {
		t.Error("HTML missing comment body")
	}

	// Stored version HTML must pass through unescaped.
	if strings.Contains(html, "&lt;p&gt;") {
		t.Error("HTML content was escaped - should be rendered as raw HTML")
	}
	if !strings.Contains(html, "<p>Passwords must be at least 16 characters long.</p>") {
		t.Error("HTML content should contain unescaped <p> tags")
	}
}

func TestExportHTMLFormat(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(Document{
		ID:          "doc_1",
		Title:       "Data Retention Policy",
		TemplateKey: "data_retention_policy",
		Version:     1,
		HTML:        "<h1>Data Retention Policy</h1>",
		CreatedAt:   time.Now(),
	}, nil, nil, FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Data-Retention-Policy-v1.html" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
	if result.MimeType != "text/html; charset=utf-8" {
		t.Fatalf("unexpected mime type %q", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "<h1>Data Retention Policy</h1>") {
		t.Fatal("missing content in HTML export")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService()
	if _, err := svc.Export(Document{Title: "Doc"}, nil, nil, Format("xlsx")); err == nil {
		t.Fatal("expected unsupported format error")
	}
}
