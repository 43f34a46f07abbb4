package export

import (
	"fmt"
	"html/template"
)

// Service renders export output from an assembled version snapshot. The
// caller loads the document, approvals, and comments; nothing here touches
// the database.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export generates an export of one policy version in the requested format.
func (s *Service) Export(doc Document, approvals []ApprovalEntry, comments []CommentEntry, format Format) (*Result, error) {
	data := TemplateData{
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Version:     doc.Version,
		Owner:       doc.OwnerEmail,
		CreatedAt:   doc.CreatedAt,
		ContentHTML: template.HTML(doc.HTML),
		Approvals:   approvals,
		Comments:    comments,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: fmt.Sprintf("%s-v%d.html", sanitizeFilename(doc.Title), doc.Version),
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, fmt.Sprintf("%s-v%d", doc.Title, doc.Version))
	case FormatDOCX:
		return exportDOCX(html, fmt.Sprintf("%s-v%d", doc.Title, doc.Version))
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
