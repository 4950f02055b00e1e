// Package file turns uploaded files into raw documents for the indexing
// pipeline. Plaintext, markdown, and PDF are supported; everything format
// specific ends here, the pipeline itself only ever sees (title, content,
// sourceId, metadata) tuples.
package file

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/voxidesk/voxidesk/internal/index"
)

// ConnectorID identifies documents ingested through file upload.
const ConnectorID = "file"

const maxPDFPages = 100

// Extract converts an uploaded file into a raw document. The format is
// chosen by extension; unknown extensions are treated as plaintext.
func Extract(name string, data []byte) (index.RawDocument, error) {
	ext := strings.ToLower(filepath.Ext(name))

	var (
		title   string
		content string
		err     error
	)
	switch ext {
	case ".pdf":
		content, err = extractPDF(data)
		if err != nil {
			return index.RawDocument{}, err
		}
		title = baseName(name)
	case ".md", ".markdown":
		content = string(data)
		title = markdownTitle(content)
		if title == "" {
			title = baseName(name)
		}
	default:
		content = string(data)
		title = baseName(name)
	}

	return index.RawDocument{
		SourceID: name,
		Title:    title,
		Content:  content,
		Metadata: map[string]string{
			"filename": name,
			"format":   format(ext),
		},
	}, nil
}

func format(ext string) string {
	switch ext {
	case ".pdf":
		return "pdf"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "text"
	}
}

func baseName(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// markdownTitle returns the first ATX heading, if any.
func markdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}

// extractPDF pulls plain text out of every readable page. Pages that fail
// extraction are skipped rather than failing the whole file.
func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}
	if total > maxPDFPages {
		return "", fmt.Errorf("PDF has %d pages, max is %d", total, maxPDFPages)
	}

	var sb strings.Builder
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no extractable text in PDF")
	}
	return sb.String(), nil
}
