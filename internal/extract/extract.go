// Package extract converts uploaded document bytes into plain text.
// Supported formats are PDF (via github.com/ledongthuc/pdf) and UTF-8
// plain-text containers (.txt, .md, .markdown). The format is chosen by
// filename extension; anything else is rejected with ErrUnsupportedFormat
// before a single byte is parsed.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedFormat is returned for file extensions this package cannot
// extract text from. Match with errors.Is.
var ErrUnsupportedFormat = errors.New("extract: unsupported document format")

// Text extracts plain text from the named document's raw bytes.
func Text(name string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return pdfText(name, data)
	case ".txt", ".md", ".markdown":
		return string(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// pdfText parses data as a PDF and concatenates the plain text of all pages.
func pdfText(name string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open pdf %s: %w", name, err)
	}

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract: read pdf text %s: %w", name, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("extract: buffer pdf text %s: %w", name, err)
	}
	return buf.String(), nil
}
