// Package parser converts uploaded files into plain text ready for
// chunking. Structure that matters for chunk boundaries (headings, page
// breaks, row groups) is preserved as blank-line separated blocks.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Document is the flattened text extracted from one file.
type Document struct {
	Title string
	Text  string
}

// Parser extracts text from one file format.
type Parser interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// baseTitle strips the directory and extension from a filename.
func baseTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// textBuilder accumulates non-empty blocks joined by blank lines.
type textBuilder struct {
	blocks []string
}

func (b *textBuilder) add(block string) {
	block = strings.TrimSpace(block)
	if block != "" {
		b.blocks = append(b.blocks, block)
	}
}

func (b *textBuilder) String() string {
	return strings.Join(b.blocks, "\n\n")
}
