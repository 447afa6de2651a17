// SPDX-License-Identifier: MIT

// Package extract converts uploaded documents (pdf, txt, csv, xlsx, images)
// into plain text for chunking and assessment.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/subhogram/riskobot/internal/metrics"
)

// ErrUnsupportedFormat is returned for file extensions no extractor handles.
var ErrUnsupportedFormat = errors.New("extract: unsupported file format")

// Options tunes extraction behavior.
type Options struct {
	// PDFPageLimit caps the number of PDF pages read per document.
	PDFPageLimit int
	// TesseractBin is an explicit path to the tesseract binary. Empty means
	// resolve from PATH.
	TesseractBin string
}

// Extractor converts files into plain text based on their extension.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	if opts.PDFPageLimit <= 0 {
		opts.PDFPageLimit = 20
	}
	return &Extractor{opts: opts}
}

// Supported reports whether the filename's extension has an extractor.
func Supported(name string) bool {
	switch normalizeExt(name) {
	case "pdf", "txt", "csv", "xlsx", "jpg", "jpeg", "png":
		return true
	default:
		return false
	}
}

// Text extracts plain text from the file at path, dispatching on extension.
func (e *Extractor) Text(ctx context.Context, path string) (string, error) {
	format := normalizeExt(path)

	text, err := e.extract(ctx, path, format)
	if err != nil {
		metrics.IncExtraction(format, "error")
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		metrics.IncExtraction(format, "empty")
		return "", nil
	}
	metrics.IncExtraction(format, "success")
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, path, format string) (string, error) {
	switch format {
	case "pdf":
		return e.pdfText(path)
	case "txt":
		return plainText(path)
	case "csv":
		return csvText(path)
	case "xlsx":
		return xlsxText(path)
	case "jpg", "jpeg", "png":
		return e.imageText(ctx, path)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// plainText reads a .txt file. Invalid UTF-8 sequences are replaced rather
// than rejected, matching lenient decode semantics for operator logs.
func plainText(path string) (string, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path already confined by the caller
	if err != nil {
		return "", fmt.Errorf("extract: read txt: %w", err)
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

func normalizeExt(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
