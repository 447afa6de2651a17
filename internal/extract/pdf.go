// SPDX-License-Identifier: MIT

package extract

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts per-page text from a PDF, stopping at the configured page
// cap. Pages without extractable text are skipped.
func (e *Extractor) pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	pages := r.NumPage()
	if pages > e.opts.PDFPageLimit {
		pages = e.opts.PDFPageLimit
	}

	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single undecodable page should not sink the document.
			continue
		}
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
