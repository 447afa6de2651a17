// SPDX-License-Identifier: MIT

package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/subhogram/riskobot/internal/log"
)

// ErrOCRUnavailable is returned when no tesseract binary can be resolved.
var ErrOCRUnavailable = errors.New("extract: tesseract binary not found")

const ocrTimeout = 60 * time.Second

// resolveTesseract returns the tesseract binary to execute: the configured
// path when set, otherwise a PATH lookup.
func (e *Extractor) resolveTesseract() (string, error) {
	if e.opts.TesseractBin != "" {
		if _, err := exec.LookPath(e.opts.TesseractBin); err != nil {
			return "", fmt.Errorf("%w: configured path %q: %v", ErrOCRUnavailable, e.opts.TesseractBin, err)
		}
		return e.opts.TesseractBin, nil
	}
	bin, err := exec.LookPath("tesseract")
	if err != nil {
		return "", ErrOCRUnavailable
	}
	return bin, nil
}

// imageText runs OCR on an image by shelling out to tesseract. Screenshots
// are evidence in audit workflows, so a missing binary is a typed error the
// caller records per document rather than a fatal condition.
func (e *Extractor) imageText(ctx context.Context, path string) (string, error) {
	bin, err := e.resolveTesseract()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, ocrTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, path, "stdout") // #nosec G204 -- binary resolved above, path confined by caller
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := log.WithComponentFromContext(ctx, "extract")
	logger.Debug().
		Str(log.FieldEvent, "ocr.start").
		Str(log.FieldPath, path).
		Str("bin", bin).
		Msg("running OCR")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("extract: ocr timed out after %s: %w", ocrTimeout, ctx.Err())
		}
		return "", fmt.Errorf("extract: ocr failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
