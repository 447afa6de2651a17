// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldRunID      = "run_id"
	FieldDocumentID = "document_id"
	FieldJobID      = "job_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Domain fields
	FieldFilename = "filename"
	FieldKind     = "kind"
	FieldModel    = "model"
	FieldChunks   = "chunks"
	FieldVerdict  = "verdict"

	// Path fields
	FieldPath    = "path"
	FieldDataDir = "data_dir"
)
