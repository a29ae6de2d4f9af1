package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the layout worker
 *
 * Every failure the worker records against a job is a ProcessingError so the
 * queue layer can persist a uniform error map.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorImageDecode       ErrorCode = "IMAGE_DECODE_FAILED"

	// Pipeline input errors
	ErrorMalformedRecord ErrorCode = "MALFORMED_RECORD"
	ErrorInvalidConfig   ErrorCode = "INVALID_CONFIG"

	// Layout generation errors
	ErrorLayoutParse ErrorCode = "LAYOUT_PARSE_FAILED"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrorAPICallFailed  ErrorCode = "API_CALL_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches any ProcessingError carrying the same code, so errors.Is can
// test for a code anywhere in a wrapped or joined error tree.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	return ok && t.Code == e.Code
}

// HasCode reports whether err is, or wraps, a ProcessingError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &ProcessingError{Code: code})
}

// AsProcessingError returns the first ProcessingError found in err's tree
func AsProcessingError(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Factory functions for common errors

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

// NewOCRFailedError wraps an OCR engine failure together with whatever
// diagnostic output the engine produced before failing.
func NewOCRFailedError(engine string, diagnostics string, cause error) *ProcessingError {
	details := map[string]interface{}{
		"ocr_engine": engine,
	}
	if diagnostics != "" {
		details["diagnostics"] = diagnostics
	}
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed in engine: %s", engine),
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewImageDecodeError(cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorImageDecode,
		Message:   "Failed to decode image",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewMalformedRecordError reports an OCR record that cannot be turned into a
// bounding box. index is the record's position in its batch.
func NewMalformedRecordError(index int, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorMalformedRecord,
		Message:   fmt.Sprintf("OCR record %d is malformed: %s", index, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"record_index": index,
			"reason":       reason,
		},
	}
}

func NewInvalidConfigError(field string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidConfig,
		Message:   fmt.Sprintf("invalid %s: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

func NewLayoutParseError(reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorLayoutParse,
		Message:   fmt.Sprintf("Failed to parse layout: %s", reason),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithJob returns e stamped with jobID. Errors raised below the queue layer
// do not know which job they belong to.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	e.JobID = jobID
	return e
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
