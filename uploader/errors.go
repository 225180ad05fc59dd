package uploader

import (
	"errors"
	"fmt"
)

// Standard errors returned by the uploader.
var (
	// ErrValidation indicates invalid input parameters.
	ErrValidation = errors.New("validation error")
	// ErrCancelled indicates the session was cancelled.
	ErrCancelled = errors.New("upload cancelled")
	// ErrFileTooLarge indicates the file exceeds the server's size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUploadFailed indicates a chunk exhausted its retries.
	ErrUploadFailed = errors.New("upload failed")
)

// APIError represents an error response from the upload server.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Message is the error message from the server.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %s (status %d)", e.Message, e.StatusCode)
}

// ValidationError represents an input validation failure.
type ValidationError struct {
	// Field is the name of the invalid field.
	Field string
	// Message describes what's wrong.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Is implements error comparison for errors.Is.
func (e *ValidationError) Is(target error) bool {
	return errors.Is(ErrValidation, target)
}

// ChunkUploadError reports a chunk that failed after exhausting its retries.
type ChunkUploadError struct {
	// FileID is the upload session ID the chunk belongs to.
	FileID string
	// ChunkIndex is the chunk that failed.
	ChunkIndex int
	// Attempts is the number of transport attempts made.
	Attempts int
	// Err is the last transport error.
	Err error
}

// Error implements the error interface.
func (e *ChunkUploadError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempts: %v", e.ChunkIndex, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChunkUploadError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for errors.Is.
func (e *ChunkUploadError) Is(target error) bool {
	return errors.Is(ErrUploadFailed, target)
}
