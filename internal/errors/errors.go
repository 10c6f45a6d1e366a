package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Folio error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrInvalidName       ErrorCode = "INVALID_NAME"       // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrNotAFile          ErrorCode = "NOT_A_FILE"         // 409
	ErrNoActiveFile      ErrorCode = "NO_ACTIVE_FILE"     // 409
	ErrCycle             ErrorCode = "CYCLE"              // 422
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE" // 503
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// FolioError represents a structured error with code, status, and details.
type FolioError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *FolioError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *FolioError {
	return &FolioError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidName creates a 400 error for blank or whitespace-only names.
func NewInvalidName(name string) *FolioError {
	return &FolioError{
		Code:    ErrInvalidName,
		Status:  400,
		Message: "name must not be blank",
		Details: map[string]any{"name": name},
	}
}

// NewNotFound creates a 404 error for when a node or item cannot be found.
func NewNotFound(identifier string) *FolioError {
	return &FolioError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewNotAFile creates a 409 error when a file-only operation targets a folder.
func NewNotAFile(id string) *FolioError {
	return &FolioError{
		Code:    ErrNotAFile,
		Status:  409,
		Message: fmt.Sprintf("node %s is not a file", id),
		Details: map[string]any{"id": id},
	}
}

// NewNoActiveFile creates a 409 error for link/prompt operations without a selection.
func NewNoActiveFile() *FolioError {
	return &FolioError{
		Code:    ErrNoActiveFile,
		Status:  409,
		Message: "no file is active",
	}
}

// NewCycle creates a 422 error when a move would place a node under itself.
func NewCycle(id, targetParentID string) *FolioError {
	return &FolioError{
		Code:    ErrCycle,
		Status:  422,
		Message: fmt.Sprintf("cannot move %s into itself or one of its descendants", id),
		Details: map[string]any{"id": id, "target_parent_id": targetParentID},
	}
}

// NewRemoteUnavailable creates a 503 error for remote store failures.
func NewRemoteUnavailable(err error) *FolioError {
	msg := "remote store unavailable"
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &FolioError{
		Code:    ErrRemoteUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *FolioError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &FolioError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if err is, or wraps, a FolioError with the given code.
func Is(err error, code ErrorCode) bool {
	var fErr *FolioError
	if stderrors.As(err, &fErr) {
		return fErr.Code == code
	}
	return false
}
