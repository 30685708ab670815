package model

import (
	"context"
	"errors"
)

// ErrorCode classifies media I/O failures.
type ErrorCode string

const (
	CodeConnectionUnavailable ErrorCode = "connection_unavailable"
	CodeUnsupported           ErrorCode = "unsupported"
	CodeCorrupt               ErrorCode = "corrupt"
	CodeUnreadable            ErrorCode = "unreadable"
	CodeMissing               ErrorCode = "missing"
	CodeTimeout               ErrorCode = "timeout"
)

var defaultMessages = map[ErrorCode]string{
	CodeConnectionUnavailable: "Shutting down",
	CodeUnsupported:           "Unsupported format",
	CodeCorrupt:               "Corrupt media",
	CodeUnreadable:            "Unreadable media",
	CodeMissing:               "Missing media",
	CodeTimeout:               "Timed out",
}

// MediaError is a typed media failure. Two MediaErrors match under errors.Is
// when the target carries only a code, so callers can write
// errors.Is(err, model.ErrUnsupported).
type MediaError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *MediaError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultMessages[e.Code]
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *MediaError) Unwrap() error {
	return e.Err
}

func (e *MediaError) Is(target error) bool {
	t, ok := target.(*MediaError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Code == e.Code
}

var (
	ErrConnectionUnavailable = &MediaError{Code: CodeConnectionUnavailable}
	ErrUnsupported           = &MediaError{Code: CodeUnsupported}
	ErrCorrupt               = &MediaError{Code: CodeCorrupt}
	ErrUnreadable            = &MediaError{Code: CodeUnreadable}
	ErrMissing               = &MediaError{Code: CodeMissing}
	ErrTimeout               = &MediaError{Code: CodeTimeout}
)

// NewMediaError builds a MediaError with a custom message and optional cause.
func NewMediaError(code ErrorCode, message string, cause error) *MediaError {
	return &MediaError{Code: code, Message: message, Err: cause}
}

// CodeOf extracts the media error code from err. Context deadlines count as
// timeouts.
func CodeOf(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me.Code, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	return "", false
}

// ErrorText returns the message shown to users for err.
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	var me *MediaError
	if errors.As(err, &me) {
		return me.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return defaultMessages[CodeTimeout]
	}
	return err.Error()
}
