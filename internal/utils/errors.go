package utils

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorCodeRejected          ErrorCode = "REJECTED"
	ErrorCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrorCodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	ErrorCodeFormatUnavailable ErrorCode = "FORMAT_UNAVAILABLE"
	ErrorCodeTransientNetwork  ErrorCode = "TRANSIENT_NETWORK"
	ErrorCodeOutputTooLarge    ErrorCode = "OUTPUT_TOO_LARGE"
	ErrorCodeTimeout           ErrorCode = "TIMEOUT"
	ErrorCodeUnknown           ErrorCode = "UNKNOWN"
)

// AppError carries an operator-facing message plus a separate user-safe
// message. Raw error text never reaches the chat.
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"user_message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Err         error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Transient reports whether the error is worth an immediate retry.
func (e *AppError) Transient() bool {
	return e.Code == ErrorCodeTransientNetwork
}

func NewError(code ErrorCode, message, userMessage string) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Details:     make(map[string]interface{}),
	}
}

// Common error constructors

func NewQueueFullError(maxSize int) *AppError {
	e := NewError(
		ErrorCodeRejected,
		fmt.Sprintf("download queue is full (max %d)", maxSize),
		"The download queue is full right now. Please try again in a few minutes.",
	)
	e.Details["max_queue_size"] = maxSize
	return e
}

func NewUserLimitError(limit int) *AppError {
	e := NewError(
		ErrorCodeRejected,
		fmt.Sprintf("per-user task limit reached (max %d)", limit),
		"You already have the maximum number of active downloads. Wait for one to finish first.",
	)
	e.Details["max_tasks_per_user"] = limit
	return e
}

func NewUnauthorizedError() *AppError {
	return NewError(
		ErrorCodeUnauthorized,
		"identity is not on the authorized users list",
		"You don't have permission to use this bot. Ask the administrator for an invite.",
	)
}

func NewSourceUnavailableError(url string, err error) *AppError {
	e := NewError(
		ErrorCodeSourceUnavailable,
		"source video is unavailable or removed",
		"This video is unavailable, private or removed. Check the link and try another one.",
	)
	e.Details["url"] = url
	e.Err = err
	return e
}

func NewFormatUnavailableError(url string, err error) *AppError {
	e := NewError(
		ErrorCodeFormatUnavailable,
		"no matching format for the requested quality",
		"The requested format is not available for this video. Try a different quality.",
	)
	e.Details["url"] = url
	e.Err = err
	return e
}

func NewTransientNetworkError(url string, err error) *AppError {
	e := NewError(
		ErrorCodeTransientNetwork,
		"transient network failure while talking to the source",
		"A network error interrupted the download. Please resend the link to try again.",
	)
	e.Details["url"] = url
	e.Err = err
	return e
}

func NewOutputTooLargeError(size, limit int64) *AppError {
	e := NewError(
		ErrorCodeOutputTooLarge,
		fmt.Sprintf("artifact size %d exceeds delivery limit %d", size, limit),
		fmt.Sprintf("The file is %.1f MB which exceeds the %.0f MB delivery limit. Try a lower quality (SD or HD).",
			float64(size)/(1024*1024), float64(limit)/(1024*1024)),
	)
	e.Details["size"] = size
	e.Details["limit"] = limit
	return e
}

func NewTimeoutError(url string) *AppError {
	e := NewError(
		ErrorCodeTimeout,
		"download exceeded its wall-clock bound",
		"The download took too long and was aborted. Try a lower quality or a shorter video.",
	)
	e.Details["url"] = url
	return e
}

func NewUnknownError(err error) *AppError {
	e := NewError(
		ErrorCodeUnknown,
		"unexpected failure",
		"Something went wrong on our side. The administrator has been notified.",
	)
	e.Err = err
	return e
}

// AsAppError normalizes any error into an AppError. Context deadline errors
// become TIMEOUT and interruption becomes TRANSIENT_NETWORK; neither is an
// unexplained condition, so neither may escalate as UNKNOWN. Anything
// unclassified becomes UNKNOWN.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("")
	}
	if errors.Is(err, context.Canceled) {
		return NewTransientNetworkError("", err)
	}
	return NewUnknownError(err)
}
