package utils

import "fmt"

// AppError attaches a stable machine-readable code to an error so callers and
// log pipelines can group failures without parsing messages.
type AppError struct {
	Code string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError wrapping err.
func NewAppError(code, msg string, err error) error {
	return &AppError{Code: code, Msg: msg, Err: err}
}

// ErrorCode extracts the AppError code, or empty for foreign errors.
func ErrorCode(err error) string {
	if ae, ok := err.(*AppError); ok {
		return ae.Code
	}
	return ""
}
