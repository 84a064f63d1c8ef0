package auth

import "errors"

// Machine-readable codes carried by every core failure. Callers outside the
// engine branch on these, never on message text.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeConflict     = "CONFLICT"
)

// Error is a coded failure. Authentication failures are UNAUTHORIZED,
// authenticated-but-disallowed is FORBIDDEN, absent resources are NOT_FOUND.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is matches errors by code so errors.Is works against the package
// sentinels even for wrapped or re-worded copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrUnauthorized = &Error{Code: CodeUnauthorized, Message: "auth: unauthorized"}
	ErrForbidden    = &Error{Code: CodeForbidden, Message: "auth: forbidden"}
	ErrNotFound     = &Error{Code: CodeNotFound, Message: "auth: not found"}
	ErrInvalidInput = &Error{Code: CodeInvalidInput, Message: "auth: invalid input"}
	ErrConflict     = &Error{Code: CodeConflict, Message: "auth: resource conflict"}
)

// CodeOf returns the machine-readable code of err, or "" when err carries none.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
