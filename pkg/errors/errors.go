package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by every layer of the cart stack.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInternal     = errors.New("internal error")
)

// Error codes sent to API clients.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

type kind struct {
	sentinel error
	code     string
	status   int
	message  string
}

// kinds is ordered by precedence; ErrInternal is the catch-all and stays last.
var kinds = []kind{
	{ErrNotFound, CodeNotFound, http.StatusNotFound, "resource not found"},
	{ErrInvalidInput, CodeInvalidInput, http.StatusBadRequest, ""},
	{ErrUnavailable, CodeUnavailable, http.StatusServiceUnavailable, "service temporarily unavailable"},
	{ErrInternal, CodeInternal, http.StatusInternalServerError, "an internal error occurred"},
}

func (k kind) wrap(message string, cause error) *AppError {
	if message == "" {
		message = k.message
	}
	err := k.sentinel
	if cause != nil {
		err = errors.Join(k.sentinel, cause)
	}
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: err}
}

// AppError is an error with a client-facing code and message and the HTTP
// status it maps to. Err keeps the sentinel and cause for errors.Is.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *AppError {
	return kinds[0].wrap(fmt.Sprintf("%s with id %s not found", resource, id), nil)
}

// InvalidInput reports a request the caller must fix.
func InvalidInput(message string) *AppError {
	return kinds[1].wrap(message, nil)
}

// Unavailable reports a backing store that cannot be reached. Both
// ErrUnavailable and cause match errors.Is.
func Unavailable(message string, cause error) *AppError {
	return kinds[2].wrap(message, cause)
}

// Internal hides err behind a generic message. Both ErrInternal and err
// match errors.Is.
func Internal(err error) *AppError {
	return kinds[3].wrap("", err)
}

// FromError returns the AppError in err's chain. Other errors are classified
// by the sentinel they wrap, falling back to Internal. Invalid input keeps
// err's text as its message.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range kinds[:3] {
		if errors.Is(err, k.sentinel) {
			msg := k.message
			if msg == "" {
				msg = err.Error()
			}
			return k.wrap(msg, err)
		}
	}
	return Internal(err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	return FromError(err).Status
}
