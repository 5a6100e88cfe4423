package capture

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies capture failures.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindRejected
	KindElementNotFound
	KindNavigationTimeout
	KindNavigationFailure
	KindRender
	KindEncoding
	KindStorage
)

var kindNames = map[Kind]string{
	KindInternal:          "INTERNAL",
	KindValidation:        "VALIDATION",
	KindAuth:              "UNAUTHORIZED",
	KindRejected:          "TOO_MANY_REQUESTS",
	KindElementNotFound:   "ELEMENT_NOT_FOUND",
	KindNavigationTimeout: "NAVIGATION_TIMEOUT",
	KindNavigationFailure: "NAVIGATION_FAILED",
	KindRender:            "RENDER_FAILED",
	KindEncoding:          "ENCODING_FAILED",
	KindStorage:           "STORAGE_FAILED",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// Status maps the kind to an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindRejected:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrTooManyRequests is the cause attached to admission rejections.
var ErrTooManyRequests = errors.New("Too many concurrent requests")

// Error is returned by every Coordinator operation that fails.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

func (e *Error) Error() string {
	if e.URL == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s (url: %s)", e.Err.Error(), e.URL)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the cause without the URL suffix.
func (e *Error) Message() string {
	return e.Err.Error()
}

// KindOf extracts the Kind from err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}
