// Package browser renders pages through isolated browser sessions. One
// Renderer is shared by the process; every capture job gets its own
// Session, which must be closed when the job ends.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when navigation exceeds its timeout.
	ErrTimeout = errors.New("navigation timed out")
	// ErrElementNotFound is returned when a capture selector matches nothing.
	ErrElementNotFound = errors.New("element not found")
)

// WaitUntil values accepted by Navigate.
const (
	WaitLoad             = "load"
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
	WaitCommit           = "commit"
)

type SessionOptions struct {
	Width       int
	Height      int
	DeviceScale float64
}

type NavigateOptions struct {
	WaitUntil string
	Timeout   time.Duration
}

// ShotOptions selects what to capture. A non-empty Selector captures that
// element's bounds and ignores FullPage.
type ShotOptions struct {
	FullPage bool
	Selector string
}

// Session is one isolated browsing context with a single page.
type Session interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	// Mask replaces the content of every element matching any selector.
	// Selectors without matches are ignored.
	Mask(ctx context.Context, selectors []string) error
	// Screenshot returns PNG bytes.
	Screenshot(ctx context.Context, opts ShotOptions) ([]byte, error)
	Close() error
}

// Renderer creates sessions.
type Renderer interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Ready() bool
}
