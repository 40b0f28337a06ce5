// Package browser describes the page-automation capability the portal code
// drives. HTTPLauncher fetches and submits documents directly; ChromeLauncher
// drives a real Chrome for pages that need scripts.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed           = errors.New("browser context is closed")
	ErrSelectorNotFound = errors.New("selector not found")
	ErrTimeout          = errors.New("navigation timed out")
	ErrNavigation       = errors.New("navigation failed")
)

// Launcher opens isolated browsing contexts. Each context owns its own
// cookies and connections and must be closed by whoever launched it.
type Launcher interface {
	Launch(ctx context.Context) (Context, error)
}

// Context is one isolated browser session.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab inside a Context.
type Page interface {
	// Goto loads url, giving up after timeout (0 means the context default).
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// WaitForSelector returns ErrSelectorNotFound if nothing matches
	// selector within timeout.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Type fills the first element matching selector with text.
	Type(selector, text string) error
	// Click activates the first element matching selector.
	Click(ctx context.Context, selector string) error
	// ClickNth activates the n-th (0-based) element matching selector.
	ClickNth(ctx context.Context, selector string, n int) error
	// Count returns how many elements match selector.
	Count(selector string) (int, error)
	// Text returns the trimmed text of the first element matching selector.
	Text(selector string) (string, error)
	// Content returns the current document.
	Content() (string, error)
	URL() string
}
