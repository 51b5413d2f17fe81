package session

import (
	"context"
	"net/http"
)

// Page is the read side of a transport's current document.
type Page interface {
	// Attribute waits for the first element matching `selector` to be attached
	// to the current document and returns the value of `attr`. It returns an
	// error if nothing matches before ctx is done.
	Attribute(ctx context.Context, selector, attr string) (string, error)
	// Content returns the serialized current document.
	Content(ctx context.Context) (string, error)
}

// Request is a single in-context origin call. Path may be absolute or
// relative to the origin's base url.
type Request struct {
	Method  string
	Url     string
	Headers map[string]string
	Body    []byte
}

// Response is what came back from the origin call.
type Response struct {
	Status int
	Body   []byte
}

func (r Response) Ok() bool {
	return r.Status >= 200 && r.Status < 300
}

// Transport is a live connection bound to one origin, usually a browser
// context with a single page. Cookies and other state picked up by Navigate
// are carried by Do.
//
// A Transport is not safe for concurrent use, the Manager serializes access.
// Alive is the exception, it may be called at any time.
type Transport interface {
	Page
	Navigate(ctx context.Context, url string) error
	Do(ctx context.Context, req Request) (Response, error)
	// Alive reports whether the underlying browser/connection is still usable.
	Alive() bool
	Close() error
}

// Launcher creates transports, one per Manager start.
type Launcher interface {
	Launch(ctx context.Context) (Transport, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Transport, error)

func (f LauncherFunc) Launch(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// IsAuthStatus reports statuses that origins use to reject a stale csrf
// token or session cookie.
func IsAuthStatus(status int) bool {
	return status == http.StatusUnauthorized ||
		status == http.StatusForbidden ||
		status == 419
}
