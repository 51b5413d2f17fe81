// Package rodtransport implements session.Transport over the Chrome DevTools
// Protocol with go-rod. It either launches a local Chromium or attaches to
// an existing debugger url.
package rodtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/internal/transport/inpage"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	report_launcher_launch = "launcher.launch"
	report_transport_close = "transport.close"
)

type Options struct {
	// DebuggerUrl attaches to a running browser instead of launching one.
	DebuggerUrl string
	// Bin overrides the browser binary, empty means rod's managed download.
	Bin      string
	Headless bool
	// PingTimeout bounds the liveness probe of Alive.
	PingTimeout time.Duration
	Tel         telemetry.API
}

type Launcher struct {
	opts Options
	tel  telemetry.API
}

func NewLauncher(opts Options) Launcher {
	assert.NotNil(opts.Tel)
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = time.Second * 2
	}
	return Launcher{
		opts: opts,
		tel:  telemetry.NewScopedAPI("rod", opts.Tel),
	}
}

func (l Launcher) Launch(ctx context.Context) (session.Transport, error) {
	controlUrl := l.opts.DebuggerUrl
	var local *launcher.Launcher
	if controlUrl == "" {
		local = launcher.New().Context(ctx).Headless(l.opts.Headless)
		if l.opts.Bin != "" {
			local = local.Bin(l.opts.Bin)
		}
		u, err := local.Launch()
		if err != nil {
			l.tel.ReportBroken(report_launcher_launch, err)
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlUrl = u
	}

	browser := rod.New().ControlURL(controlUrl)
	err := browser.Connect()
	if err != nil {
		if local != nil {
			local.Kill()
		}
		l.tel.ReportBroken(report_launcher_launch, err)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	incognito, err := browser.Incognito()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	t := &transport{
		browser:     browser,
		incognito:   incognito,
		page:        page,
		local:       local,
		owned:       l.opts.DebuggerUrl == "",
		pingTimeout: l.opts.PingTimeout,
		tel:         l.tel,
	}
	return t, nil
}

type transport struct {
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	local     *launcher.Launcher
	// owned is false when attached to a browser someone else started, Close
	// then only closes the incognito context.
	owned bool

	pingTimeout time.Duration
	tel         telemetry.API

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (t *transport) Navigate(ctx context.Context, url string) error {
	page := t.page.Context(ctx)
	err := page.Navigate(url)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	err = page.WaitLoad()
	if err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Attribute relies on rod's Element retrying until the selector matches or
// ctx is done.
func (t *transport) Attribute(ctx context.Context, selector, attr string) (string, error) {
	el, err := t.page.Context(ctx).Element(selector)
	if err != nil {
		return "", err
	}
	value, err := el.Attribute(attr)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", fmt.Errorf("element %q has no attribute %q", selector, attr)
	}
	return *value, nil
}

func (t *transport) Content(ctx context.Context) (string, error) {
	return t.page.Context(ctx).HTML()
}

func (t *transport) Do(ctx context.Context, req session.Request) (session.Response, error) {
	if t.closed.Load() {
		return session.Response{}, session.ErrTransportClosed
	}
	res, err := t.page.Context(ctx).Eval(inpage.FetchScript, inpage.Args(req))
	if err != nil {
		return session.Response{}, fmt.Errorf("eval fetch: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return session.Response{}, err
	}
	return inpage.DecodeJSON(raw)
}

func (t *transport) Alive() bool {
	if t.closed.Load() {
		return false
	}
	_, err := proto.BrowserGetVersion{}.Call(t.browser.Timeout(t.pingTimeout))
	return err == nil
}

func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		errs := []error{t.page.Close(), t.incognito.Close()}
		if t.owned {
			errs = append(errs, t.browser.Close())
		}
		if t.local != nil {
			t.local.Kill()
			t.local.Cleanup()
		}
		t.closeErr = errors.Join(errs...)
		if t.closeErr != nil {
			t.tel.ReportWarning(report_transport_close, t.closeErr)
		}
	})
	return t.closeErr
}
