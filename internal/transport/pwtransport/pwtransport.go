// Package pwtransport implements session.Transport on a Chromium page driven
// by playwright-go. Origin calls run as an in-page fetch, so they carry the
// page's cookies and look like the site's own xhr.
package pwtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/internal/transport/inpage"

	"github.com/playwright-community/playwright-go"
)

const (
	report_launcher_launch = "launcher.launch"
	report_transport_close = "transport.close"
)

type Options struct {
	Headless bool
	// Install downloads the driver and browsers on first launch.
	Install   bool
	UserAgent string
	Args      []string
	// DefaultTimeout applies to calls whose context has no deadline.
	DefaultTimeout time.Duration
	Tel            telemetry.API
}

// Launcher owns the playwright driver process, every Launch starts a new
// browser on it.
type Launcher struct {
	opts Options
	tel  telemetry.API

	mu sync.Mutex
	pw *playwright.Playwright
}

func NewLauncher(opts Options) *Launcher {
	assert.NotNil(opts.Tel)
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = session.DefaultRequestTimeout
	}
	return &Launcher{
		opts: opts,
		tel:  telemetry.NewScopedAPI("playwright", opts.Tel),
	}
}

func (l *Launcher) driver() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pw != nil {
		return l.pw, nil
	}
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if l.opts.Install {
		err := playwright.Install(runOpts)
		if err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	l.pw = pw
	return pw, nil
}

func (l *Launcher) Launch(ctx context.Context) (session.Transport, error) {
	pw, err := l.driver()
	if err != nil {
		l.tel.ReportBroken(report_launcher_launch, err)
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args:     l.opts.Args,
		Timeout:  playwright.Float(timeoutMs(ctx, l.opts.DefaultTimeout)),
	})
	if err != nil {
		l.tel.ReportBroken(report_launcher_launch, err)
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if l.opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(l.opts.UserAgent)
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("create context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(l.opts.DefaultTimeout.Milliseconds()))

	return &transport{
		browser:        browser,
		context:        bctx,
		page:           page,
		defaultTimeout: l.opts.DefaultTimeout,
		tel:            l.tel,
	}, nil
}

// Stop shuts the driver down, transports must be closed first.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	return err
}

type transport struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	defaultTimeout time.Duration
	tel            telemetry.API

	closeOnce sync.Once
	closeErr  error
}

func (t *transport) Navigate(ctx context.Context, url string) error {
	res, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(timeoutMs(ctx, t.defaultTimeout)),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	if res != nil && res.Status() >= 400 {
		return fmt.Errorf("goto %s: status %d", url, res.Status())
	}
	return nil
}

func (t *transport) Attribute(ctx context.Context, selector, attr string) (string, error) {
	el, err := t.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(timeoutMs(ctx, t.defaultTimeout)),
	})
	if err != nil {
		return "", err
	}
	if el == nil {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	return el.GetAttribute(attr)
}

func (t *transport) Content(ctx context.Context) (string, error) {
	return t.page.Content()
}

func (t *transport) Do(ctx context.Context, req session.Request) (session.Response, error) {
	if !t.Alive() {
		return session.Response{}, session.ErrTransportClosed
	}

	done := make(chan evaluated, 1)
	go func() {
		value, err := t.page.Evaluate(inpage.FetchScript, inpage.Args(req))
		done <- evaluated{value: value, err: err}
	}()

	r, err := awaitEvaluate(ctx, done, t.defaultTimeout)
	if errors.Is(err, errEvaluateStuck) {
		// the page is still busy, nothing else may run on it
		t.Close()
	}
	if err != nil {
		return session.Response{}, err
	}
	if r.err != nil {
		return session.Response{}, fmt.Errorf("evaluate fetch: %w", r.err)
	}
	return inpage.Decode(r.value)
}

type evaluated struct {
	value any
	err   error
}

var errEvaluateStuck = errors.New("pwtransport: evaluate still running after cancellation")

// awaitEvaluate waits for an in-flight Evaluate. playwright cannot abort it,
// so after ctx ends it keeps waiting up to grace for the page to go idle
// before giving up; the caller holds the session gate until then.
func awaitEvaluate(ctx context.Context, done <-chan evaluated, grace time.Duration) (evaluated, error) {
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return evaluated{}, ctx.Err()
	case <-timer.C:
		return evaluated{}, errors.Join(ctx.Err(), errEvaluateStuck)
	}
}

func (t *transport) Alive() bool {
	return t.browser.IsConnected() && !t.page.IsClosed()
}

func (t *transport) Close() error {
	t.closeOnce.Do(func() {
		errs := []error{}
		if !t.page.IsClosed() {
			errs = append(errs, t.page.Close())
		}
		errs = append(errs, t.context.Close())
		if t.browser.IsConnected() {
			errs = append(errs, t.browser.Close())
		}
		t.closeErr = errors.Join(errs...)
		if t.closeErr != nil {
			t.tel.ReportWarning(report_transport_close, t.closeErr)
		}
	})
	return t.closeErr
}

// timeoutMs converts the time left on ctx into a playwright timeout.
func timeoutMs(ctx context.Context, fallback time.Duration) float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return float64(fallback.Milliseconds())
	}
	left := time.Until(deadline)
	if left < time.Millisecond {
		left = time.Millisecond
	}
	return float64(left.Milliseconds())
}
