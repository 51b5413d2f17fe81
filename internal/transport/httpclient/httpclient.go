// Package httpclient implements session.Transport without a browser: a resty
// client with its own cookie jar plays the part of the browser context.
// It only works against origins that serve the token in the static html.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_transport_navigate = "transport.navigate"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

var ErrNoDocument = errors.New("httpclient: no document loaded")

type Options struct {
	BaseUrl   string
	UserAgent string
	// RequestsPerSecond limits every request made by a transport,
	// defaults to 2.
	RequestsPerSecond float64
	Timeout           time.Duration
	// Output receives a dump of every exchange when set.
	Output telemetry.MessageOutput
	Tel    telemetry.API
}

type launcher struct {
	opts Options
	base *url.URL
}

// NewLauncher returns a session.Launcher creating one resty client (and
// cookie jar) per launch.
func NewLauncher(opts Options) (session.Launcher, error) {
	assert.NotNil(opts.Tel)

	base, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if base.Host == "" {
		return nil, fmt.Errorf("httpclient: base url must be absolute, got %q", opts.BaseUrl)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = session.DefaultRequestTimeout
	}
	opts.Tel = telemetry.NewScopedAPI("httpclient", opts.Tel)
	return launcher{opts: opts, base: base}, nil
}

func (l launcher) Launch(ctx context.Context) (session.Transport, error) {
	client := resty.New()
	client.SetBaseURL(l.opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", l.opts.UserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(l.base.Hostname()))
	client.SetTimeout(l.opts.Timeout)

	// max burst >= rate just means that no requests will be dropped
	burst := int(l.opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(l.opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, l.opts.Tel, l.opts.Output)

	t := &transport{
		http: client,
		tel:  l.opts.Tel,
	}
	t.alive.Store(true)
	return t, nil
}

type transport struct {
	http  *resty.Client
	tel   telemetry.API
	alive atomic.Bool

	doc *goquery.Document
	raw string
}

func (t *transport) Navigate(ctx context.Context, target string) error {
	if !t.Alive() {
		return session.ErrTransportClosed
	}

	res, err := t.http.R().
		SetContext(ctx).
		SetHeader("accept", "text/html,application/xhtml+xml").
		Get(target)
	if err != nil {
		t.tel.ReportBroken(report_transport_navigate, err, target)
		return err
	}
	if res.IsError() {
		return fmt.Errorf("navigate %s: %s", target, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		t.tel.ReportBroken(report_transport_navigate, fmt.Errorf("parse document: %w", err), target)
		return err
	}
	t.doc = doc
	t.raw = string(res.Body())
	return nil
}

// Attribute looks the element up in the last loaded document. A static
// document never changes, so a miss fails immediately instead of waiting.
func (t *transport) Attribute(ctx context.Context, selector, attr string) (string, error) {
	if t.doc == nil {
		return "", ErrNoDocument
	}
	sel := t.doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("no element matches %q", selector)
	}
	value, ok := sel.Attr(attr)
	if !ok {
		return "", fmt.Errorf("element %q has no attribute %q", selector, attr)
	}
	return strings.TrimSpace(value), nil
}

func (t *transport) Content(ctx context.Context) (string, error) {
	if t.doc == nil {
		return "", ErrNoDocument
	}
	return t.raw, nil
}

func (t *transport) Do(ctx context.Context, req session.Request) (session.Response, error) {
	if !t.Alive() {
		return session.Response{}, session.ErrTransportClosed
	}

	r := t.http.R().
		SetContext(ctx).
		SetHeaders(req.Headers)
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	res, err := r.Execute(req.Method, req.Url)
	if err != nil {
		return session.Response{}, err
	}
	return session.Response{
		Status: res.StatusCode(),
		Body:   res.Body(),
	}, nil
}

func (t *transport) Alive() bool {
	return t.alive.Load()
}

func (t *transport) Close() error {
	if !t.alive.Swap(false) {
		return nil
	}
	t.http.GetClient().CloseIdleConnections()
	t.doc = nil
	t.raw = ""
	return nil
}
