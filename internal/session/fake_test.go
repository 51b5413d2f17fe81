package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeOrigin plays the part of the upstream site. Every navigation to the
// bootstrap document issues a new token, the query endpoint answers through
// `respond`.
type fakeOrigin struct {
	mu sync.Mutex

	// serveMeta controls whether the token is reachable through the meta
	// element, when false only the raw html carries it.
	serveMeta bool
	// noToken makes the bootstrap document carry no token at all.
	noToken bool
	// launchDelay slows down every launch, used to widen race windows.
	launchDelay time.Duration
	launchErr   error
	navErr      error

	respond func(req Request, token string) Response

	issued      int
	launches    atomic.Int64
	navigations atomic.Int64
	extractions atomic.Int64
	requests    atomic.Int64
	closes      atomic.Int64

	requestLog []Request
	transports []*fakeTransport
}

func newFakeOrigin(respond func(req Request, token string) Response) *fakeOrigin {
	return &fakeOrigin{serveMeta: true, respond: respond}
}

func (o *fakeOrigin) Launch(ctx context.Context) (Transport, error) {
	if o.launchDelay > 0 {
		select {
		case <-time.After(o.launchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if o.launchErr != nil {
		return nil, o.launchErr
	}
	o.launches.Add(1)
	t := &fakeTransport{origin: o}
	t.alive.Store(true)

	o.mu.Lock()
	o.transports = append(o.transports, t)
	o.mu.Unlock()
	return t, nil
}

func (o *fakeOrigin) issueToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued++
	return fmt.Sprintf("tok-%d", o.issued)
}

func (o *fakeOrigin) liveTransports() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, t := range o.transports {
		if t.Alive() {
			n++
		}
	}
	return n
}

func (o *fakeOrigin) sentRequests() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Request(nil), o.requestLog...)
}

type fakeTransport struct {
	origin *fakeOrigin
	alive  atomic.Bool

	token string
}

func (t *fakeTransport) Navigate(ctx context.Context, url string) error {
	t.origin.navigations.Add(1)
	if t.origin.navErr != nil {
		return t.origin.navErr
	}
	if t.origin.noToken {
		t.token = ""
		return nil
	}
	t.token = t.origin.issueToken()
	return nil
}

func (t *fakeTransport) Attribute(ctx context.Context, selector, attr string) (string, error) {
	t.origin.extractions.Add(1)
	if !t.origin.serveMeta || t.token == "" {
		<-ctx.Done()
		return "", fmt.Errorf("wait for %s: %w", selector, ctx.Err())
	}
	if selector != "meta[name='_csrf']" || attr != "content" {
		return "", fmt.Errorf("unexpected lookup %s@%s", selector, attr)
	}
	return t.token, nil
}

func (t *fakeTransport) Content(ctx context.Context) (string, error) {
	t.origin.extractions.Add(1)
	if t.token == "" {
		return "<html><head></head><body>maintenance</body></html>", nil
	}
	return fmt.Sprintf(
		`<html><head><meta name="_csrf"   content="%s"></head><body></body></html>`,
		t.token,
	), nil
}

func (t *fakeTransport) Do(ctx context.Context, req Request) (Response, error) {
	if !t.Alive() {
		return Response{}, errors.New("browser has been closed")
	}
	t.origin.requests.Add(1)
	t.origin.mu.Lock()
	t.origin.requestLog = append(t.origin.requestLog, req)
	t.origin.mu.Unlock()
	return t.origin.respond(req, req.Headers[DefaultTokenHeader]), nil
}

func (t *fakeTransport) Alive() bool {
	return t.alive.Load()
}

func (t *fakeTransport) Close() error {
	if t.alive.Swap(false) {
		t.origin.closes.Add(1)
	}
	return nil
}

// crash simulates the browser process going away.
func (t *fakeTransport) crash() {
	t.alive.Store(false)
}

type testQuery struct {
	Type     string   `json:"type"`
	ListCntr []string `json:"listCntr"`
}

func testOrigin() Origin {
	return Origin{
		Name:            "test",
		BaseUrl:         "https://carrier.test",
		BootstrapPath:   "/track/index.do",
		QueryPath:       "/track/select.do",
		Headers:         map[string]string{"X-Requested-With": "XMLHttpRequest"},
		TokenStrategies: CsrfStrategies("_csrf"),
		Body: JsonBody(func(keys []string) any {
			return testQuery{Type: "cntr", ListCntr: keys}
		}),
		Classifier: Classifier{
			StaleMarkers:     []string{"No Data"},
			ErrorMarkers:     []string{"JS_ERROR"},
			NotFoundMarkers:  []string{"NO_SUCH_CONTAINER"},
			MinPayloadLength: 20,
		},
		TokenTimeout:   200 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

// echoRespond answers with the requested keys as long as the token is the
// latest one issued.
func echoRespond(o *fakeOrigin) func(req Request, token string) Response {
	return func(req Request, token string) Response {
		o.mu.Lock()
		latest := fmt.Sprintf("tok-%d", o.issued)
		o.mu.Unlock()
		if token != latest {
			return Response{Status: 200, Body: []byte("No Data")}
		}
		var q testQuery
		err := json.Unmarshal(req.Body, &q)
		if err != nil {
			return Response{Status: 400}
		}
		body, _ := json.Marshal(map[string]any{"containers": q.ListCntr})
		return Response{Status: 200, Body: body}
	}
}
