package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	report_fetcher_fetch = "fetcher.fetch"
)

// FetchRequest is one logical query, all keys travel in a single payload.
type FetchRequest struct {
	// Origin must name the manager's origin (name or authority), empty
	// means "whatever the fetcher is bound to".
	Origin string
	Keys   []string
}

// Result holds either a payload or a failure, never both. Build it with
// Success or Failure.
type Result struct {
	Payload []byte
	Failure FailureKind
	Err     error

	// Attempts is the number of origin calls made, at most 2.
	Attempts int
	// Refreshes is the number of token refreshes this fetch triggered.
	Refreshes int
}

func Success(payload []byte) Result {
	return Result{Payload: payload}
}

func Failure(kind FailureKind, err error) Result {
	assert.NotEmptyStr(string(kind))
	if err == nil {
		err = &FetchError{Kind: kind}
	}
	return Result{Failure: kind, Err: err}
}

func (r Result) Ok() bool {
	return r.Failure == FailureNone
}

// Error returns the failure as an error, nil on success.
func (r Result) Error() error {
	if r.Ok() {
		return nil
	}
	var fetchErr *FetchError
	if errors.As(r.Err, &fetchErr) && fetchErr.Kind == r.Failure {
		return r.Err
	}
	return &FetchError{Kind: r.Failure, Err: r.Err}
}

// Fetcher performs queries against the origin of one Manager, refreshing
// the token and retrying once when a response looks like an expired session.
type Fetcher struct {
	manager *Manager
	tel     telemetry.API

	outcomeCounter metric.Int64Counter
}

func NewFetcher(manager *Manager, tel telemetry.API) *Fetcher {
	assert.NotNil(manager)
	assert.NotNil(tel)

	outcomeCounter, _ := meter.Int64Counter(
		"session.fetches",
		metric.WithDescription("fetch results by origin and outcome"),
	)
	return &Fetcher{
		manager:        manager,
		tel:            telemetry.NewScopedAPI(fmt.Sprintf("fetcher(%s)", manager.origin.Name), tel),
		outcomeCounter: outcomeCounter,
	}
}

// Manager returns the session manager the fetcher borrows from.
func (f *Fetcher) Manager() *Manager {
	return f.manager
}

// Fetch queries the bound origin for the given keys.
func (f *Fetcher) Fetch(ctx context.Context, keys ...string) Result {
	return f.Do(ctx, FetchRequest{Keys: keys})
}

func (f *Fetcher) Do(ctx context.Context, req FetchRequest) Result {
	ctx, span := tracer.Start(ctx, "fetcher:fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("origin", f.manager.origin.Name),
		attribute.StringSlice("keys", req.Keys),
	)

	result := f.fetch(ctx, req)

	outcome := "ok"
	if !result.Ok() {
		outcome = string(result.Failure)
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(
		attribute.Int("attempts", result.Attempts),
		attribute.Int("refreshes", result.Refreshes),
	)
	f.outcomeCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin", f.manager.origin.Name),
		attribute.String("outcome", outcome),
	))
	return result
}

func (f *Fetcher) fetch(ctx context.Context, req FetchRequest) Result {
	origin := f.manager.origin
	if !origin.Matches(req.Origin) {
		return Failure(FailureTransport, fmt.Errorf("%w: %s != %s", ErrOriginMismatch, req.Origin, origin.Name))
	}
	if len(req.Keys) == 0 {
		return Failure(FailureNotFound, ErrNoKeys)
	}
	body, err := origin.Body(req.Keys)
	if err != nil {
		return Failure(FailureTransport, fmt.Errorf("build body: %w", err))
	}

	refreshes := 0

	resource, err := f.manager.GetResource(ctx)
	if resource == nil {
		if err == nil {
			err = ErrSessionUnavailable
		}
		return withCounts(Failure(KindOf(err), err), 0, refreshes)
	}

	if !resource.Valid() {
		f.tel.ReportDebug("resource invalid, refreshing", resource.ID)
		refreshed, refreshErr := f.manager.renew(ctx, "")
		if refreshed {
			refreshes++
		}
		// a strategy timing out inside the refresh is not the caller giving up
		if ctx.Err() != nil {
			return withCounts(Failure(FailureTransport, errors.Join(ctx.Err(), refreshErr)), 0, refreshes)
		}
		_, resource = f.manager.current()
		if !resource.Valid() {
			return withCounts(unavailable(refreshErr), 0, refreshes)
		}
	}

	out, err := f.attempt(ctx, origin, body)
	attempts := 1
	if err != nil {
		return withCounts(Failure(KindOf(err), err), attempts, refreshes)
	}

	if out.verdict == VerdictStale {
		f.tel.ReportWarning(report_fetcher_fetch, "stale response, refreshing token", out.reason)

		refreshed, err := f.manager.renew(ctx, out.token)
		if refreshed {
			refreshes++
		}
		if err != nil {
			return withCounts(Failure(KindOf(err), err), attempts, refreshes)
		}

		out, err = f.attempt(ctx, origin, body)
		attempts++
		if err != nil {
			return withCounts(Failure(KindOf(err), err), attempts, refreshes)
		}
		if out.verdict == VerdictStale {
			f.tel.ReportWarning(report_fetcher_fetch, "still stale after refresh", out.reason)
			return withCounts(
				Failure(FailureEmptyResponse, fmt.Errorf("implausible response after refresh: %s", out.reason)),
				attempts, refreshes,
			)
		}
	}

	switch out.verdict {
	case VerdictOk:
		f.tel.ReportDebug("fetched", len(req.Keys), len(out.res.Body))
		return withCounts(Success(out.res.Body), attempts, refreshes)
	case VerdictNotFound:
		return withCounts(
			Failure(FailureNotFound, fmt.Errorf("origin has no data: %s", out.reason)),
			attempts, refreshes,
		)
	default:
		err := fmt.Errorf("origin call failed: %s", out.reason)
		f.tel.ReportBroken(report_fetcher_fetch, err)
		return withCounts(Failure(FailureTransport, err), attempts, refreshes)
	}
}

type outcome struct {
	verdict Verdict
	reason  string
	res     Response
	// token is the one the request was sent with.
	token string
}

func (f *Fetcher) attempt(ctx context.Context, origin Origin, body []byte) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, origin.RequestTimeout)
	defer cancel()

	var out outcome
	res, err := f.manager.Do(ctx, func(token string) (Request, error) {
		out.token = token
		headers := map[string]string{}
		for k, v := range origin.Headers {
			headers[k] = v
		}
		headers[origin.TokenHeader] = token
		return Request{
			Method:  http.MethodPost,
			Url:     origin.Resolve(origin.QueryPath),
			Headers: headers,
			Body:    body,
		}, nil
	})
	if err != nil {
		return outcome{}, err
	}

	out.res = res
	out.verdict, out.reason = origin.Classifier.Classify(res)
	return out, nil
}

func unavailable(refreshErr error) Result {
	kind := KindOf(refreshErr)
	switch kind {
	case FailureTokenNotFound, FailureTransport:
		return Failure(kind, refreshErr)
	}
	if refreshErr == nil {
		return Failure(FailureSessionUnavailable, ErrSessionUnavailable)
	}
	return Failure(FailureSessionUnavailable, fmt.Errorf("%w: %w", ErrSessionUnavailable, refreshErr))
}

func withCounts(r Result, attempts, refreshes int) Result {
	r.Attempts = attempts
	r.Refreshes = refreshes
	return r
}
