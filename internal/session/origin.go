package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTokenTimeout   = time.Second * 15
	DefaultRequestTimeout = time.Second * 30
	DefaultTokenHeader    = "X-CSRF-TOKEN"
)

// BodyBuilder turns the target keys of one fetch into the request payload,
// every key must end up in the same payload.
type BodyBuilder func(keys []string) ([]byte, error)

// JsonBody builds a BodyBuilder out of a function returning any json
// serializable value.
func JsonBody(build func(keys []string) any) BodyBuilder {
	return func(keys []string) ([]byte, error) {
		return json.Marshal(build(keys))
	}
}

// Origin describes the upstream a session is valid for: where the token is
// bootstrapped from, how it is extracted, and how queries are sent.
type Origin struct {
	// Name is a short stable identifier, used for routing and telemetry.
	Name    string
	BaseUrl string
	// BootstrapPath is the document the token is embedded in.
	BootstrapPath string
	// QueryPath is the endpoint the batched query is POSTed to.
	QueryPath string
	// TokenHeader is the request header the token is echoed back in.
	TokenHeader string
	// Headers are sent on every query, the xhr marker and content type go here.
	Headers map[string]string
	// TokenStrategies are tried in order, the first non-empty token wins.
	TokenStrategies []TokenStrategy
	Body            BodyBuilder
	Classifier      Classifier

	TokenTimeout   time.Duration
	RequestTimeout time.Duration
}

// Validate fills in defaults and rejects unusable origins.
func (o *Origin) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("origin: name is required")
	}
	base, err := url.Parse(o.BaseUrl)
	if err != nil {
		return fmt.Errorf("origin %s: base url: %w", o.Name, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("origin %s: base url must be absolute, got %q", o.Name, o.BaseUrl)
	}
	if o.QueryPath == "" {
		return fmt.Errorf("origin %s: query path is required", o.Name)
	}
	if len(o.TokenStrategies) == 0 {
		return fmt.Errorf("origin %s: at least one token strategy is required", o.Name)
	}
	if o.Body == nil {
		return fmt.Errorf("origin %s: body builder is required", o.Name)
	}
	if o.TokenHeader == "" {
		o.TokenHeader = DefaultTokenHeader
	}
	if o.TokenTimeout <= 0 {
		o.TokenTimeout = DefaultTokenTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return nil
}

// Authority is the host[:port] the session's token is valid for.
func (o Origin) Authority() string {
	base, err := url.Parse(o.BaseUrl)
	if err != nil {
		return ""
	}
	return strings.ToLower(base.Host)
}

// Resolve turns a path into an absolute url on this origin.
func (o Origin) Resolve(path string) string {
	base, err := url.Parse(o.BaseUrl)
	if err != nil {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return base.ResolveReference(ref).String()
}

// Matches reports whether `origin` names this origin, either by name or by
// authority. An empty string matches.
func (o Origin) Matches(origin string) bool {
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	if origin == strings.ToLower(o.Name) || origin == o.Authority() {
		return true
	}
	parsed, err := url.Parse(origin)
	return err == nil && parsed.Host != "" && strings.ToLower(parsed.Host) == o.Authority()
}
