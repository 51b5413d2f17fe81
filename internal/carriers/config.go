package carriers

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/internal/transport/httpclient"
	"cargotrack-backend/internal/transport/pwtransport"
	"cargotrack-backend/internal/transport/rodtransport"
	"cargotrack-backend/lib/configutil"
)

const (
	TransportPlaywright = "playwright"
	TransportRod        = "rod"
	TransportHttp       = "http"
)

type TransportConfig struct {
	// Kind is one of "playwright" (default), "rod" or "http".
	Kind     string `json:"kind"`
	Headless *bool  `json:"headless"`
	// Install downloads the playwright driver and browsers when missing.
	Install bool     `json:"install"`
	Args    []string `json:"args"`
	// DebuggerUrl attaches the rod transport to a running browser.
	DebuggerUrl       string  `json:"debugger_url"`
	Bin               string  `json:"bin"`
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

// OriginConfig describes a carrier origin in config.json5.
type OriginConfig struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`

	BaseUrl       string            `json:"base_url"`
	BootstrapPath string            `json:"bootstrap_path"`
	QueryPath     string            `json:"query_path"`
	TokenHeader   string            `json:"token_header"`
	Headers       map[string]string `json:"headers"`

	// TokenMeta is the name of a csrf meta tag, it sets up the meta lookup
	// and the matching html pattern.
	TokenMeta string `json:"token_meta"`
	// TokenSelector/TokenAttribute and TokenPattern are used instead of (or
	// after) TokenMeta.
	TokenSelector  string `json:"token_selector"`
	TokenAttribute string `json:"token_attribute"`
	TokenPattern   string `json:"token_pattern"`

	// BodyTemplate is the json query, the keys are written to KeysField.
	BodyTemplate map[string]any `json:"body_template"`
	KeysField    string         `json:"keys_field"`

	StaleMarkers     []string `json:"stale_markers"`
	NotFoundMarkers  []string `json:"not_found_markers"`
	ErrorMarkers     []string `json:"error_markers"`
	MinPayloadLength int      `json:"min_payload_length"`
	ResultPath       string   `json:"result_path"`

	TokenTimeout   configutil.Duration `json:"token_timeout"`
	RequestTimeout configutil.Duration `json:"request_timeout"`

	Transport TransportConfig `json:"transport"`
	Disabled  bool            `json:"disabled"`
}

// Strategies builds the ordered token strategies.
func (c OriginConfig) Strategies() ([]session.TokenStrategy, error) {
	var out []session.TokenStrategy
	if c.TokenMeta != "" {
		out = append(out, session.CsrfStrategies(c.TokenMeta)...)
	}
	if c.TokenSelector != "" {
		attr := c.TokenAttribute
		if attr == "" {
			attr = "content"
		}
		out = append(out, session.StructuredLookup{Selector: c.TokenSelector, Attribute: attr})
	}
	if c.TokenPattern != "" {
		p, err := session.NewPatternMatch(c.TokenPattern)
		if err != nil {
			return nil, fmt.Errorf("origin %s: %w", c.Name, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("origin %s: no token strategy configured", c.Name)
	}
	return out, nil
}

// Body builds a copy of BodyTemplate with the keys set, all keys go into
// the same payload.
func (c OriginConfig) Body() (session.BodyBuilder, error) {
	if c.KeysField == "" {
		return nil, fmt.Errorf("origin %s: keys_field is required", c.Name)
	}
	template := maps.Clone(c.BodyTemplate)
	return func(keys []string) ([]byte, error) {
		body := maps.Clone(template)
		if body == nil {
			body = map[string]any{}
		}
		body[c.KeysField] = keys
		return json.Marshal(body)
	}, nil
}

func (c OriginConfig) Origin() (session.Origin, error) {
	strategies, err := c.Strategies()
	if err != nil {
		return session.Origin{}, err
	}
	body, err := c.Body()
	if err != nil {
		return session.Origin{}, err
	}
	origin := session.Origin{
		Name:            c.Name,
		BaseUrl:         c.BaseUrl,
		BootstrapPath:   c.BootstrapPath,
		QueryPath:       c.QueryPath,
		TokenHeader:     c.TokenHeader,
		Headers:         maps.Clone(c.Headers),
		TokenStrategies: strategies,
		Body:            body,
		Classifier: session.Classifier{
			StaleMarkers:     c.StaleMarkers,
			NotFoundMarkers:  c.NotFoundMarkers,
			ErrorMarkers:     c.ErrorMarkers,
			MinPayloadLength: c.MinPayloadLength,
			ResultPath:       c.ResultPath,
		},
		TokenTimeout:   c.TokenTimeout.Std(),
		RequestTimeout: c.RequestTimeout.Std(),
	}
	err = origin.Validate()
	if err != nil {
		return session.Origin{}, err
	}
	return origin, nil
}

// Launcher creates the launcher for the configured transport kind.
func (c OriginConfig) Launcher(tel telemetry.API, output telemetry.MessageOutput) (session.Launcher, error) {
	t := c.Transport
	headless := true
	if t.Headless != nil {
		headless = *t.Headless
	}

	switch strings.ToLower(t.Kind) {
	case "", TransportPlaywright:
		return pwtransport.NewLauncher(pwtransport.Options{
			Headless:       headless,
			Install:        t.Install,
			UserAgent:      t.UserAgent,
			Args:           t.Args,
			DefaultTimeout: c.RequestTimeout.Or(session.DefaultRequestTimeout),
			Tel:            tel,
		}), nil
	case TransportRod:
		return rodtransport.NewLauncher(rodtransport.Options{
			DebuggerUrl: t.DebuggerUrl,
			Bin:         t.Bin,
			Headless:    headless,
			Tel:         tel,
		}), nil
	case TransportHttp:
		return httpclient.NewLauncher(httpclient.Options{
			BaseUrl:           c.BaseUrl,
			UserAgent:         t.UserAgent,
			RequestsPerSecond: t.RequestsPerSecond,
			Timeout:           c.RequestTimeout.Std(),
			Output:            output,
			Tel:               tel,
		})
	}
	return nil, fmt.Errorf("origin %s: unknown transport %q", c.Name, t.Kind)
}

// Config is the "carriers" section of config.json5.
type Config struct {
	// Origins replaces the built-in presets when non-empty, an entry named
	// like a preset is merged over that preset.
	Origins []OriginConfig `json:"origins"`
}

// Resolve merges the configured origins over the presets.
func (c Config) Resolve() []OriginConfig {
	presets := Presets()
	out := make([]OriginConfig, 0, len(presets)+len(c.Origins))
	seen := map[string]bool{}
	for _, preset := range presets {
		merged := preset
		for _, o := range c.Origins {
			if strings.EqualFold(o.Name, preset.Name) {
				merged = mergeOrigin(preset, o)
			}
		}
		seen[strings.ToLower(preset.Name)] = true
		out = append(out, merged)
	}
	for _, o := range c.Origins {
		if !seen[strings.ToLower(o.Name)] {
			out = append(out, o)
		}
	}
	return out
}

// NewRegistryFromConfig builds a SessionScraper per enabled origin.
func NewRegistryFromConfig(cfg Config, tel telemetry.API, output telemetry.MessageOutput) (*Registry, error) {
	registry := NewRegistry(tel)
	for _, oc := range cfg.Resolve() {
		if oc.Disabled {
			continue
		}
		origin, err := oc.Origin()
		if err != nil {
			return nil, err
		}
		launcher, err := oc.Launcher(tel, output)
		if err != nil {
			return nil, err
		}
		scraper, err := NewSessionScraper(origin, launcher, tel)
		if err != nil {
			return nil, err
		}
		err = registry.Register(scraper, oc.Aliases...)
		if err != nil {
			return nil, err
		}
	}
	return registry, nil
}
