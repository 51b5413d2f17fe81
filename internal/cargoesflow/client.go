// Package cargoesflow is a client for the Cargoes Flow shipment tracking
// API, the first tier of every lookup.
package cargoesflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/lib/configutil"
	"cargotrack-backend/lib/textutil"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	report_client_lookup = "client.lookup"
)

const (
	DefaultTimeout  = time.Second * 15
	DefaultAttempts = 3
	// DefaultUserAgent keeps the api's cloudflare front from challenging
	// the request.
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	NotAvailable = "N/A"
)

var (
	ErrNotConfigured = errors.New("cargoesflow: api url or credentials missing")
	ErrNotFound      = errors.New("cargoesflow: shipment not found")
	ErrUnauthorized  = errors.New("cargoesflow: authorization failed")
)

type Config struct {
	ApiUrl   string              `json:"api_url"`
	ApiKey   string              `json:"api_key"`
	OrgToken string              `json:"org_token"`
	Timeout  configutil.Duration `json:"timeout"`
	Attempts uint                `json:"attempts"`
	// RetryDelay is the first backoff delay, it doubles on every retry.
	RetryDelay configutil.Duration `json:"retry_delay"`
}

// FromEnv fills the credentials from CARGOES_FLOW_API_URL,
// CARGOES_FLOW_API_KEY and CARGOES_FLOW_ORG_TOKEN when set.
func (c *Config) FromEnv() {
	configutil.EnvOverride(&c.ApiUrl, "CARGOES_FLOW_API_URL")
	configutil.EnvOverride(&c.ApiKey, "CARGOES_FLOW_API_KEY")
	configutil.EnvOverride(&c.OrgToken, "CARGOES_FLOW_ORG_TOKEN")
}

func (c Config) Configured() bool {
	return c.ApiUrl != "" && c.ApiKey != "" && c.OrgToken != ""
}

// Shipment is the subset of a Cargoes Flow shipment the tracker uses.
type Shipment struct {
	Container string `json:"container"`
	Carrier   string `json:"carrier"`
	ETA       string `json:"eta"`
	CO2       string `json:"co2"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
	// Raw is the full shipment object as returned by the api.
	Raw json.RawMessage `json:"raw"`
}

type Client struct {
	http *resty.Client
	cfg  Config
	tel  telemetry.API
}

func NewClient(cfg Config, tel telemetry.API, output telemetry.MessageOutput) *Client {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("cargoesflow", tel)

	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout.Or(DefaultTimeout))
	client.SetHeaders(map[string]string{
		"X-DPW-ApiKey":    cfg.ApiKey,
		"X-DPW-Org-Token": cfg.OrgToken,
		"Content-Type":    "application/json",
		"User-Agent":      DefaultUserAgent,
	})
	telemetry.InstrumentResty(client, tel, output)

	return &Client{http: client, cfg: cfg, tel: tel}
}

func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// Lookup returns the first shipment carrying the container number.
func (c *Client) Lookup(ctx context.Context, containerNumber string) (Shipment, error) {
	if !c.cfg.Configured() {
		return Shipment{}, ErrNotConfigured
	}
	clean := textutil.CleanContainerNumber(containerNumber)

	var body []byte
	err := retry.Do(
		func() error {
			res, err := c.http.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"shipmentType":            "INTERMODAL_SHIPMENT",
					"containerNumber":         clean,
					"includeUniqueContainers": "true",
					"_limit":                  "20",
				}).
				Get(c.cfg.ApiUrl)
			if err != nil {
				if ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}
			switch {
			case res.StatusCode() == http.StatusOK:
				body = res.Body()
				return nil
			case res.StatusCode() == http.StatusNotFound:
				return retry.Unrecoverable(ErrNotFound)
			case res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden:
				return retry.Unrecoverable(ErrUnauthorized)
			case res.StatusCode() >= 500:
				return fmt.Errorf("cargoesflow: %s", res.Status())
			}
			return retry.Unrecoverable(fmt.Errorf("cargoesflow: unexpected %s: %s", res.Status(), textutil.Truncate(res.String(), 200)))
		},
		retry.Context(ctx),
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(c.cfg.RetryDelay.Or(time.Second)),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.tel.ReportDebug("retrying lookup", clean, n+1, err)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			c.tel.ReportBroken(report_client_lookup, err)
		} else if !errors.Is(err, ErrNotFound) {
			c.tel.ReportWarning(report_client_lookup, clean, err)
		}
		return Shipment{}, err
	}

	shipment, err := ParseShipments(clean, body)
	if err != nil {
		return Shipment{}, err
	}
	c.tel.ReportDebug("shipment found", clean, shipment.Status)
	return shipment, nil
}

// ParseShipments picks the first shipment of a list response.
func ParseShipments(container string, body []byte) (Shipment, error) {
	if !gjson.ValidBytes(body) {
		return Shipment{}, fmt.Errorf("cargoesflow: invalid json response")
	}
	list := gjson.ParseBytes(body)
	if !list.IsArray() || len(list.Array()) == 0 {
		return Shipment{}, ErrNotFound
	}
	first := list.Array()[0]

	eta := first.Get("destinationOceanPortEta").String()
	if eta == "" {
		eta = first.Get("promisedEta").String()
	}
	if eta == "" {
		eta = NotAvailable
	}

	return Shipment{
		Container: container,
		Carrier:   orDefault(first.Get("carrierScac").String(), "Unknown"),
		ETA:       eta,
		CO2:       formatCO2(first.Get("emissions.co2e")),
		Status:    orDefault(first.Get("status").String(), "Unknown"),
		SubStatus: first.Get("subStatus1").String(),
		Raw:       json.RawMessage(first.Raw),
	}, nil
}

func formatCO2(co2e gjson.Result) string {
	value := co2e.Get("value")
	switch {
	case !value.Exists(), value.Type == gjson.Null:
		return NotAvailable
	case value.Type == gjson.Number && value.Num == 0:
		return NotAvailable
	case value.Type == gjson.String && value.Str == "":
		return NotAvailable
	}
	unit := orDefault(co2e.Get("unit").String(), "kg")
	if value.Type == gjson.Number {
		return fmt.Sprintf("%s %s", value.Raw, unit)
	}
	return fmt.Sprintf("%s %s", value.String(), unit)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
