// Package normalize turns raw carrier payloads into a status, a latest ETA
// and a short summary with a chat completion model.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/chrono"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/lib/configutil"
	"cargotrack-backend/lib/htmlutil"
	"cargotrack-backend/lib/textutil"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	report_normalizer_normalize = "normalizer.normalize"
)

const (
	DefaultModel   = openai.ChatModelGPT4oMini
	DefaultTimeout = 30 * time.Second

	// MinPayloadLength is the shortest payload worth sending to the model.
	MinPayloadLength = 50
	// MaxPayloadLength bounds the data section of the prompt.
	MaxPayloadLength = 4000

	StatusDelivered = "Delivered"
	StatusArrived   = "Arrived at Port"
	StatusInTransit = "In Transit"
	StatusDelayed   = "Delayed"
)

var (
	ErrNoData        = errors.New("normalize: payload too short to analyze")
	ErrNotConfigured = errors.New("normalize: no api key")
)

// Summary is the model's reading of a payload.
type Summary struct {
	LatestDate string `json:"latest_date"`
	Status     string `json:"status"`
	Summary    string `json:"summary"`
}

var (
	NoDataSummary = Summary{LatestDate: NotAvailable, Status: "Error", Summary: "No data extracted."}
	FailedSummary = Summary{LatestDate: "Error", Status: "AI Failed", Summary: "Error analyzing data."}
)

type Input struct {
	// Container is set when the payload covers more containers than the one
	// being asked about.
	Container string
	Carrier   string
	SystemETA string
	LiveETA   string
	// Holidays is the holiday line between the system and live ETA, see
	// HolidaySpan.Summary.
	Holidays string
	Payload  []byte
}

// Normalizer is implemented by Client, the tracker only depends on this.
type Normalizer interface {
	Normalize(ctx context.Context, in Input) (Summary, error)
}

type Config struct {
	ApiKey  string              `json:"api_key"`
	BaseUrl string              `json:"base_url"`
	Model   string              `json:"model"`
	Timeout configutil.Duration `json:"timeout"`
}

// FromEnv reads OPENAI_API_KEY and OPENAI_BASE_URL when set.
func (c *Config) FromEnv() {
	configutil.EnvOverride(&c.ApiKey, "OPENAI_API_KEY")
	configutil.EnvOverride(&c.BaseUrl, "OPENAI_BASE_URL")
}

type Client struct {
	client openai.Client
	model  openai.ChatModel
	apiKey string
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewClient(cfg Config, clock chrono.TimeAPI, tel telemetry.API) *Client {
	assert.NotNil(clock)
	assert.NotNil(tel)

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.ApiKey),
		option.WithRequestTimeout(cfg.Timeout.Or(DefaultTimeout)),
		option.WithMaxRetries(1),
	}
	if cfg.BaseUrl != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseUrl))
	}
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
		apiKey: cfg.ApiKey,
		time:   clock,
		tel:    telemetry.NewScopedAPI("normalize", tel),
	}
}

// Normalize asks the model for the status of the payload. Whenever it
// fails, the returned summary is still usable (NoDataSummary or
// FailedSummary) and the error says why.
func (c *Client) Normalize(ctx context.Context, in Input) (Summary, error) {
	text := PreparePayload(in.Payload)
	if len(text) < MinPayloadLength {
		return NoDataSummary, ErrNoData
	}
	if c.apiKey == "" {
		return FailedSummary, ErrNotConfigured
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(c.time.Now())),
			openai.UserMessage(UserPrompt(in, text)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		c.tel.ReportBroken(report_normalizer_normalize, err, in.Carrier)
		return FailedSummary, err
	}
	if len(completion.Choices) == 0 {
		err = fmt.Errorf("normalize: completion without choices")
		c.tel.ReportBroken(report_normalizer_normalize, err, in.Carrier)
		return FailedSummary, err
	}

	summary, err := ParseSummary(completion.Choices[0].Message.Content)
	if err != nil {
		c.tel.ReportBroken(report_normalizer_normalize, err, in.Carrier)
		return FailedSummary, err
	}
	c.tel.ReportDebug("normalized payload", in.Carrier, summary.Status, summary.LatestDate)
	return summary, nil
}

// ParseSummary reads the model's json answer.
func ParseSummary(content string) (Summary, error) {
	var out Summary
	err := json.Unmarshal([]byte(content), &out)
	if err != nil {
		return Summary{}, fmt.Errorf("normalize: parse answer: %w", err)
	}
	if out.Status == "" {
		return Summary{}, fmt.Errorf("normalize: answer has no status: %s", textutil.Truncate(content, 200))
	}
	if out.LatestDate == "" {
		out.LatestDate = NotAvailable
	}
	return out, nil
}

// PreparePayload turns html into its visible text and compacts json, other
// payloads are passed through trimmed.
func PreparePayload(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if json.Compact(&buf, trimmed) == nil {
			return buf.String()
		}
	}
	text := string(trimmed)
	if htmlutil.LooksLikeHtml(text) {
		visible, err := htmlutil.VisibleText(text)
		if err == nil {
			return visible
		}
	}
	return text
}

const holidayContext = `MAJOR HOLIDAYS (India & France) to consider for delays:
- Jan 1: New Year
- Jan 26: Republic Day (IN)
- May 1: Labor Day (FR)
- May 8: Victory Day (FR)
- Jul 14: Bastille Day (FR)
- Aug 15: Independence (IN) / Assumption (FR)
- Oct 2: Gandhi Jayanti (IN)
- Nov 1: All Saints (FR)
- Nov 11: Armistice (FR)
- Dec 25: Christmas
- Floating: Diwali, Holi, Eid (see the holiday info of the request)`

const systemPromptTemplate = `You are a Logistics Data Auditor.
Your job is to determine the REAL STATUS and provide a BUSINESS CONTEXT SUMMARY.

CURRENT DATE: %s

%s

INPUT DATA:
You will receive raw tracking text or JSON.

LOGIC RULES:
1. LIVE ETA:
   - Parse the Estimated Arrival at the FINAL DESTINATION (e.g., Antwerp, Le Havre).
   - Format: DD-MMM-YYYY (e.g., 15-Jan-2026).
   - If no arrival date is present, output "N/A".

2. STATUS, exactly one of:
   - "Delivered": If delivered to consignee.
   - "Arrived at Port": If discharged at final port but not delivered.
   - "In Transit": If ETA is in the FUTURE.
   - "Delayed": If ETA is in the PAST (by >2 days) and not arrived.

3. SMART SUMMARY:
   - Keep it under 15 words.
   - Mention if the shipment is Early, On Time, or Late.
   - If the ETA falls near a holiday, add a note: "Possible delay due to [Holiday]."
   - Example: "Arrived early at Antwerp. Clearance pending."
   - Example: "In Transit. ETA 26-Jan (Republic Day IN holiday risk)."

JSON OUTPUT FORMAT:
{
  "latest_date": "string",
  "status": "string",
  "summary": "string"
}`

func SystemPrompt(now time.Time) string {
	return fmt.Sprintf(systemPromptTemplate, now.Format("02-Jan-2006"), holidayContext)
}

func UserPrompt(in Input, text string) string {
	systemEta := orNotAvailable(in.SystemETA)
	liveEta := orNotAvailable(in.LiveETA)
	holidays := in.Holidays
	if holidays == "" {
		holidays = "No holidays between dates"
	}

	var b strings.Builder
	if in.Container != "" {
		fmt.Fprintf(&b, "Container: %s\n", in.Container)
	}
	fmt.Fprintf(&b, "Carrier: %s\n", in.Carrier)
	fmt.Fprintf(&b, "System ETA: %s\n", systemEta)
	fmt.Fprintf(&b, "Live ETA (if known): %s\n", liveEta)
	fmt.Fprintf(&b, "Holiday Info (between system and live ETA): %s\n\n", holidays)
	b.WriteString("Data:\n")
	b.WriteString(textutil.Truncate(text, MaxPayloadLength))
	return b.String()
}

func orNotAvailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}
