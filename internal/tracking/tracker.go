// Package tracking answers "where is this container": the Cargoes Flow api
// first, then the carrier's driver read by the normaliser.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cargotrack-backend/internal/cargoesflow"
	"cargotrack-backend/internal/carriers"
	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/chrono"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/db"
	"cargotrack-backend/internal/normalize"
	"cargotrack-backend/lib/lookupstore"
	"cargotrack-backend/lib/textutil"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	report_tracker_driver  = "tracker.driver"
	report_tracker_history = "tracker.history"
)

const (
	DefaultCacheSize = 2048
	DefaultCacheTTL  = 15 * time.Minute
	// FanOut bounds the concurrent api lookups and model calls of a batch.
	FanOut = 4

	SourceAPI    = "Source: Cargoes Flow API"
	SourceDriver = "Source: Official Driver"

	StatusNotFound  = "Not Found"
	NotFoundMessage = "Container not found in API, and no Official Driver available."
)

var (
	ErrInvalidNumber = errors.New("tracking: empty tracking number")
	ErrNoHistory     = errors.New("tracking: lookup history is disabled")
)

var meter = otel.Meter("cargotrack/tracking")

// ShipmentAPI is the first tier, implemented by cargoesflow.Client.
type ShipmentAPI interface {
	Configured() bool
	Lookup(ctx context.Context, containerNumber string) (cargoesflow.Shipment, error)
}

// Drivers routes a carrier name to its driver, implemented by
// carriers.Registry.
type Drivers interface {
	Lookup(carrier string) (carriers.Scraper, bool)
}

// History is implemented by lookupstore.Store.
type History interface {
	Record(ctx context.Context, entries ...lookupstore.Entry) error
	History(ctx context.Context, trackingNumber string, limit int) ([]lookupstore.Entry, error)
}

type Request struct {
	Number  string
	Carrier string
	// SystemETA is the ETA the requester has on file, optional.
	SystemETA string
}

type BatchRequest struct {
	Numbers   []string
	Carrier   string
	SystemETA string
}

// Response is the answer for one container. Found results fill the fields
// from TrackingNumber to RawDataSnippet, misses fill Source and Message.
type Response struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
	Status         string `json:"status"`
	LiveETA        string `json:"live_eta,omitempty"`
	SmartSummary   string `json:"smart_summary,omitempty"`
	RawDataSnippet string `json:"raw_data_snippet,omitempty"`

	// SystemETA is the requested ETA written as DD/MM/YYYY, ETAShiftDays the
	// days between it and the live ETA when both are dates.
	SystemETA    string `json:"system_eta,omitempty"`
	ETAShiftDays *int   `json:"eta_shift_days,omitempty"`

	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r Response) Found() bool {
	return r.Status != StatusNotFound
}

func notFound(number string) Response {
	return Response{
		TrackingNumber: number,
		Source:         "System",
		Status:         StatusNotFound,
		Message:        NotFoundMessage,
	}
}

type Options struct {
	API        ShipmentAPI
	Drivers    Drivers
	Normalizer normalize.Normalizer
	// History is optional.
	History History
	Tel     telemetry.API
	Time    chrono.TimeAPI

	CacheSize int
	CacheTTL  time.Duration
}

type Tracker struct {
	api        ShipmentAPI
	drivers    Drivers
	normalizer normalize.Normalizer
	history    History
	tel        telemetry.API
	time       chrono.TimeAPI

	cache *expirable.LRU[string, Response]

	lookupCounter metric.Int64Counter
}

func NewTracker(opts Options) *Tracker {
	assert.NotNil(opts.API)
	assert.NotNil(opts.Drivers)
	assert.NotNil(opts.Normalizer)
	assert.NotNil(opts.Tel)

	clock := opts.Time
	if clock == nil {
		clock = chrono.NewStandardTime(nil)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	lookupCounter, _ := meter.Int64Counter(
		"tracking.lookups",
		metric.WithDescription("container lookups by the tier that answered them"),
	)

	return &Tracker{
		api:           opts.API,
		drivers:       opts.Drivers,
		normalizer:    opts.Normalizer,
		history:       opts.History,
		tel:           telemetry.NewScopedAPI("tracking", opts.Tel),
		time:          clock,
		cache:         expirable.NewLRU[string, Response](size, nil, ttl),
		lookupCounter: lookupCounter,
	}
}

func cacheKey(number, carrier string) string {
	return number + "|" + textutil.NormalizeName(carrier)
}

// Track looks up one container. Only an empty number is an error, every
// other failure ends in a Not Found response.
func (t *Tracker) Track(ctx context.Context, req Request) (Response, error) {
	number := textutil.CleanContainerNumber(req.Number)
	if number == "" {
		return Response{}, ErrInvalidNumber
	}
	if cached, hit := t.cache.Get(cacheKey(number, req.Carrier)); hit {
		return cached, nil
	}

	res, found := t.fromAPI(ctx, number, req.Carrier)
	source := db.SOURCE_API
	if !found {
		source = db.SOURCE_DRIVER
		res, found = t.fromDriver(ctx, req.Carrier, req.SystemETA, []string{number})[number]
	}
	if !found {
		source = db.SOURCE_NOTFOUND
		res = notFound(number)
	}
	res = t.finish(res, req.SystemETA)
	t.settle(ctx, req.Carrier, source, res)
	return res, nil
}

// TrackBatch looks up many containers of one carrier. Numbers the api does
// not know go to the driver in a single call, the responses follow the
// order of the (cleaned, deduplicated) numbers.
func (t *Tracker) TrackBatch(ctx context.Context, req BatchRequest) ([]Response, error) {
	var numbers []string
	seen := map[string]bool{}
	for _, n := range req.Numbers {
		clean := textutil.CleanContainerNumber(n)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		numbers = append(numbers, clean)
	}
	if len(numbers) == 0 {
		return nil, ErrInvalidNumber
	}

	results := make([]Response, len(numbers))
	sources := make([]db.Source, len(numbers))
	pending := make([]bool, len(numbers))

	var group errgroup.Group
	group.SetLimit(FanOut)
	for i, number := range numbers {
		if cached, hit := t.cache.Get(cacheKey(number, req.Carrier)); hit {
			results[i] = cached
			continue
		}
		pending[i] = true
		group.Go(func() error {
			res, found := t.fromAPI(ctx, number, req.Carrier)
			if found {
				results[i] = res
				sources[i] = db.SOURCE_API
				pending[i] = false
			}
			return nil
		})
	}
	group.Wait()

	var remaining []string
	for i, number := range numbers {
		if pending[i] {
			remaining = append(remaining, number)
		}
	}
	driven := t.fromDriver(ctx, req.Carrier, req.SystemETA, remaining)

	for i, number := range numbers {
		if !pending[i] {
			if sources[i] == "" {
				// cache hit
				continue
			}
		} else if res, ok := driven[number]; ok {
			results[i] = res
			sources[i] = db.SOURCE_DRIVER
		} else {
			results[i] = notFound(number)
			sources[i] = db.SOURCE_NOTFOUND
		}
		results[i] = t.finish(results[i], req.SystemETA)
		t.settle(ctx, req.Carrier, sources[i], results[i])
	}
	return results, nil
}

func (t *Tracker) fromAPI(ctx context.Context, number, carrier string) (Response, bool) {
	if !t.api.Configured() {
		return Response{}, false
	}
	shipment, err := t.api.Lookup(ctx, number)
	if errors.Is(err, cargoesflow.ErrNotFound) {
		return Response{}, false
	}
	if err != nil {
		t.tel.ReportDebug("api tier failed", number, err)
		return Response{}, false
	}
	return Response{
		TrackingNumber: number,
		Carrier:        carrier,
		Status:         shipment.Status,
		LiveETA:        shipment.ETA,
		SmartSummary:   fmt.Sprintf("API Status: %s. CO2: %s", shipment.SubStatus, shipment.CO2),
		RawDataSnippet: SourceAPI,
	}, true
}

// fromDriver sends every number to the carrier's driver in one call and
// normalises the payload once per number. Numbers missing from the result
// had no usable answer.
func (t *Tracker) fromDriver(ctx context.Context, carrier, systemEta string, numbers []string) map[string]Response {
	out := map[string]Response{}
	if len(numbers) == 0 {
		return out
	}
	scraper, ok := t.drivers.Lookup(carrier)
	if !ok {
		return out
	}

	result := scraper.Track(ctx, numbers)
	if !result.Ok() {
		t.tel.ReportWarning(report_tracker_driver, scraper.Name(), strings.Join(numbers, ","), result.Error())
		return out
	}

	holidays := ""
	if _, ok := normalize.ParseDate(systemEta); ok {
		holidays = normalize.HolidaysBetweenDates(t.time.Now().Format(time.DateOnly), systemEta).Summary()
	}

	summaries := make([]normalize.Summary, len(numbers))
	var group errgroup.Group
	group.SetLimit(FanOut)
	for i, number := range numbers {
		in := normalize.Input{
			Carrier:   carrier,
			SystemETA: systemEta,
			Holidays:  holidays,
			Payload:   result.Payload,
		}
		if len(numbers) > 1 {
			in.Container = number
		}
		group.Go(func() error {
			// the normaliser always returns a usable summary
			summaries[i], _ = t.normalizer.Normalize(ctx, in)
			return nil
		})
	}
	group.Wait()

	for i, number := range numbers {
		out[number] = Response{
			TrackingNumber: number,
			Carrier:        carrier,
			Status:         summaries[i].Status,
			LiveETA:        summaries[i].LatestDate,
			SmartSummary:   summaries[i].Summary,
			RawDataSnippet: SourceDriver,
		}
	}
	return out
}

func (t *Tracker) finish(res Response, systemEta string) Response {
	if !res.Found() || systemEta == "" {
		return res
	}
	standard := normalize.StandardizeDate(systemEta)
	if standard == normalize.NotAvailable {
		return res
	}
	res.SystemETA = standard
	if days, ok := normalize.DaysBetween(systemEta, res.LiveETA); ok {
		res.ETAShiftDays = &days
	}
	return res
}

// settle caches found answers, records the lookup and counts it.
func (t *Tracker) settle(ctx context.Context, carrier string, source db.Source, res Response) {
	t.lookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(source))))

	if res.Found() && res.Status != normalize.FailedSummary.Status {
		t.cache.Add(cacheKey(res.TrackingNumber, carrier), res)
	}
	if t.history == nil {
		return
	}
	summary := res.SmartSummary
	if !res.Found() {
		summary = res.Message
	}
	err := t.history.Record(ctx, lookupstore.Entry{
		Time:           t.time.Now(),
		TrackingNumber: res.TrackingNumber,
		Carrier:        carrier,
		Source:         source,
		Status:         res.Status,
		LiveETA:        res.LiveETA,
		Summary:        summary,
	})
	if err != nil {
		t.tel.ReportWarning(report_tracker_history, res.TrackingNumber, err)
	}
}

// History returns the recorded lookups of a number, newest first.
func (t *Tracker) History(ctx context.Context, number string, limit int) ([]lookupstore.Entry, error) {
	if t.history == nil {
		return nil, ErrNoHistory
	}
	clean := textutil.CleanContainerNumber(number)
	if clean == "" {
		return nil, ErrInvalidNumber
	}
	return t.history.History(ctx, clean, limit)
}
