package tracking

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cargotrack-backend/internal/cargoesflow"
	"cargotrack-backend/internal/carriers"
	"cargotrack-backend/internal/components/chrono"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/db"
	"cargotrack-backend/internal/normalize"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/lib/configutil/dbconfig"
	"cargotrack-backend/lib/lookupstore"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	disabled  bool
	shipments map[string]cargoesflow.Shipment
	failing   map[string]error
	lookups   []string
}

func (f *fakeAPI) Configured() bool { return !f.disabled }

func (f *fakeAPI) Lookup(ctx context.Context, number string) (cargoesflow.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, number)
	if err, ok := f.failing[number]; ok {
		return cargoesflow.Shipment{}, err
	}
	s, ok := f.shipments[number]
	if !ok {
		return cargoesflow.Shipment{}, cargoesflow.ErrNotFound
	}
	return s, nil
}

type fakeDriver struct {
	mu     sync.Mutex
	name   string
	calls  [][]string
	result session.Result
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) Track(ctx context.Context, keys []string) session.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(keys))
	return f.result
}

func (f *fakeDriver) WarmUp(ctx context.Context) error  { return nil }
func (f *fakeDriver) Refresh(ctx context.Context) error { return nil }
func (f *fakeDriver) Status() session.Status            { return session.Status{Origin: f.name} }
func (f *fakeDriver) Shutdown() error                   { return nil }

type fakeDrivers map[string]carriers.Scraper

func (f fakeDrivers) Lookup(carrier string) (carriers.Scraper, bool) {
	for name, s := range f {
		if strings.Contains(strings.ToLower(carrier), name) {
			return s, true
		}
	}
	return nil, false
}

type fakeNormalizer struct {
	mu     sync.Mutex
	inputs []normalize.Input
	fail   bool
}

func (f *fakeNormalizer) Normalize(ctx context.Context, in normalize.Input) (normalize.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.fail {
		return normalize.FailedSummary, errors.New("model down")
	}
	return normalize.Summary{
		LatestDate: "12-Jan-2026",
		Status:     normalize.StatusInTransit,
		Summary:    "On time for " + in.Container,
	}, nil
}

type fixture struct {
	api        *fakeAPI
	driver     *fakeDriver
	normalizer *fakeNormalizer
	store      lookupstore.Store
	tel        *telemetry.RecordingAPI
	tracker    *Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sqlite, err := dbconfig.Config{File: ":memory:"}.OpenDB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	store := lookupstore.NewStore(sqlite)
	require.NoError(t, store.Migrate(context.Background()))

	f := fixture{
		api: &fakeAPI{
			shipments: map[string]cargoesflow.Shipment{
				"MSCU1234567": {
					Container: "MSCU1234567",
					Carrier:   "MSCU",
					ETA:       "2026-01-20T00:00:00",
					CO2:       "12 kg",
					Status:    "IN_TRANSIT",
					SubStatus: "Vessel departure",
				},
			},
		},
		driver: &fakeDriver{
			name:   "hmm",
			result: session.Success([]byte(`{"result":[{"cntrNo":"HMMU6012345"},{"cntrNo":"TGBU5550001"}]}`)),
		},
		normalizer: &fakeNormalizer{},
		store:      store,
		tel:        telemetry.NewRecordingAPI(),
	}
	f.tracker = NewTracker(Options{
		API:        f.api,
		Drivers:    fakeDrivers{"hmm": f.driver},
		Normalizer: f.normalizer,
		History:    store,
		Tel:        f.tel,
		Time:       chrono.NewFixedTime(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)),
	})
	return f
}

func TestTrackFromAPI(t *testing.T) {
	f := newFixture(t)

	res, err := f.tracker.Track(context.Background(), Request{Number: "mscu 123-4567", Carrier: "MSC"})
	require.NoError(t, err)
	require.Equal(t, Response{
		TrackingNumber: "MSCU1234567",
		Carrier:        "MSC",
		Status:         "IN_TRANSIT",
		LiveETA:        "2026-01-20T00:00:00",
		SmartSummary:   "API Status: Vessel departure. CO2: 12 kg",
		RawDataSnippet: SourceAPI,
	}, res)
	require.Empty(t, f.driver.calls)
	require.Empty(t, f.normalizer.inputs)

	// the second lookup is served from the cache
	_, err = f.tracker.Track(context.Background(), Request{Number: "MSCU1234567", Carrier: "msc"})
	require.NoError(t, err)
	require.Len(t, f.api.lookups, 1)

	history, err := f.tracker.History(context.Background(), "MSCU1234567", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, db.SOURCE_API, history[0].Source)
}

func TestTrackFromDriver(t *testing.T) {
	f := newFixture(t)

	res, err := f.tracker.Track(context.Background(), Request{
		Number:    "HMMU6012345",
		Carrier:   "HMM",
		SystemETA: "10/01/2026",
	})
	require.NoError(t, err)

	shift := 2
	expected := Response{
		TrackingNumber: "HMMU6012345",
		Carrier:        "HMM",
		Status:         normalize.StatusInTransit,
		LiveETA:        "12-Jan-2026",
		SmartSummary:   "On time for ",
		RawDataSnippet: SourceDriver,
		SystemETA:      "10/01/2026",
		ETAShiftDays:   &shift,
	}
	if diff := cmp.Diff(expected, res); diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, [][]string{{"HMMU6012345"}}, f.driver.calls)
	require.Len(t, f.normalizer.inputs, 1)
	in := f.normalizer.inputs[0]
	require.Equal(t, "HMM", in.Carrier)
	require.Equal(t, "10/01/2026", in.SystemETA)
	require.Empty(t, in.Container)
	require.Equal(t, "No public holidays between the dates.", in.Holidays)
}

func TestTrackSameDayShift(t *testing.T) {
	f := newFixture(t)

	res, err := f.tracker.Track(context.Background(), Request{
		Number:    "HMMU6012345",
		Carrier:   "HMM",
		SystemETA: "2026-01-12T08:00:00",
	})
	require.NoError(t, err)
	require.Equal(t, "12-Jan-2026", res.LiveETA)
	require.Equal(t, "12/01/2026 08:00", res.SystemETA)
	require.NotNil(t, res.ETAShiftDays)
	require.Equal(t, 0, *res.ETAShiftDays)
}

func TestTrackNotFound(t *testing.T) {
	f := newFixture(t)

	res, err := f.tracker.Track(context.Background(), Request{Number: "EGLV0000001", Carrier: "Evergreen"})
	require.NoError(t, err)
	require.Equal(t, Response{
		TrackingNumber: "EGLV0000001",
		Source:         "System",
		Status:         StatusNotFound,
		Message:        NotFoundMessage,
	}, res)
	require.False(t, res.Found())

	// misses are not cached
	_, err = f.tracker.Track(context.Background(), Request{Number: "EGLV0000001", Carrier: "Evergreen"})
	require.NoError(t, err)
	require.Len(t, f.api.lookups, 2)
}

func TestTrackDriverFailure(t *testing.T) {
	f := newFixture(t)
	f.driver.result = session.Failure(session.FailureTokenNotFound, nil)

	res, err := f.tracker.Track(context.Background(), Request{Number: "HMMU6012345", Carrier: "Hyundai HMM"})
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, res.Status)
	require.Empty(t, f.normalizer.inputs)
	require.Len(t, f.tel.Reports("warning"), 1)
}

func TestTrackAPIErrorFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.api.failing = map[string]error{"HMMU6012345": errors.New("503 Service Unavailable")}

	res, err := f.tracker.Track(context.Background(), Request{Number: "HMMU6012345", Carrier: "HMM"})
	require.NoError(t, err)
	require.Equal(t, SourceDriver, res.RawDataSnippet)
}

func TestTrackUnconfiguredAPI(t *testing.T) {
	f := newFixture(t)
	f.api.disabled = true

	res, err := f.tracker.Track(context.Background(), Request{Number: "MSCU1234567", Carrier: "MSC"})
	require.NoError(t, err)
	require.Equal(t, StatusNotFound, res.Status)
	require.Empty(t, f.api.lookups)
}

func TestTrackFailedNormalizationIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.normalizer.fail = true

	res, err := f.tracker.Track(context.Background(), Request{Number: "HMMU6012345", Carrier: "HMM"})
	require.NoError(t, err)
	require.Equal(t, normalize.FailedSummary.Status, res.Status)
	require.Equal(t, normalize.FailedSummary.LatestDate, res.LiveETA)

	_, err = f.tracker.Track(context.Background(), Request{Number: "HMMU6012345", Carrier: "HMM"})
	require.NoError(t, err)
	require.Len(t, f.driver.calls, 2)
}

func TestTrackInvalidNumber(t *testing.T) {
	f := newFixture(t)
	_, err := f.tracker.Track(context.Background(), Request{Number: " - ", Carrier: "HMM"})
	require.ErrorIs(t, err, ErrInvalidNumber)

	_, err = f.tracker.TrackBatch(context.Background(), BatchRequest{Numbers: []string{"", " "}})
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestTrackBatch(t *testing.T) {
	f := newFixture(t)

	// warm the cache with one number
	_, err := f.tracker.Track(context.Background(), Request{Number: "MSCU1234567", Carrier: "HMM"})
	require.NoError(t, err)

	results, err := f.tracker.TrackBatch(context.Background(), BatchRequest{
		Numbers: []string{"HMMU6012345", "mscu1234567", "TGBU-5550001", "HMMU 6012345"},
		Carrier: "HMM",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.Equal(t, "HMMU6012345", results[0].TrackingNumber)
	require.Equal(t, SourceDriver, results[0].RawDataSnippet)
	require.Equal(t, "On time for HMMU6012345", results[0].SmartSummary)

	require.Equal(t, "MSCU1234567", results[1].TrackingNumber)
	require.Equal(t, SourceAPI, results[1].RawDataSnippet)

	require.Equal(t, "TGBU5550001", results[2].TrackingNumber)
	require.Equal(t, "On time for TGBU5550001", results[2].SmartSummary)

	// one driver call carrying every number the api did not know
	require.Len(t, f.driver.calls, 1)
	require.ElementsMatch(t, []string{"HMMU6012345", "TGBU5550001"}, f.driver.calls[0])
	require.Len(t, f.normalizer.inputs, 2)
	// the cached number never reached the api again
	require.Len(t, f.api.lookups, 3)

	history, err := f.store.History(context.Background(), "TGBU5550001", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, db.SOURCE_DRIVER, history[0].Source)
}

func TestTrackBatchWithoutDriver(t *testing.T) {
	f := newFixture(t)

	results, err := f.tracker.TrackBatch(context.Background(), BatchRequest{
		Numbers: []string{"MSCU1234567", "MSCU7654321"},
		Carrier: "MSC",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Found())
	require.False(t, results[1].Found())
	require.Equal(t, "MSCU7654321", results[1].TrackingNumber)
}

func TestHistoryDisabled(t *testing.T) {
	tracker := NewTracker(Options{
		API:        &fakeAPI{},
		Drivers:    fakeDrivers{},
		Normalizer: &fakeNormalizer{},
		Tel:        telemetry.NewRecordingAPI(),
	})
	_, err := tracker.History(context.Background(), "MSCU1234567", 5)
	require.ErrorIs(t, err, ErrNoHistory)
}
