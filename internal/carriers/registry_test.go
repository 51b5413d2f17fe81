package carriers

import (
	"context"
	"errors"
	"testing"

	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"

	"github.com/stretchr/testify/require"
)

type stubScraper struct {
	name       string
	warmErr    error
	warmed     int
	refreshed  int
	shutdowns  int
	lastKeys   []string
	trackValue session.Result
}

func (s *stubScraper) Name() string { return s.name }

func (s *stubScraper) Track(ctx context.Context, keys []string) session.Result {
	s.lastKeys = keys
	return s.trackValue
}

func (s *stubScraper) WarmUp(ctx context.Context) error {
	s.warmed++
	return s.warmErr
}

func (s *stubScraper) Refresh(ctx context.Context) error {
	s.refreshed++
	return nil
}

func (s *stubScraper) Status() session.Status {
	return session.Status{Origin: s.name, Initialized: s.warmed > 0}
}

func (s *stubScraper) Shutdown() error {
	s.shutdowns++
	return nil
}

func newStubRegistry(t *testing.T) (*Registry, map[string]*stubScraper) {
	t.Helper()
	r := NewRegistry(telemetry.NewRecordingAPI())
	stubs := map[string]*stubScraper{
		"msc":     {name: "msc"},
		"hapag":   {name: "hapag", warmErr: errors.New("launch failed")},
		"cma":     {name: "cma"},
		"hmm":     {name: "hmm"},
		"hamburg": {name: "hamburg"},
	}
	require.NoError(t, r.Register(stubs["msc"], "Mediterranean Shipping"))
	require.NoError(t, r.Register(stubs["hapag"], "hapag-lloyd", "Hapag Lloyd"))
	require.NoError(t, r.Register(stubs["cma"], "CMA CGM"))
	require.NoError(t, r.Register(stubs["hmm"], "hyundai"))
	require.NoError(t, r.Register(stubs["hamburg"], "hamburg sud"))
	return r, stubs
}

func TestRegistryLookup(t *testing.T) {
	r, _ := newStubRegistry(t)

	testCases := []struct {
		carrier  string
		expected string
	}{
		{carrier: "MSC", expected: "msc"},
		{carrier: "msc mediterranean", expected: "msc"},
		{carrier: "Hapag-Lloyd AG", expected: "hapag"},
		{carrier: "CMA CGM", expected: "cma"},
		{carrier: "HMM", expected: "hmm"},
		{carrier: "Hyundai Merchant Marine", expected: "hmm"},
		{carrier: "Hamburg Süd", expected: "hamburg"},
		// no alias is contained, fuzzy match
		{carrier: "hapg lloyd", expected: "hapag"},
		{carrier: "hyundia", expected: "hmm"},
		{carrier: "Evergreen", expected: ""},
		{carrier: "Unknown", expected: ""},
		{carrier: "", expected: ""},
	}

	for _, test := range testCases {
		t.Run(test.carrier, func(t *testing.T) {
			s, ok := r.Lookup(test.carrier)
			if test.expected == "" {
				require.False(t, ok, "matched %v", s)
				return
			}
			require.True(t, ok)
			require.Equal(t, test.expected, s.Name())
		})
	}
}

func TestFuzzyThresholdIsInclusive(t *testing.T) {
	require.True(t, closeEnough(FuzzyThreshold))
	require.True(t, closeEnough(1))
	require.False(t, closeEnough(FuzzyThreshold-0.001))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r, _ := newStubRegistry(t)
	err := r.Register(&stubScraper{name: "msc"})
	require.ErrorIs(t, err, ErrDuplicateScraper)
	require.Equal(t, []string{"msc", "hapag", "cma", "hmm", "hamburg"}, r.Names())
	require.Equal(t, []string{"hapag", "hapag-lloyd", "hapaglloyd"}, r.Aliases("hapag"))
}

func TestRegistryLifecycle(t *testing.T) {
	tel := telemetry.NewRecordingAPI()
	r := NewRegistry(tel)
	ok := &stubScraper{name: "hmm"}
	broken := &stubScraper{name: "hapag", warmErr: errors.New("launch failed")}
	require.NoError(t, r.Register(ok))
	require.NoError(t, r.Register(broken))

	err := r.WarmUpAll(context.Background())
	require.ErrorContains(t, err, "hapag")
	require.Equal(t, 1, ok.warmed)
	require.Equal(t, 1, broken.warmed)
	require.Len(t, tel.Reports("warning"), 1)

	require.NoError(t, r.RefreshAll(context.Background()))
	require.Equal(t, 1, ok.refreshed)

	status := r.Status()
	require.Len(t, status, 2)
	require.True(t, status[0].Initialized)

	require.NoError(t, r.ShutdownAll())
	require.Equal(t, 1, ok.shutdowns)
	require.Equal(t, 1, broken.shutdowns)

	s, found := r.Get("HMM")
	require.True(t, found)
	require.Same(t, ok, s)
}
