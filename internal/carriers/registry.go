package carriers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/lib/textutil"
)

const (
	report_registry_warm_up  = "registry.warm-up"
	report_registry_refresh  = "registry.refresh"
	report_registry_shutdown = "registry.shutdown"
)

// FuzzyThreshold is the minimum Jaro-Winkler similarity for a carrier name
// that matched no alias verbatim.
const FuzzyThreshold = 0.85

var ErrDuplicateScraper = errors.New("carriers: scraper already registered")

type entry struct {
	scraper Scraper
	aliases []string
}

// Registry routes carrier names to scrapers. Scrapers are keyed by origin
// name, each with a list of aliases ("hmm", "hyundai").
type Registry struct {
	tel telemetry.API

	mu      sync.RWMutex
	entries []entry
}

func NewRegistry(tel telemetry.API) *Registry {
	assert.NotNil(tel)
	return &Registry{tel: telemetry.NewScopedAPI("carriers", tel)}
}

// Register adds a scraper, its name is always one of its aliases.
func (r *Registry) Register(s Scraper, aliases ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.scraper.Name() == s.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateScraper, s.Name())
		}
	}

	normalized := []string{textutil.NormalizeName(s.Name())}
	for _, a := range aliases {
		a = textutil.NormalizeName(a)
		if a != "" && !slices.Contains(normalized, a) {
			normalized = append(normalized, a)
		}
	}
	r.entries = append(r.entries, entry{scraper: s, aliases: normalized})
	return nil
}

// Get returns the scraper registered under exactly `name`.
func (r *Registry) Get(name string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.EqualFold(e.scraper.Name(), name) {
			return e.scraper, true
		}
	}
	return nil, false
}

// Lookup finds the scraper for a free-form carrier name ("HMM (Hyundai
// Merchant Marine)", "Hapag Lloyd"). An alias contained in the name wins,
// in registration order. Otherwise the alias most similar to the name is
// used if it clears FuzzyThreshold.
func (r *Registry) Lookup(carrier string) (Scraper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	normalized := textutil.NormalizeName(carrier)
	if normalized == "" {
		return nil, false
	}

	for _, e := range r.entries {
		if textutil.MatchName(normalized, e.aliases) {
			return e.scraper, true
		}
	}

	var best Scraper
	bestScore := 0.0
	for _, e := range r.entries {
		for _, a := range e.aliases {
			score := textutil.Similarity(normalized, a)
			if score > bestScore {
				best, bestScore = e.scraper, score
			}
		}
	}
	if closeEnough(bestScore) {
		return best, true
	}
	return nil, false
}

func closeEnough(score float64) bool {
	return score >= FuzzyThreshold
}

// Names returns the registered origin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.scraper.Name()
	}
	return out
}

// Aliases returns the aliases of the named scraper.
func (r *Registry) Aliases(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if strings.EqualFold(e.scraper.Name(), name) {
			return slices.Clone(e.aliases)
		}
	}
	return nil
}

func (r *Registry) scrapers() []Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scraper, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.scraper
	}
	return out
}

// WarmUpAll starts every scraper's session. A scraper that fails to warm up
// is reported and still usable, it will start lazily on first use.
func (r *Registry) WarmUpAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.scrapers() {
		err := s.WarmUp(ctx)
		if err != nil {
			r.tel.ReportWarning(report_registry_warm_up, s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		r.tel.ReportDebug("warmed up", s.Name())
	}
	return errors.Join(errs...)
}

// RefreshAll renews every scraper's credentials, it is the keep-alive job.
func (r *Registry) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.scrapers() {
		err := s.Refresh(ctx)
		if err != nil {
			r.tel.ReportWarning(report_registry_refresh, s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) ShutdownAll() error {
	var errs []error
	for _, s := range r.scrapers() {
		err := s.Shutdown()
		if err != nil {
			r.tel.ReportWarning(report_registry_shutdown, s.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Status() []session.Status {
	scrapers := r.scrapers()
	out := make([]session.Status, len(scrapers))
	for i, s := range scrapers {
		out[i] = s.Status()
	}
	return out
}
