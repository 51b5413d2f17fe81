package carriers

import (
	"context"
	"errors"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
)

// Scraper is a carrier driver: something that can look up one or many
// container numbers at a single origin.
type Scraper interface {
	// Name identifies the origin the scraper talks to.
	Name() string
	// Track looks up every key in one origin call.
	Track(ctx context.Context, keys []string) session.Result
	WarmUp(ctx context.Context) error
	// Refresh renews the scraper's credentials without dropping its
	// connection where possible.
	Refresh(ctx context.Context) error
	Status() session.Status
	Shutdown() error
}

// stopper is implemented by launchers that own a process outliving their
// transports (the playwright driver).
type stopper interface {
	Stop() error
}

// SessionScraper is a Scraper backed by a session.Manager, it holds no
// logic of its own beyond the origin description.
type SessionScraper struct {
	manager  *session.Manager
	fetcher  *session.Fetcher
	launcher session.Launcher
}

func NewSessionScraper(origin session.Origin, launcher session.Launcher, tel telemetry.API) (SessionScraper, error) {
	assert.NotNil(launcher)
	assert.NotNil(tel)

	manager, err := session.NewManager(session.ManagerOptions{
		Origin:   origin,
		Launcher: launcher,
		Tel:      tel,
	})
	if err != nil {
		return SessionScraper{}, err
	}
	return SessionScraper{
		manager:  manager,
		fetcher:  session.NewFetcher(manager, tel),
		launcher: launcher,
	}, nil
}

func (s SessionScraper) Name() string {
	return s.manager.Origin().Name
}

func (s SessionScraper) Track(ctx context.Context, keys []string) session.Result {
	return s.fetcher.Fetch(ctx, keys...)
}

func (s SessionScraper) WarmUp(ctx context.Context) error {
	return s.manager.WarmUp(ctx)
}

func (s SessionScraper) Refresh(ctx context.Context) error {
	return s.manager.Refresh(ctx)
}

func (s SessionScraper) Status() session.Status {
	return s.manager.Status()
}

func (s SessionScraper) Shutdown() error {
	err := s.manager.Shutdown()
	if stop, ok := s.launcher.(stopper); ok {
		err = errors.Join(err, stop.Stop())
	}
	return err
}
