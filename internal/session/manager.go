package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/chrono"
	"cargotrack-backend/internal/components/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
)

const (
	report_manager_start   = "manager.start"
	report_manager_refresh = "manager.refresh"
	report_manager_close   = "manager.close"
	report_manager_do      = "manager.do"
)

type ManagerOptions struct {
	Origin   Origin
	Launcher Launcher
	Tel      telemetry.API
	// Time defaults to the standard clock in UTC.
	Time chrono.TimeAPI
}

// Manager is the single owner of one Resource. It starts the transport
// lazily, renews the token, and tears everything down on Close.
//
// Every operation that touches the transport (start, refresh, close and
// origin calls) passes through one gate, so at most one navigation or
// origin call is in flight per Manager. Waiting on the gate honours context
// cancellation, a caller that gives up never tears down the transport.
type Manager struct {
	origin   Origin
	launcher Launcher
	tel      telemetry.API
	time     chrono.TimeAPI

	gate *semaphore.Weighted

	// state is written with the gate held, stateMu lets Status read it
	// without waiting for a navigation to finish.
	stateMu     sync.RWMutex
	initialized bool
	resource    *Resource
	lastErr     error

	launches  atomic.Int64
	refreshes atomic.Int64

	launchCounter  metric.Int64Counter
	refreshCounter metric.Int64Counter
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	assert.NotNil(opts.Launcher)
	assert.NotNil(opts.Tel)

	origin := opts.Origin
	err := origin.Validate()
	if err != nil {
		return nil, err
	}
	clock := opts.Time
	if clock == nil {
		clock = chrono.NewStandardTime(nil)
	}

	launchCounter, _ := meter.Int64Counter(
		"session.launches",
		metric.WithDescription("transports launched by session managers"),
	)
	refreshCounter, _ := meter.Int64Counter(
		"session.refreshes",
		metric.WithDescription("token refreshes performed by session managers"),
	)

	return &Manager{
		origin:         origin,
		launcher:       opts.Launcher,
		tel:            telemetry.NewScopedAPI(fmt.Sprintf("session(%s)", origin.Name), opts.Tel),
		time:           clock,
		gate:           semaphore.NewWeighted(1),
		launchCounter:  launchCounter,
		refreshCounter: refreshCounter,
	}, nil
}

// Origin returns the origin this manager holds a session for.
func (m *Manager) Origin() Origin {
	return m.origin
}

func (m *Manager) enter(ctx context.Context) error {
	return m.gate.Acquire(ctx, 1)
}

func (m *Manager) leave() {
	m.gate.Release(1)
}

func (m *Manager) setState(initialized bool, resource *Resource) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.initialized = initialized
	m.resource = resource
}

func (m *Manager) setLastErr(err error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.lastErr = err
}

func (m *Manager) current() (bool, *Resource) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.initialized, m.resource
}

// Start launches the transport and acquires the first token. It is a no-op
// when already initialized. A token failure leaves the transport up so that
// a later Refresh can retry on it, the error is still returned.
func (m *Manager) Start(ctx context.Context) error {
	err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer m.leave()
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	initialized, _ := m.current()
	if initialized {
		return nil
	}

	ctx, span := tracer.Start(ctx, "manager:start")
	defer span.End()
	span.SetAttributes(attribute.String("origin", m.origin.Name))

	m.tel.ReportDebug("launching transport")
	transport, err := m.launcher.Launch(ctx)
	if err != nil {
		err = TransportError(fmt.Errorf("launch: %w", err))
		m.tel.ReportBroken(report_manager_start, err)
		m.setLastErr(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		return err
	}
	m.launches.Add(1)
	m.launchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", m.origin.Name)))

	resource := newResource(uuid.NewString(), m.origin.Authority(), m.time.Now(), transport)
	err = m.acquireTokenLocked(ctx, resource)
	// published only once the token attempt is over, the fast path of
	// GetResource must not hand out a resource that is still bootstrapping
	m.setState(true, resource)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token acquisition failed")
	}
	return err
}

func (m *Manager) acquireTokenLocked(ctx context.Context, resource *Resource) error {
	strategy, err := resource.acquireToken(ctx, m.origin, m.time.Now)
	m.setLastErr(err)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			m.tel.ReportWarning(report_manager_refresh, err)
		} else {
			m.tel.ReportBroken(report_manager_refresh, err)
		}
		return err
	}
	m.tel.ReportDebug("token acquired", resource.ID, strategy)
	return nil
}

// GetResource returns the current resource, starting the manager first if
// needed. The resource may be invalid (no token) when the start error is a
// token failure, it is nil only if the transport could not be launched.
func (m *Manager) GetResource(ctx context.Context) (*Resource, error) {
	initialized, resource := m.current()
	if initialized {
		return resource, nil
	}

	err := m.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer m.leave()

	err = m.startLocked(ctx)
	_, resource = m.current()
	return resource, err
}

// Refresh acquires a new token on the existing transport. An uninitialized
// manager is started instead, and a transport that died is torn down before
// a new one is launched, so two live transports never coexist.
func (m *Manager) Refresh(ctx context.Context) error {
	err := m.enter(ctx)
	if err != nil {
		return err
	}
	defer m.leave()
	return m.refreshLocked(ctx)
}

// renew is Refresh for callers that saw `seen` fail. If another caller
// already replaced it with a valid token while this one waited on the
// gate, nothing is done.
func (m *Manager) renew(ctx context.Context, seen string) (refreshed bool, err error) {
	err = m.enter(ctx)
	if err != nil {
		return false, err
	}
	defer m.leave()

	initialized, resource := m.current()
	if initialized && resource.Valid() && resource.Token() != seen {
		return false, nil
	}
	return true, m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "manager:refresh")
	defer span.End()
	span.SetAttributes(attribute.String("origin", m.origin.Name))

	m.refreshes.Add(1)
	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", m.origin.Name)))

	initialized, resource := m.current()
	if !initialized {
		return m.startLocked(ctx)
	}
	if resource.transport == nil || !resource.transport.Alive() {
		m.tel.ReportWarning(report_manager_refresh, "transport lost, relaunching", resource.ID)
		m.teardownLocked()
		return m.startLocked(ctx)
	}

	err := m.acquireTokenLocked(ctx, resource)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
	}
	return err
}

// Do runs one origin call on the borrowed transport. `build` receives the
// current token and returns the request to send.
func (m *Manager) Do(ctx context.Context, build func(token string) (Request, error)) (Response, error) {
	err := m.enter(ctx)
	if err != nil {
		return Response{}, err
	}
	defer m.leave()

	initialized, resource := m.current()
	if !initialized || resource == nil {
		return Response{}, ErrSessionUnavailable
	}
	if resource.transport == nil || !resource.transport.Alive() {
		return Response{}, TransportError(ErrTransportClosed)
	}

	req, err := build(resource.Token())
	if err != nil {
		return Response{}, err
	}
	res, err := resource.transport.Do(ctx, req)
	if err != nil {
		m.tel.ReportBroken(report_manager_do, err, req.Url)
		return Response{}, TransportError(err)
	}
	return res, nil
}

// Close tears down the transport and clears the token. It is safe to call
// on a manager that was never started. Close waits for in-flight calls.
func (m *Manager) Close() error {
	err := m.enter(context.Background())
	if err != nil {
		return err
	}
	defer m.leave()
	return m.teardownLocked()
}

func (m *Manager) teardownLocked() error {
	initialized, resource := m.current()
	m.setState(false, nil)
	if !initialized || resource == nil {
		return nil
	}

	resource.setToken("", time.Time{})
	if resource.transport == nil {
		return nil
	}
	err := resource.transport.Close()
	if err != nil {
		m.tel.ReportWarning(report_manager_close, err, resource.ID)
		return err
	}
	m.tel.ReportDebug("transport closed", resource.ID)
	return nil
}

// WarmUp is the process start hook, it starts the session ahead of the
// first request.
func (m *Manager) WarmUp(ctx context.Context) error {
	return m.Start(ctx)
}

// Shutdown is the process stop hook.
func (m *Manager) Shutdown() error {
	return m.Close()
}

// Status is a point in time snapshot of a manager.
type Status struct {
	Origin          string    `json:"origin"`
	Initialized     bool      `json:"initialized"`
	Valid           bool      `json:"valid"`
	ResourceId      string    `json:"resource_id,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	TokenAcquiredAt time.Time `json:"token_acquired_at,omitempty"`
	Launches        int64     `json:"launches"`
	Refreshes       int64     `json:"refreshes"`
	LastError       string    `json:"last_error,omitempty"`
}

func (m *Manager) Status() Status {
	m.stateMu.RLock()
	initialized, resource, lastErr := m.initialized, m.resource, m.lastErr
	m.stateMu.RUnlock()

	status := Status{
		Origin:      m.origin.Name,
		Initialized: initialized,
		Launches:    m.launches.Load(),
		Refreshes:   m.refreshes.Load(),
	}
	if lastErr != nil {
		status.LastError = lastErr.Error()
	}
	if resource != nil {
		status.Valid = resource.Valid()
		status.ResourceId = resource.ID
		status.CreatedAt = resource.CreatedAt
		status.TokenAcquiredAt = resource.TokenAcquiredAt()
	}
	return status
}
