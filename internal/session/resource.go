package session

import (
	"context"
	"sync"
	"time"
)

// Resource is one authenticated context: a live transport plus the token
// extracted from the origin's bootstrap document. The transport and token
// are owned and mutated by the Manager only, everyone else borrows it.
type Resource struct {
	ID        string
	Origin    string
	CreatedAt time.Time

	transport Transport

	mu             sync.RWMutex
	token          string
	tokenAcquireAt time.Time
}

func newResource(id, origin string, createdAt time.Time, transport Transport) *Resource {
	return &Resource{
		ID:        id,
		Origin:    origin,
		CreatedAt: createdAt,
		transport: transport,
	}
}

// Token returns the current credential, empty if none was acquired.
func (r *Resource) Token() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// TokenAcquiredAt is the time of the last successful token extraction.
func (r *Resource) TokenAcquiredAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokenAcquireAt
}

// Valid reports whether the transport is alive and a token is present.
func (r *Resource) Valid() bool {
	if r == nil || r.transport == nil || !r.transport.Alive() {
		return false
	}
	return r.Token() != ""
}

func (r *Resource) setToken(token string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
	if token != "" {
		r.tokenAcquireAt = at
	}
}

// acquireToken navigates to the bootstrap document and runs the token
// strategies. The old token is cleared first so a failed refresh never
// leaves a stale token looking valid.
func (r *Resource) acquireToken(ctx context.Context, origin Origin, now func() time.Time) (string, error) {
	r.setToken("", time.Time{})

	navCtx, cancel := context.WithTimeout(ctx, origin.RequestTimeout)
	defer cancel()
	bootstrap := origin.Resolve(origin.BootstrapPath)
	err := r.transport.Navigate(navCtx, bootstrap)
	if err != nil {
		return "", TransportError(err)
	}

	token, strategy, err := extractToken(ctx, r.transport, origin.TokenStrategies, origin.TokenTimeout)
	if err != nil {
		return "", err
	}
	r.setToken(token, now())
	return strategy, nil
}
