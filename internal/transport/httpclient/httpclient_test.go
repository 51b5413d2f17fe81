package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"

	"github.com/stretchr/testify/require"
)

type testSite struct {
	issued   atomic.Int64
	queries  atomic.Int64
	metaless bool
}

func (s *testSite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/track/index.do", func(w http.ResponseWriter, r *http.Request) {
		n := s.issued.Add(1)
		token := fmt.Sprintf("csrf-%d", n)
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: token, Path: "/"})
		if s.metaless {
			fmt.Fprintf(w, `<html><head><script>var x = '<meta name="_csrf" content="%s">';</script></head></html>`, token)
			return
		}
		fmt.Fprintf(w, `<html><head><meta name="_csrf" content="%s"></head><body></body></html>`, token)
	})
	mux.HandleFunc("/track/select.do", func(w http.ResponseWriter, r *http.Request) {
		s.queries.Add(1)
		cookie, err := r.Cookie("JSESSIONID")
		if err != nil || cookie.Value != r.Header.Get("X-CSRF-TOKEN") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var q struct {
			ListCntr []string `json:"listCntr"`
		}
		json.Unmarshal(body, &q)
		json.NewEncoder(w).Encode(map[string]any{
			"list": q.ListCntr,
			"note": "all containers on schedule, no exceptions reported",
		})
	})
	return mux
}

func newTestFetcher(t *testing.T, server *httptest.Server) *session.Fetcher {
	t.Helper()
	tel := telemetry.NewRecordingAPI()
	launcher, err := NewLauncher(Options{
		BaseUrl:           server.URL,
		RequestsPerSecond: 100,
		Tel:               tel,
	})
	require.NoError(t, err)

	m, err := session.NewManager(session.ManagerOptions{
		Origin: session.Origin{
			Name:          "site",
			BaseUrl:       server.URL,
			BootstrapPath: "/track/index.do",
			QueryPath:     "/track/select.do",
			Headers: map[string]string{
				"X-Requested-With": "XMLHttpRequest",
				"Content-Type":     "application/json",
			},
			TokenStrategies: session.CsrfStrategies("_csrf"),
			Body: session.JsonBody(func(keys []string) any {
				return map[string]any{"type": "cntr", "listCntr": keys}
			}),
			Classifier: session.Classifier{
				StaleMarkers:     []string{"No Data"},
				MinPayloadLength: 20,
				ResultPath:       "list",
			},
		},
		Launcher: launcher,
		Tel:      tel,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return session.NewFetcher(m, tel)
}

func TestFetchThroughHttpClient(t *testing.T) {
	site := &testSite{}
	server := httptest.NewServer(site.handler())
	defer server.Close()

	f := newTestFetcher(t, server)
	result := f.Fetch(context.Background(), "HMMU6012345", "TCNU1234567")
	require.True(t, result.Ok(), result.Err)

	var body struct {
		List []string `json:"list"`
	}
	require.NoError(t, json.Unmarshal(result.Payload, &body))
	require.Equal(t, []string{"HMMU6012345", "TCNU1234567"}, body.List)
	require.EqualValues(t, 1, site.issued.Load())
	require.EqualValues(t, 1, site.queries.Load())
}

func TestPatternFallbackThroughHttpClient(t *testing.T) {
	site := &testSite{metaless: true}
	server := httptest.NewServer(site.handler())
	defer server.Close()

	f := newTestFetcher(t, server)
	result := f.Fetch(context.Background(), "HMMU6012345")
	require.True(t, result.Ok(), result.Err)
	require.True(t, f.Manager().Status().Valid)
	require.EqualValues(t, 1, site.issued.Load())
	require.EqualValues(t, 1, site.queries.Load())
}

func TestClosedTransport(t *testing.T) {
	launcher, err := NewLauncher(Options{
		BaseUrl: "https://example.test",
		Tel:     telemetry.NewRecordingAPI(),
	})
	require.NoError(t, err)

	tr, err := launcher.Launch(context.Background())
	require.NoError(t, err)
	require.True(t, tr.Alive())

	_, err = tr.Content(context.Background())
	require.ErrorIs(t, err, ErrNoDocument)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.False(t, tr.Alive())

	_, err = tr.Do(context.Background(), session.Request{Method: "POST", Url: "/"})
	require.ErrorIs(t, err, session.ErrTransportClosed)
}

func TestNewLauncherRejectsRelativeUrl(t *testing.T) {
	_, err := NewLauncher(Options{BaseUrl: "/track", Tel: telemetry.NewRecordingAPI()})
	require.Error(t, err)
}
