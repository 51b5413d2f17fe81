package carriers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/lib/configutil"

	"github.com/stretchr/testify/require"
)

func TestHMMOrigin(t *testing.T) {
	origin, err := HMM().Origin()
	require.NoError(t, err)

	require.Equal(t, "www.hmm21.com", origin.Authority())
	require.Equal(t,
		"https://www.hmm21.com/e-service/general/trackNTrace/selectTrackNTrace.do",
		origin.Resolve(origin.QueryPath),
	)
	require.Equal(t, 15*time.Second, origin.TokenTimeout)
	require.Len(t, origin.TokenStrategies, 2)

	body, err := origin.Body([]string{"A1", "A2", "A3"})
	require.NoError(t, err)
	require.JSONEq(t,
		`{"type":"cntr","listBl":[],"listCntr":["A1","A2","A3"],"listBkg":[],"listPo":[]}`,
		string(body),
	)

	// the template is never mutated by a build
	body, err = origin.Body([]string{"B1"})
	require.NoError(t, err)
	require.JSONEq(t,
		`{"type":"cntr","listBl":[],"listCntr":["B1"],"listBkg":[],"listPo":[]}`,
		string(body),
	)
}

func TestOriginConfigErrors(t *testing.T) {
	cfg := HMM()
	cfg.TokenMeta = ""
	_, err := cfg.Origin()
	require.ErrorContains(t, err, "no token strategy")

	cfg = HMM()
	cfg.KeysField = ""
	_, err = cfg.Origin()
	require.ErrorContains(t, err, "keys_field")

	cfg = HMM()
	cfg.TokenPattern = "no-group"
	_, err = cfg.Origin()
	require.Error(t, err)

	cfg = HMM()
	cfg.Transport.Kind = "carrier-pigeon"
	_, err = cfg.Launcher(telemetry.NewRecordingAPI(), nil)
	require.Error(t, err)
}

func TestConfigResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	err := os.WriteFile(path, []byte(`{
		// override the preset, add one more origin
		origins: [
			{ name: "hmm", transport: { kind: "rod", debugger_url: "ws://127.0.0.1:9222" }, request_timeout: "45s" },
			{
				name: "acme",
				aliases: ["acme lines"],
				base_url: "https://track.acme.test",
				bootstrap_path: "/",
				query_path: "/api/query",
				token_selector: "input[name=token]",
				token_attribute: "value",
				keys_field: "numbers",
				disabled: true,
			},
		],
	}`), 0644)
	require.NoError(t, err)

	cfg, err := configutil.ReadConfig[Config](path)
	require.NoError(t, err)

	resolved := cfg.Resolve()
	require.Len(t, resolved, 2)

	hmm := resolved[0]
	require.Equal(t, "hmm", hmm.Name)
	require.Equal(t, TransportRod, hmm.Transport.Kind)
	require.Equal(t, 45*time.Second, hmm.RequestTimeout.Std())
	// untouched preset fields survive the merge
	require.Equal(t, "_csrf", hmm.TokenMeta)
	require.Equal(t, "listCntr", hmm.KeysField)

	acme := resolved[1]
	require.True(t, acme.Disabled)
	origin, err := acme.Origin()
	require.NoError(t, err)
	require.Equal(t, session.StructuredLookup{Selector: "input[name=token]", Attribute: "value"}, origin.TokenStrategies[0])
}

func TestRegistryFromConfigOverHttp(t *testing.T) {
	var queries atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/e-service/general/trackNTrace/TrackNTrace.do", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta name="_csrf" content="c5f1-09aa"></head></html>`)
	})
	mux.HandleFunc("/e-service/general/trackNTrace/selectTrackNTrace.do", func(w http.ResponseWriter, r *http.Request) {
		queries.Add(1)
		if r.Header.Get("X-CSRF-TOKEN") != "c5f1-09aa" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var q struct {
			ListCntr []string `json:"listCntr"`
		}
		json.Unmarshal(body, &q)
		json.NewEncoder(w).Encode(map[string]any{
			"result": q.ListCntr,
			"status": "Discharged at ANTWERP, BE on 12-Jan-2026",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := Config{Origins: []OriginConfig{{
		Name:      "hmm",
		BaseUrl:   server.URL,
		Transport: TransportConfig{Kind: TransportHttp, RequestsPerSecond: 50},
	}}}
	registry, err := NewRegistryFromConfig(cfg, telemetry.NewRecordingAPI(), nil)
	require.NoError(t, err)
	defer registry.ShutdownAll()

	scraper, ok := registry.Lookup("Hyundai Merchant Marine")
	require.True(t, ok)

	require.NoError(t, registry.WarmUpAll(context.Background()))
	result := scraper.Track(context.Background(), []string{"HMMU6012345", "TGBU5550001"})
	require.True(t, result.Ok(), result.Err)
	require.Contains(t, string(result.Payload), "TGBU5550001")
	require.EqualValues(t, 1, queries.Load())

	status := registry.Status()
	require.Len(t, status, 1)
	require.True(t, status[0].Valid)
	require.EqualValues(t, 1, status[0].Launches)
}
