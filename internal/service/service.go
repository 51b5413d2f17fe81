// Package service exposes the tracker over http.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cargotrack-backend/internal/components/assert"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/internal/session"
	"cargotrack-backend/internal/tracking"
	"cargotrack-backend/lib/lookupstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

const (
	report_service_request = "service.request"
	report_service_refresh = "service.refresh"
)

const (
	MaxBatchSize = 100
	maxBodySize  = 1 << 20
)

// Tracker is implemented by tracking.Tracker.
type Tracker interface {
	Track(ctx context.Context, req tracking.Request) (tracking.Response, error)
	TrackBatch(ctx context.Context, req tracking.BatchRequest) ([]tracking.Response, error)
	History(ctx context.Context, number string, limit int) ([]lookupstore.Entry, error)
}

// Sessions is implemented by carriers.Registry.
type Sessions interface {
	Status() []session.Status
	RefreshAll(ctx context.Context) error
}

type TrackRequest struct {
	Number    string `json:"number" validate:"required,max=64"`
	Carrier   string `json:"carrier" validate:"max=128"`
	SystemETA string `json:"system_eta" validate:"max=64"`
}

type BatchTrackRequest struct {
	Numbers   []string `json:"numbers" validate:"required,min=1,max=100,dive,required,max=64"`
	Carrier   string   `json:"carrier" validate:"max=128"`
	SystemETA string   `json:"system_eta" validate:"max=64"`
}

type HistoryEntry struct {
	Time    time.Time `json:"time"`
	Carrier string    `json:"carrier"`
	Source  string    `json:"source"`
	Status  string    `json:"status"`
	LiveETA string    `json:"live_eta"`
	Summary string    `json:"summary"`
}

type Service struct {
	tracker  Tracker
	sessions Sessions
	validate *validator.Validate
	tel      telemetry.API
}

func NewService(tracker Tracker, sessions Sessions, tel telemetry.API) Service {
	assert.NotNil(tracker)
	assert.NotNil(sessions)
	assert.NotNil(tel)
	return Service{
		tracker:  tracker,
		sessions: sessions,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tel:      telemetry.NewScopedAPI("service", tel),
	}
}

func (s Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/track/sea", s.trackSea)
		r.Post("/track/sea/batch", s.trackSeaBatch)
		r.Get("/track/sea/{number}/history", s.history)
		r.Get("/sessions", s.listSessions)
		r.Post("/sessions/refresh", s.refreshSessions)
	})
	return r
}

func (s Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.tel.ReportDebug(
			"request",
			r.Method,
			r.URL.Path,
			ww.Status(),
			time.Since(start).String(),
		)
	})
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, map[string]string{"error": err.Error()})
}

func (s Service) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	err := dec.Decode(out)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return false
	}
	err = s.validate.Struct(out)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, v := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", v.Namespace(), v.Tag())
			}
			err = fmt.Errorf("invalid fields: %s", strings.Join(fields, ", "))
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func carrierOrUnknown(carrier string) string {
	if strings.TrimSpace(carrier) == "" {
		return "Unknown"
	}
	return carrier
}

func (s Service) trackSea(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.tracker.Track(r.Context(), tracking.Request{
		Number:    req.Number,
		Carrier:   carrierOrUnknown(req.Carrier),
		SystemETA: req.SystemETA,
	})
	if errors.Is(err, tracking.ErrInvalidNumber) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.tel.ReportBroken(report_service_request, err, req.Number)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, res)
}

func (s Service) trackSeaBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchTrackRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.tracker.TrackBatch(r.Context(), tracking.BatchRequest{
		Numbers:   req.Numbers,
		Carrier:   carrierOrUnknown(req.Carrier),
		SystemETA: req.SystemETA,
	})
	if errors.Is(err, tracking.ErrInvalidNumber) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		s.tel.ReportBroken(report_service_request, err, len(req.Numbers))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, res)
}

func (s Service) history(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	entries, err := s.tracker.History(r.Context(), chi.URLParam(r, "number"), limit)
	switch {
	case errors.Is(err, tracking.ErrNoHistory):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, tracking.ErrInvalidNumber):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.tel.ReportBroken(report_service_request, err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{
			Time:    e.Time,
			Carrier: e.Carrier,
			Source:  string(e.Source),
			Status:  e.Status,
			LiveETA: e.LiveETA,
			Summary: e.Summary,
		}
	}
	writeJson(w, http.StatusOK, out)
}

func (s Service) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, s.sessions.Status())
}

func (s Service) refreshSessions(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.RefreshAll(r.Context())
	if err != nil {
		s.tel.ReportWarning(report_service_refresh, err)
		writeJson(w, http.StatusBadGateway, map[string]any{
			"error":    err.Error(),
			"sessions": s.sessions.Status(),
		})
		return
	}
	writeJson(w, http.StatusOK, s.sessions.Status())
}

func (s Service) health(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
