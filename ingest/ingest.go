// Package ingest is the hosted collection endpoint for bug reports: it
// validates project keys, rate-limits, stores report events and their
// evidence blobs in SQLite, and forwards stored reports to the
// project's configured tracker in the background.
package ingest

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
)

// Config wires the ingest Service.
type Config struct {
	DB *sql.DB

	// Forwarder creates tracker issues for stored reports. Nil disables
	// forwarding; reports get forwarding_status=none.
	Forwarder Forwarder

	// MaxBodyBytes caps request size. Default 64 MiB; recordings are the
	// dominant part.
	MaxBodyBytes int64

	Logger *slog.Logger
}

// Service carries the handlers and their collaborators.
type Service struct {
	store     *Store
	forwarder Forwarder
	maxBody   int64
	logger    *slog.Logger

	// strict strips all markup from ingested text fields before storage;
	// report titles end up in dashboards that render them as HTML.
	strict *bluemonday.Policy
}

func New(cfg Config) (*Service, error) {
	store, err := NewStore(cfg.DB)
	if err != nil {
		return nil, err
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:     store,
		forwarder: cfg.Forwarder,
		maxBody:   cfg.MaxBodyBytes,
		logger:    cfg.Logger,
		strict:    bluemonday.StrictPolicy(),
	}, nil
}

// Store exposes the underlying store for provisioning (projects,
// integrations) from the CLI.
func (s *Service) Store() *Store { return s.store }

// Router assembles the HTTP surface.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Post("/api/ingest", s.handleIngest)
	r.Options("/api/ingest", s.handlePreflight)
	r.Get("/api/reports/{reportID}", s.handleGetReport)
	r.Get("/api/reports/{reportID}/blobs/{kind}", s.handleGetBlob)
	return r
}

// cors mirrors the hosted endpoint's open CORS policy; the project key
// is the access control, not the origin.
func (s *Service) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) sanitize(text string) string {
	return s.strict.Sanitize(text)
}

func errorJSON(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}
