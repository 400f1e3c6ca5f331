package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benaskins/credence/internal/keystore"
	"github.com/benaskins/credence/internal/resolver"
	"github.com/benaskins/credence/internal/service"
)

// Server serves the credence REST API.
type Server struct {
	resolver *resolver.Resolver
	registry *service.Registry
	store    keystore.Store
	limiters *userLimiters
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// Options tunes a Server.
type Options struct {
	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	// WriteRateLimit is requests per second per user on write routes.
	WriteRateLimit float64
	WriteBurst     int
}

// NewServer creates an API server over the given resolver, registry and store.
func NewServer(res *resolver.Resolver, reg *service.Registry, store keystore.Store, opts Options) *Server {
	if opts.WriteRateLimit <= 0 {
		opts.WriteRateLimit = 5
	}
	if opts.WriteBurst <= 0 {
		opts.WriteBurst = 10
	}
	s := &Server{
		resolver: res,
		registry: reg,
		store:    store,
		limiters: newUserLimiters(opts.WriteRateLimit, opts.WriteBurst),
		logger:   slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/services", s.listServices)
	mux.HandleFunc("GET /v1/categories", s.listCategories)
	mux.HandleFunc("GET /v1/users/{user}/keys", s.listKeys)
	mux.HandleFunc("PUT /v1/users/{user}/keys/{service}", s.limited(s.rememberKey))
	mux.HandleFunc("DELETE /v1/users/{user}/keys/{service}", s.limited(s.deleteKey))
	mux.HandleFunc("POST /v1/users/{user}/keys/{service}/enabled", s.limited(s.setEnabled))
	mux.HandleFunc("POST /v1/users/{user}/describe/{service}", s.describe)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// KeyView is the public form of a stored credential. The raw value is
// never included.
type KeyView struct {
	Service         service.ID `json:"service"`
	Masked          string     `json:"masked"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	LastValidatedAt *time.Time `json:"last_validated_at"`
}

func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiters.allow(r.PathValue("user")) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	services := s.registry.All()
	if c := r.URL.Query().Get("category"); c != "" {
		filtered := services[:0]
		for _, svc := range services {
			if string(svc.Category) == c {
				filtered = append(filtered, svc)
			}
		}
		services = filtered
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ByCategory())
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]KeyView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, KeyView{
			Service:         rec.Service,
			Masked:          service.Mask(rec.RawValue),
			Enabled:         rec.Enabled,
			CreatedAt:       rec.CreatedAt,
			LastValidatedAt: rec.LastValidatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) rememberKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	svc := service.ID(r.PathValue("service"))
	if err := s.resolver.Remember(r.Context(), svc, r.PathValue("user"), body.Value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored", "masked": service.Mask(body.Value)})
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	ok, err := s.store.Delete(r.Context(), r.PathValue("user"), service.ID(r.PathValue("service")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no stored key"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must set enabled"})
		return
	}

	ok, err := s.resolver.SetEnabled(r.Context(), service.ID(r.PathValue("service")), r.PathValue("user"), *body.Enabled)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no stored key"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *body.Enabled})
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request) {
	var hints resolver.Hints
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&hints); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	d := s.resolver.Describe(r.Context(), service.ID(r.PathValue("service")), r.PathValue("user"), hints)
	if d.Unknown {
		writeJSON(w, http.StatusNotFound, d)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error()})
	case errors.Is(err, keystore.ErrUnavailable):
		s.logger.Warn("key store unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "key store unavailable"})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
