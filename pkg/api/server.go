// Package api serves the admin HTTP interface of the tracker.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/episode"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/tracker"
)

// Admin is the tracker surface exposed over HTTP.
type Admin interface {
	AddTVShow(ctx context.Context, show episode.TVShow) error
	RemoveTVShow(ctx context.Context, id string) error
	SetTVShowQuality(ctx context.Context, id string, quality episode.Quality) error
	TVShows(ctx context.Context) ([]episode.TVShow, error)
	Episodes(ctx context.Context) ([]episode.Episode, error)
	EpisodesFor(ctx context.Context, tvshowID string) ([]episode.Episode, error)
	RunPass(ctx context.Context) (tracker.PassResult, error)
}

var _ Admin = (*tracker.Tracker)(nil)

// Server is the admin HTTP server.
type Server struct {
	admin    Admin
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	router   chi.Router
}

// NewServer builds the routes. A nil gatherer disables /metrics.
func NewServer(admin Admin, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{admin: admin, gatherer: gatherer, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/tvshows", func(r chi.Router) {
		r.Get("/", s.listTVShows)
		r.Post("/", s.addTVShow)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.removeTVShow)
			r.Put("/quality", s.setQuality)
			r.Get("/episodes", s.listEpisodesFor)
		})
	})
	r.Get("/episodes", s.listEpisodes)
	r.Post("/passes", s.runPass)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("api_listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "api server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api shutdown failed")
	}
	s.logger.Info("api_stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listTVShows(w http.ResponseWriter, r *http.Request) {
	shows, err := s.admin.TVShows(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if shows == nil {
		shows = []episode.TVShow{}
	}
	writeJSON(w, http.StatusOK, shows)
}

type tvshowRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Quality string `json:"quality"`
}

func (s *Server) addTVShow(w http.ResponseWriter, r *http.Request) {
	var body tvshowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	body.ID = strings.TrimSpace(body.ID)
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	show := episode.TVShow{ID: body.ID, Name: body.Name, Quality: episode.QualitySD}
	if body.Quality != "" {
		quality, err := episode.ParseQuality(body.Quality)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		show.Quality = quality
	}

	if err := s.admin.AddTVShow(r.Context(), show); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, show)
}

func (s *Server) removeTVShow(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.RemoveTVShow(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setQuality(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Quality string `json:"quality"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	quality, err := episode.ParseQuality(body.Quality)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.admin.SetTVShowQuality(r.Context(), chi.URLParam(r, "id"), quality); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listEpisodesFor(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.admin.EpisodesFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if episodes == nil {
		episodes = []episode.Episode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) listEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.admin.Episodes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if episodes == nil {
		episodes = []episode.Episode{}
	}
	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) runPass(w http.ResponseWriter, r *http.Request) {
	res, err := s.admin.RunPass(r.Context())
	if err != nil {
		// Pass errors are store or logic failures, never a missing resource.
		s.logger.Error("api_pass_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// fail maps store errors to status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, db.ErrEntryExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("api_request_failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
