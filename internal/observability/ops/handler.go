package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"immunizer/internal/jobs"
	"immunizer/internal/notifier"
	"immunizer/internal/storage"
	logx "immunizer/pkg/logx"
)

// Handler builds the router. Every route sits behind the token check when one is set.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router(s.cfg, s.deliveries)
}

func (s *Service) router(cfg Config, deliveries func() []notifier.HistoryItem) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(bearerAuth(cfg.Token))

	r.Get("/healthz", s.handleHealth)
	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/history", s.handleHistory)
	r.Post("/jobs/{name}/run", s.handleRun)
	if deliveries != nil {
		r.Get("/notifications/recent", func(w http.ResponseWriter, _ *http.Request) {
			items := deliveries()
			if items == nil {
				items = []notifier.HistoryItem{}
			}
			writeJSON(w, http.StatusOK, items)
		})
	}
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"jobs_active": s.jobs.Status().Active,
	})
}

func (s *Service) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Status())
}

// handleHistory serves the run journal. ?limit=N caps the entries (default 50).
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries := s.jobs.History(limit)
	if entries == nil {
		entries = []storage.RunEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, err := s.jobs.RunJob(r.Context(), name)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeJSON(w, http.StatusNotFound, res)
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
		if res.Message == jobs.MsgAlreadyRunning {
			status = http.StatusConflict
		}
	}
	s.log.Info("manual job run", logx.String("job", name), logx.Bool("success", res.Success), logx.String("msg", res.Message))
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
