package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"dropagent/internal/agent"
	"dropagent/internal/common"
	"dropagent/internal/config"
	"dropagent/internal/journal"
)

// StatsSource exposes the agent's counters to the status endpoint.
type StatsSource interface {
	Snapshot() agent.Stats
}

// Service bundles the dependencies of the status endpoints. The server is a
// read-only operational window; it takes no part in job processing.
type Service struct {
	Log   *slog.Logger
	Cfg   *config.Config
	Agent StatsSource
	Store journal.Store // optional
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc(http.MethodGet+" "+common.PathStatus, svc.handleStatus)

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

type statusResponse struct {
	Stats      agent.Stats   `json:"stats"`
	RecentRuns []runResponse `json:"recent_runs"`
}

type runResponse struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Action        string     `json:"action,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Stats: svc.Agent.Snapshot(), RecentRuns: []runResponse{}}
	if svc.Store != nil {
		runs, err := svc.Store.RecentRuns(common.DefaultRecentRuns)
		if err != nil {
			svc.Log.Warn("read journal for status", "err", err)
		}
		for _, run := range runs {
			resp.RecentRuns = append(resp.RecentRuns, runResponse{
				ID:            run.ID,
				Filename:      run.Filename,
				CorrelationID: run.CorrelationID,
				Action:        run.Action,
				Outcome:       run.Outcome,
				Error:         run.ErrorMessage,
				CreatedAt:     run.CreatedAt,
				CompletedAt:   run.CompletedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("handler panic", "panic", rec, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
