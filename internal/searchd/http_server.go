package searchd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/GoSim-25-26J-441/quant-hpo/pkg/logger"
)

const maxConfigBytes = 1 << 20

// HTTPOptions configures the HTTP API
type HTTPOptions struct {
	// SubmitRate limits POST /v1/searches per second; zero disables the limit
	SubmitRate  float64
	SubmitBurst int
	// Gatherer backs GET /metrics; nil omits the endpoint
	Gatherer prometheus.Gatherer
}

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	limiter  *rate.Limiter
}

func NewHTTPServer(store *RunStore, executor *RunExecutor, opts HTTPOptions) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
	}
	if opts.SubmitRate > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRate), burst)
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/searches", s.handleSearches)
	s.mux.HandleFunc("/v1/searches/", s.handleSearchByID)
	if opts.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSearches handles /v1/searches
func (s *HTTPServer) handleSearches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSearchByID handles /v1/searches/{id}, {id}/trials and {id}:stop
func (s *HTTPServer) handleSearchByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/searches/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "search ID is required")
		return
	}

	if strings.HasSuffix(path, ":stop") {
		id := strings.TrimSuffix(path, ":stop")
		if r.Method == http.MethodPost {
			s.handleStop(w, id)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/trials") {
		id := strings.TrimSuffix(path, "/trials")
		if r.Method == http.MethodGet {
			s.handleTrials(w, id)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method == http.MethodGet {
		s.handleGet(w, path)
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSubmit handles POST /v1/searches. The body is the YAML search config;
// optional query parameters id and budget name the search and cap its trials.
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		s.writeError(w, http.StatusTooManyRequests, "submission rate exceeded")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		s.writeError(w, http.StatusBadRequest, "config is required")
		return
	}

	budget := 0
	if b := r.URL.Query().Get("budget"); b != "" {
		budget, err = strconv.Atoi(b)
		if err != nil || budget < 0 {
			s.writeError(w, http.StatusBadRequest, "budget must be a non-negative integer")
			return
		}
	}

	rec, err := s.Executor.Submit(r.URL.Query().Get("id"), string(body), budget)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidConfig):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrRunExists):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	logger.Info("search submitted (HTTP)", "search_id", rec.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{"search": recordView(rec)})
}

// handleList handles GET /v1/searches?limit=&status=
func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, 1000)
		}
	}
	var status Status
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status = ParseStatus(statusStr)
		if status == "" {
			s.writeError(w, http.StatusBadRequest, "unknown status "+statusStr)
			return
		}
	}

	recs := s.store.List(limit, status)
	searches := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		searches = append(searches, recordView(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"searches": searches,
		"count":    len(searches),
	})
}

// handleGet handles GET /v1/searches/{id}
func (s *HTTPServer) handleGet(w http.ResponseWriter, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"search": recordView(rec)})
}

// handleTrials handles GET /v1/searches/{id}/trials
func (s *HTTPServer) handleTrials(w http.ResponseWriter, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "search not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"search_id": rec.ID,
		"trials":    trialsView(rec.Trials),
	})
}

// handleStop handles POST /v1/searches/{id}:stop
func (s *HTTPServer) handleStop(w http.ResponseWriter, id string) {
	updated, err := s.Executor.Stop(id)
	if err != nil {
		switch {
		case errors.Is(err, ErrRunNotFound):
			s.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrRunIDMissing):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrRunTerminal):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	logger.Info("search cancelled (HTTP)", "search_id", id)
	s.writeJSON(w, http.StatusOK, map[string]any{"search": recordView(updated)})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}
