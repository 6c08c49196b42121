package httpadapter

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/paul-heyse/medkg-retrieval/internal/core/domain"
	"github.com/paul-heyse/medkg-retrieval/internal/core/ports"
)

// RouterConfig carries the transport-level knobs the router needs.
type RouterConfig struct {
	RequestsPerSecond float64
	RequestBurst      int
	MaxInFlight       int
	QueueWait         time.Duration
}

type Router struct {
	api            ports.RetrievalAPI
	metricsHandler http.Handler
	instrument     func(path string, next http.Handler) http.Handler
	cfg            RouterConfig
}

func NewRouter(api ports.RetrievalAPI, metricsHandler http.Handler, instrument func(string, http.Handler) http.Handler, cfg RouterConfig) *Router {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 100
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 256
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 100 * time.Millisecond
	}
	return &Router{
		api:            api,
		metricsHandler: metricsHandler,
		instrument:     instrument,
		cfg:            cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rt.cfg.RequestsPerSecond), rt.cfg.RequestBurst)

	retrieve := http.Handler(http.HandlerFunc(rt.retrieve))
	if rt.instrument != nil {
		retrieve = rt.instrument("/v1/retrieve", retrieve)
	}
	retrieve = backpressureMiddleware(retrieve, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	retrieve = rateLimitMiddleware(retrieve, limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/retrieve", retrieve)
	if rt.metricsHandler != nil {
		mux.Handle("/metrics", rt.metricsHandler)
	}
	return requestIDMiddleware(accessLogMiddleware(mux))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveRequest struct {
	Query   string          `json:"query"`
	Intent  string          `json:"intent,omitempty"`
	Filters *requestFilters `json:"filters,omitempty"`
	TopK    int             `json:"topK,omitempty"`
	Rerank  *bool           `json:"rerank,omitempty"`
	Explain *bool           `json:"explain,omitempty"`
	Pinned  bool            `json:"pinned,omitempty"`
}

type requestFilters struct {
	FacetType string        `json:"facet_type,omitempty"`
	Source    string        `json:"source,omitempty"`
	DateFrom  string        `json:"date_from,omitempty"`
	DateTo    string        `json:"date_to,omitempty"`
	Codes     []domain.Code `json:"codes,omitempty"`
	MinScore  float64       `json:"min_score,omitempty"`
}

type retrieveResponse struct {
	Results  []domain.Passage `json:"results"`
	Warnings []string         `json:"warnings"`
	Degraded bool             `json:"degraded,omitempty"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	filters, err := parseFilters(req.Filters)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	apiReq := ports.RetrievalRequest{
		Query:   req.Query,
		Intent:  req.Intent,
		Filters: filters,
		TopK:    req.TopK,
		Rerank:  true,
		Explain: true,
	}
	if req.Rerank != nil {
		apiReq.Rerank = *req.Rerank
	}
	if req.Explain != nil {
		apiReq.Explain = *req.Explain
	}
	// Pinned extends the cache TTL; only the caller knows whether a query is
	// a saved one, so it is never inferred from filters.
	apiReq.Pinned = req.Pinned

	result, err := rt.api.Retrieve(r.Context(), apiReq)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= 500 {
			slog.Error("retrieve_failed",
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{
		Results:  result.Passages,
		Warnings: warnings,
		Degraded: result.Degraded,
	})
}

func parseFilters(in *requestFilters) (domain.Filters, error) {
	if in == nil {
		return domain.Filters{}, nil
	}
	out := domain.Filters{
		FacetType: in.FacetType,
		Source:    in.Source,
		Codes:     in.Codes,
		MinScore:  in.MinScore,
	}
	var err error
	if out.DateFrom, err = parseDate(in.DateFrom); err != nil {
		return domain.Filters{}, errors.New("invalid date_from, expected YYYY-MM-DD or RFC 3339")
	}
	if out.DateTo, err = parseDate(in.DateTo); err != nil {
		return domain.Filters{}, errors.New("invalid date_to, expected YYYY-MM-DD or RFC 3339")
	}
	return out, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
