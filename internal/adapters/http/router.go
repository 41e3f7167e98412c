package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmrestrepo/expedientes-rag/internal/core/domain"
	"github.com/jmrestrepo/expedientes-rag/internal/core/ports"
	"github.com/jmrestrepo/expedientes-rag/internal/infrastructure/report"
	"github.com/jmrestrepo/expedientes-rag/internal/observability/metrics"
)

// AnswerService and HealthService are the use-case surfaces the router
// depends on; the concrete types live in core/usecase.
type AnswerService interface {
	Answer(ctx context.Context, question, userID string, caller domain.FilterContext) (*domain.Answer, error)
}

type HealthService interface {
	Check(ctx context.Context) domain.ServiceHealth
}

const (
	defaultStatsDays   = 30
	defaultHistorySize = 20
	defaultGraphFreq   = 2
)

type RouterOptions struct {
	Service        string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
}

type Router struct {
	answerUC   AnswerService
	healthUC   HealthService
	repo       ports.CaseRepository
	searcher   ports.ChunkSearcher
	traceStore ports.TraceStore
	graph      ports.GraphStore
	metrics    *metrics.HTTPServerMetrics
	opts       RouterOptions
}

func NewRouter(
	answerUC AnswerService,
	healthUC HealthService,
	repo ports.CaseRepository,
	searcher ports.ChunkSearcher,
	traceStore ports.TraceStore,
	graph ports.GraphStore,
	m *metrics.HTTPServerMetrics,
	opts RouterOptions,
) *Router {
	if opts.Service == "" {
		opts.Service = "api"
	}
	return &Router{
		answerUC:   answerUC,
		healthUC:   healthUC,
		repo:       repo,
		searcher:   searcher,
		traceStore: traceStore,
		graph:      graph,
		metrics:    m,
		opts:       opts,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", rt.query)
	mux.HandleFunc("POST /feedback", rt.feedback)
	mux.HandleFunc("GET /stats", rt.stats)
	mux.HandleFunc("GET /stats/export", rt.statsExport)
	mux.HandleFunc("GET /health", rt.health)
	mux.HandleFunc("GET /options/{field}", rt.options)
	mux.HandleFunc("GET /history", rt.history)
	mux.HandleFunc("GET /graph/network", rt.graphNetwork)
	mux.HandleFunc("GET /context", rt.chunkContext)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.opts.MaxInFlight, 100*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.opts.Service, handler)
	}
	return handler
}

type queryRequest struct {
	Question string               `json:"question"`
	UserID   string               `json:"user_id,omitempty"`
	Filters  domain.FilterRequest `json:"filters"`
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	filters, err := domain.FilterFromRequest(req.Filters)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	answer, err := rt.answerUC.Answer(r.Context(), req.Question, req.UserID, filters)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordQuery(rt.opts.Service, answer.Method, len(answer.Citations), time.Since(start))
		for _, warning := range answer.Warnings {
			rt.metrics.RecordWarning(rt.opts.Service, warning)
		}
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) feedback(w http.ResponseWriter, r *http.Request) {
	var fb domain.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := rt.traceStore.RecordFeedback(r.Context(), fb)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordFeedback(rt.opts.Service, fb.Rating)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"feedback_id": id})
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.traceStore.Stats(r.Context(), intQuery(r, "days", defaultStatsDays))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) statsExport(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.traceStore.Stats(r.Context(), intQuery(r, "days", defaultStatsDays))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="consultas.xlsx"`)
	if err := report.WriteStatsWorkbook(w, stats); err != nil {
		// headers are already out; nothing sensible left to send
		return
	}
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	health := rt.healthUC.Check(r.Context())
	status := http.StatusOK
	if !health.Relational && !health.Index {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (rt *Router) options(w http.ResponseWriter, r *http.Request) {
	values, err := rt.repo.EntityOptions(r.Context(), r.PathValue("field"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entries, err := rt.traceStore.History(r.Context(), userID, intQuery(r, "limit", defaultHistorySize))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (rt *Router) graphNetwork(w http.ResponseWriter, r *http.Request) {
	if rt.graph == nil {
		writeJSONError(w, http.StatusNotFound, "graph view is not configured")
		return
	}

	network, err := rt.graph.Network(r.Context(), intQuery(r, "min_freq", defaultGraphFreq))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, network)
}

func (rt *Router) chunkContext(w http.ResponseWriter, r *http.Request) {
	documentoID := strings.TrimSpace(r.URL.Query().Get("documento_id"))
	pagina := intQuery(r, "pagina", 0)

	chunks, err := rt.searcher.FetchContext(r.Context(), documentoID, pagina)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, mapErrorToHTTPStatus(err), err.Error())
}
