package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/cognitive"
	"github.com/nidhogg/nuka-mind/internal/daemon"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/notify"
	"github.com/nidhogg/nuka-mind/internal/store"
)

// LoopRunner runs one cognitive loop invocation.
type LoopRunner interface {
	Run(ctx context.Context, agentID string) *cognitive.LoopResult
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	loop      LoopRunner
	scanner   cognitive.ScanRunner
	retriever *memory.Retriever
	scorer    *memory.Scorer
	heartbeat *daemon.Heartbeat
	alerts    *notify.Broadcaster
	logger    *zap.Logger
}

// NewHandler creates a new API handler. heartbeat and alerts may be nil.
func NewHandler(
	st *store.Store,
	loop LoopRunner,
	scanner cognitive.ScanRunner,
	retriever *memory.Retriever,
	scorer *memory.Scorer,
	heartbeat *daemon.Heartbeat,
	alerts *notify.Broadcaster,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     st,
		loop:      loop,
		scanner:   scanner,
		retriever: retriever,
		scorer:    scorer,
		heartbeat: heartbeat,
		alerts:    alerts,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}/state", h.getAgentState)
		r.Post("/agents/{id}/run", h.runLoop)
		r.Post("/agents/{id}/scan", h.runScan)
		r.Get("/agents/{id}/memories", h.retrieveMemories)

		r.Get("/audit", h.listAudit)
		r.Post("/activation/rescan", h.rescan)

		// Daemon routes
		r.Post("/heartbeat", h.triggerHeartbeat)
		r.Get("/daemon", h.daemonStatus)
		r.Get("/alerts", h.listAlerts)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "driver": string(h.store.Dialect())})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.ListStates(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) getAgentState(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) runLoop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res := h.loop.Run(r.Context(), id)
	status := http.StatusOK
	if res.ExitReason == cognitive.ExitAlreadyRunning {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

func (h *Handler) runScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := cognitive.ScanOnce(r.Context(), h.store, h.scanner, id, time.Now, h.logger)
	if errors.Is(err, cognitive.ErrScanInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) retrieveMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := memory.Query{
		AgentID: chi.URLParam(r, "id"),
		Legacy:  q.Get("q"),
		Limit:   intParam(q.Get("limit"), memory.DefaultRetrieveLimit),
		Touch:   q.Get("touch") == "true",
	}
	if kw := q.Get("keywords"); kw != "" {
		query.Keywords = strings.Split(kw, ",")
	}
	ranked, err := h.retriever.Retrieve(r.Context(), query)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.store.ListAudit(r.Context(), q.Get("agent"), intParam(q.Get("limit"), 50))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type rescanResponse struct {
	Scope  memory.Scope    `json:"scope"`
	Scored int             `json:"scored"`
	Top    []memory.Ranked `json:"top"`
}

func (h *Handler) rescan(w http.ResponseWriter, r *http.Request) {
	scopes := []memory.Scope{memory.ScopeMemories, memory.ScopeBeliefs}
	switch s := r.URL.Query().Get("scope"); s {
	case "", "all":
	case string(memory.ScopeMemories), string(memory.ScopeBeliefs):
		scopes = []memory.Scope{memory.Scope(s)}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown scope " + s})
		return
	}

	out := make([]rescanResponse, 0, len(scopes))
	for _, scope := range scopes {
		ranked, err := h.scorer.Rescan(r.Context(), h.store, scope)
		if err != nil {
			h.fail(w, err)
			return
		}
		top := ranked
		if len(top) > 10 {
			top = top[:10]
		}
		out = append(out, rescanResponse{Scope: scope, Scored: len(ranked), Top: top})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) triggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if h.heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "heartbeat not running"})
		return
	}
	completed := h.heartbeat.FireNow(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"completed": completed})
}

func (h *Handler) daemonStatus(w http.ResponseWriter, r *http.Request) {
	if h.heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "heartbeat not running"})
		return
	}
	writeJSON(w, http.StatusOK, h.heartbeat.Last())
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeJSON(w, http.StatusOK, []notify.Record{})
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.History(intParam(r.URL.Query().Get("limit"), 20)))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func intParam(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
