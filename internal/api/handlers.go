// File: internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdpfleet/internal/observability"
	"github.com/xkilldash9x/cdpfleet/internal/orchestrator"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes caps request bodies; the largest legitimate one is a batch
// profile list.
const maxBodyBytes = 1 << 20

// Controller is the orchestrator surface the handlers drive.
// *orchestrator.Orchestrator satisfies it.
type Controller interface {
	StartBatch(profileIDs []string, delay time.Duration, onComplete orchestrator.CompletionFunc) bool
	StopBatch() int
	StopSession(profileID string) bool
	MarkComplete(profileID string, success bool, reason string) bool
	Status(profileID string) (orchestrator.Status, bool)
	Result(profileID string) (orchestrator.SessionResult, bool)
	Results() map[string]orchestrator.SessionResult
	Statistics() orchestrator.Statistics
	IsBatchRunning() bool
	BatchID() string
	MaxConcurrent() int
}

// ActiveLister lists profiles with a live browser. *browser.Manager
// satisfies it.
type ActiveLister interface {
	Active() []string
}

// Handlers manages the HTTP request handling for the control API.
type Handlers struct {
	log    *zap.Logger
	orch   Controller
	active ActiveLister
}

// NewHandlers creates a new Handlers instance. active may be nil.
func NewHandlers(logger *zap.Logger, orch Controller, active ActiveLister) *Handlers {
	return &Handlers{
		log:    logger.Named("api_handlers"),
		orch:   orch,
		active: active,
	}
}

// RegisterRoutes mounts the read-only routes on r and the mutating routes
// on the throttled group.
func (h *Handlers) RegisterRoutes(r chi.Router, throttle func(http.Handler) http.Handler) {
	r.Get("/healthz", h.HandleHealthCheck)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	r.Get("/sessions", h.HandleListSessions)
	r.Get("/sessions/{id}", h.HandleGetSession)
	r.Get("/stats", h.HandleStats)

	r.Group(func(r chi.Router) {
		r.Use(throttle)
		r.Post("/batch", h.HandleStartBatch)
		r.Delete("/batch", h.HandleStopBatch)
		r.Delete("/sessions/{id}", h.HandleStopSession)
		r.Post("/sessions/{id}/complete", h.HandleComplete)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	results := h.orch.Results()
	view := SessionsView{
		BatchID:      h.orch.BatchID(),
		BatchRunning: h.orch.IsBatchRunning(),
		Results:      make([]orchestrator.SessionResult, 0, len(results)),
	}
	for _, res := range results {
		view.Results = append(view.Results, res)
	}
	sort.Slice(view.Results, func(i, j int) bool {
		return view.Results[i].ProfileID < view.Results[j].ProfileID
	})
	if h.active != nil {
		view.Active = h.active.Active()
	}
	h.respondWithSuccess(w, http.StatusOK, view)
}

func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if res, ok := h.orch.Result(id); ok {
		h.respondWithSuccess(w, http.StatusOK, res)
		return
	}
	// Sessions launched outside a batch have no result, only a status.
	if status, ok := h.orch.Status(id); ok {
		h.respondWithSuccess(w, http.StatusOK, orchestrator.SessionResult{ProfileID: id, Status: status})
		return
	}
	h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown session: %s", id))
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.respondWithSuccess(w, http.StatusOK, StatsView{
		Statistics:    h.orch.Statistics(),
		MaxConcurrent: h.orch.MaxConcurrent(),
		BatchRunning:  h.orch.IsBatchRunning(),
	})
}

// HandleStartBatch starts a batch in the background and answers 202.
func (h *Handlers) HandleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	profiles := make([]string, 0, len(req.Profiles))
	for _, p := range req.Profiles {
		if p = strings.TrimSpace(p); p != "" {
			profiles = append(profiles, p)
		}
	}
	if len(profiles) == 0 {
		h.respondWithError(w, http.StatusBadRequest, "At least one profile id is required.")
		return
	}

	delay := time.Duration(-1)
	if req.Delay != "" {
		d, err := time.ParseDuration(req.Delay)
		if err != nil || d < 0 {
			h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid delay %q.", req.Delay))
			return
		}
		delay = d
	}

	logger := h.log
	if !h.orch.StartBatch(profiles, delay, func(res orchestrator.SessionResult) {
		logger.Info("Session dispatched.",
			zap.String("profile", res.ProfileID),
			zap.String("status", string(res.Status)),
			zap.String("error", res.Error),
		)
	}) {
		h.respondWithError(w, http.StatusConflict, "A batch is already running.")
		return
	}

	h.log.Info("Batch accepted.", zap.Int("profiles", len(profiles)))
	h.respondWithStatus(w, http.StatusAccepted, "accepted", BatchStatus{
		BatchID:  h.orch.BatchID(),
		Profiles: len(profiles),
	})
}

func (h *Handlers) HandleStopBatch(w http.ResponseWriter, r *http.Request) {
	closed := h.orch.StopBatch()
	h.respondWithSuccess(w, http.StatusOK, map[string]int{"closed": closed})
}

func (h *Handlers) HandleStopSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.orch.StopSession(id) {
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("No running browser for %s.", id))
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"profile_id": id, "status": string(orchestrator.StatusStopped)})
}

func (h *Handlers) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := CompleteRequest{Success: true}
	if r.ContentLength != 0 && !h.decodeOptional(w, r, &req) {
		return
	}
	if !h.orch.MarkComplete(id, req.Success, req.Reason) {
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Unknown session: %s", id))
		return
	}
	res, _ := h.orch.Result(id)
	h.respondWithSuccess(w, http.StatusOK, res)
}

// decode reads a JSON body into v and answers 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := codec.NewDecoder(body).Decode(v); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptional is decode for bodies that may be empty, as with a chunked
// request carrying no data. An empty body leaves v untouched.
func (h *Handlers) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := codec.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.write(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data any) {
	h.respondWithStatus(w, statusCode, "success", data)
}

func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data any) {
	h.write(w, statusCode, Response{Status: status, Data: data})
}

func (h *Handlers) write(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := codec.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
