package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lca-filing-automation/internal/filing"
	httpmiddleware "github.com/wolfman30/lca-filing-automation/internal/http/middleware"
	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/store"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

const (
	maxApplicationBytes = 1 << 20
	defaultListLimit    = 50
	maxListLimit        = 500
	pendingPollInterval = 250 * time.Millisecond

	// FilingIDHeader carries the filing id on submit responses.
	FilingIDHeader = "X-Filing-ID"
)

// FilingService is the part of filing.Service the API exposes.
type FilingService interface {
	Submit(ctx context.Context, app lca.Application) (string, error)
	Start(ctx context.Context, app lca.Application) (string, <-chan lca.FilingResult)
	Cancel(filingID string) bool
	ActiveFilings() []progress.State
	GetResult(ctx context.Context, filingID string) (lca.FilingResult, error)
	ListResults(ctx context.Context, limit int) ([]lca.FilingResult, error)
	GetProgress(ctx context.Context, filingID string) (progress.State, bool, error)
	GetPendingInteraction(filingID string) (*interaction.Request, bool)
	ResolveInteraction(ctx context.Context, filingID string, res interaction.Result) (bool, error)
	InteractionHistory(ctx context.Context, filingID string) ([]interaction.Record, error)
}

var _ FilingService = (*filing.Service)(nil)

// FilingsHandler serves the filing API.
type FilingsHandler struct {
	service     FilingService
	logger      *logging.Logger
	pendingPoll time.Duration
}

func NewFilingsHandler(service FilingService, logger *logging.Logger) *FilingsHandler {
	if service == nil {
		panic("handlers: filing service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FilingsHandler{service: service, logger: logger, pendingPoll: pendingPollInterval}
}

type submitResponse struct {
	FilingID string `json:"filing_id"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit queues an application. Without a queue the filing starts in this
// process and its id is returned at once. With ?wait=true the filing runs
// here and the response carries the terminal result.
//
// The filing id is always sent in the X-Filing-ID header. A waiting filing
// is detached from the request: if the client goes away it keeps running
// until it ends or is cancelled.
func (h *FilingsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	app, err := decodeApplication(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wait := r.URL.Query().Get("wait") == "true"
	if !wait {
		id, err := h.service.Submit(r.Context(), app)
		switch {
		case err == nil:
			w.Header().Set(FilingIDHeader, id)
			writeJSON(w, http.StatusAccepted, submitResponse{FilingID: id, Status: "queued"})
			return
		case !errors.Is(err, filing.ErrQueueDisabled):
			h.logger.Error("failed to queue filing", "application_id", app.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue filing")
			return
		}
	}

	filingID, done := h.service.Start(r.Context(), app)
	w.Header().Set(FilingIDHeader, filingID)
	if !wait {
		writeJSON(w, http.StatusAccepted, submitResponse{FilingID: filingID, Status: "running"})
		return
	}
	h.await(w, r, filingID, done)
}

// await writes the terminal result of filingID. Validation runs before any
// operator question, so once the filing asks one the status is known to be
// 200 and the headers are flushed to hand the id to the client early.
func (h *FilingsHandler) await(w http.ResponseWriter, r *http.Request, filingID string, done <-chan lca.FilingResult) {
	ticker := time.NewTicker(h.pendingPoll)
	defer ticker.Stop()

	flushed := false
	for {
		select {
		case res := <-done:
			if flushed {
				_ = json.NewEncoder(w).Encode(res)
				return
			}
			status := http.StatusOK
			if res.Status == lca.StatusValidationFailed {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, res)
			return
		case <-r.Context().Done():
			h.logger.Info("client stopped waiting; filing continues", "filing_id", filingID)
			return
		case <-ticker.C:
			if flushed {
				continue
			}
			if _, ok := h.service.GetPendingInteraction(filingID); !ok {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			if err := http.NewResponseController(w).Flush(); err != nil {
				h.logger.Warn("failed to flush submit response", "filing_id", filingID, "error", err)
			}
			flushed = true
		}
	}
}

func decodeApplication(body io.Reader) (lca.Application, error) {
	var app lca.Application
	dec := json.NewDecoder(io.LimitReader(body, maxApplicationBytes))
	if err := dec.Decode(&app); err != nil {
		return lca.Application{}, errors.New("invalid application JSON: " + err.Error())
	}
	return app, nil
}

func (h *FilingsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	results, err := h.service.ListResults(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list filing results", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list filings")
		return
	}
	if results == nil {
		results = []lca.FilingResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"filings": results})
}

// Active lists filings running in this process, those waiting on an
// operator included.
func (h *FilingsHandler) Active(w http.ResponseWriter, r *http.Request) {
	states := h.service.ActiveFilings()
	if states == nil {
		states = []progress.State{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"filings": states})
}

func (h *FilingsHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	res, err := h.service.GetResult(r.Context(), filingID)
	if errors.Is(err, store.ErrNotFound) {
		// Still running filings have progress but no result yet.
		if st, ok, _ := h.service.GetProgress(r.Context(), filingID); ok {
			writeJSON(w, http.StatusAccepted, map[string]any{"filing_id": filingID, "status": st.Status})
			return
		}
		writeError(w, http.StatusNotFound, "filing not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load filing result", "filing_id", filingID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load filing")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *FilingsHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	st, ok, err := h.service.GetProgress(r.Context(), filingID)
	if err != nil {
		h.logger.Error("failed to load filing progress", "filing_id", filingID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "filing not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *FilingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	if !h.service.Cancel(filingID) {
		writeError(w, http.StatusNotFound, "filing is not running")
		return
	}
	h.logger.Info("filing cancelled by operator", "filing_id", filingID,
		"operator", httpmiddleware.OperatorFromContext(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"filing_id": filingID, "status": "cancelling"})
}

// GetInteraction returns the pending operator question. The screenshot is
// served inline as base64 by encoding/json.
func (h *FilingsHandler) GetInteraction(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	req, ok := h.service.GetPendingInteraction(filingID)
	if !ok {
		writeError(w, http.StatusNotFound, "no pending interaction")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *FilingsHandler) ResolveInteraction(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	var res interaction.Result
	if err := json.NewDecoder(io.LimitReader(r.Body, maxApplicationBytes)).Decode(&res); err != nil {
		writeError(w, http.StatusBadRequest, "invalid interaction result JSON")
		return
	}
	if operator := httpmiddleware.OperatorFromContext(r.Context()); operator != "" {
		res.Operator = operator
	}

	ok, err := h.service.ResolveInteraction(r.Context(), filingID, res)
	if errors.Is(err, interaction.ErrInvalidResult) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve interaction", "filing_id", filingID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve interaction")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no pending interaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filing_id": filingID, "resolved": true})
}

func (h *FilingsHandler) InteractionHistory(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	records, err := h.service.InteractionHistory(r.Context(), filingID)
	if err != nil {
		h.logger.Error("failed to load interaction history", "filing_id", filingID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if records == nil {
		records = []interaction.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"filing_id": filingID, "interactions": records})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
