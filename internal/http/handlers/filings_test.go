package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lca-filing-automation/internal/filing"
	"github.com/wolfman30/lca-filing-automation/internal/interaction"
	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/internal/store"
)

type fakeFilingService struct {
	mu        sync.Mutex
	submitErr error
	submitted []lca.Application
	inline    lca.FilingResult
	results   map[string]lca.FilingResult
	states    map[string]progress.State
	pending   map[string]interaction.Request
	resolved  []interaction.Result
	history   []interaction.Record
	running   map[string]bool

	// askOperator makes started filings suspend on a NAICS question.
	askOperator bool
	started     []lca.Application
	waiting     map[string]chan lca.FilingResult
	active      []progress.State
}

func newFakeFilingService() *fakeFilingService {
	return &fakeFilingService{
		results: make(map[string]lca.FilingResult),
		states:  make(map[string]progress.State),
		pending: make(map[string]interaction.Request),
		running: make(map[string]bool),
		waiting: make(map[string]chan lca.FilingResult),
	}
}

func (f *fakeFilingService) Submit(_ context.Context, app lca.Application) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, app)
	return "filing-1", nil
}

func (f *fakeFilingService) Start(_ context.Context, app lca.Application) (string, <-chan lca.FilingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, app)
	filingID := "inline-1"
	done := make(chan lca.FilingResult, 1)
	if f.askOperator {
		f.pending[filingID] = interaction.Request{
			ID:       "req-1",
			FilingID: filingID,
			Section:  "Section B: Employer Information",
			Fields:   []interaction.FieldPrompt{{FieldID: "naics_code", Type: "text", Required: true}},
		}
		f.waiting[filingID] = done
		return filingID, done
	}
	res := f.inline
	res.FilingID = filingID
	res.ApplicationID = app.ID
	done <- res
	return filingID, done
}

func (f *fakeFilingService) Cancel(filingID string) bool { return f.running[filingID] }

func (f *fakeFilingService) ActiveFilings() []progress.State { return f.active }

func (f *fakeFilingService) GetResult(_ context.Context, filingID string) (lca.FilingResult, error) {
	res, ok := f.results[filingID]
	if !ok {
		return lca.FilingResult{}, store.ErrNotFound
	}
	return res, nil
}

func (f *fakeFilingService) ListResults(_ context.Context, limit int) ([]lca.FilingResult, error) {
	var out []lca.FilingResult
	for _, r := range f.results {
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeFilingService) GetProgress(_ context.Context, filingID string) (progress.State, bool, error) {
	st, ok := f.states[filingID]
	return st, ok, nil
}

func (f *fakeFilingService) GetPendingInteraction(filingID string) (*interaction.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.pending[filingID]
	if !ok {
		return nil, false
	}
	return &req, true
}

func (f *fakeFilingService) ResolveInteraction(_ context.Context, filingID string, res interaction.Result) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.pending[filingID]
	if !ok {
		return false, nil
	}
	if err := interaction.ValidateResult(req, res); err != nil {
		return false, err
	}
	f.resolved = append(f.resolved, res)
	delete(f.pending, filingID)
	if done, ok := f.waiting[filingID]; ok {
		delete(f.waiting, filingID)
		done <- lca.FilingResult{FilingID: filingID, Status: lca.StatusSuccess, ConfirmationNumber: "I-200-26288-512345"}
	}
	return true, nil
}

func (f *fakeFilingService) InteractionHistory(_ context.Context, _ string) ([]interaction.Record, error) {
	return f.history, nil
}

func filingRoutes(h *FilingsHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/filings", h.Submit)
	r.Get("/v1/filings", h.List)
	r.Get("/v1/filings/active", h.Active)
	r.Get("/v1/filings/{filingID}", h.GetResult)
	r.Delete("/v1/filings/{filingID}", h.Cancel)
	r.Get("/v1/filings/{filingID}/progress", h.GetProgress)
	r.Get("/v1/filings/{filingID}/interaction", h.GetInteraction)
	r.Post("/v1/filings/{filingID}/interaction", h.ResolveInteraction)
	r.Get("/v1/filings/{filingID}/interactions", h.InteractionHistory)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSubmitQueuesFiling(t *testing.T) {
	svc := newFakeFilingService()
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodPost, "/v1/filings", `{"id":"app-1","employer":{"name":"Acme Corp"}}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FilingID != "filing-1" || resp.Status != "queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(svc.submitted) != 1 || svc.submitted[0].ID != "app-1" {
		t.Fatalf("expected application to be submitted, got %+v", svc.submitted)
	}
}

func TestSubmitRejectsMalformedJSON(t *testing.T) {
	h := filingRoutes(NewFilingsHandler(newFakeFilingService(), nil))
	rec := do(t, h, http.MethodPost, "/v1/filings", `{"id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitStartsFilingWithoutQueue(t *testing.T) {
	svc := newFakeFilingService()
	svc.submitErr = filing.ErrQueueDisabled
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodPost, "/v1/filings", `{"id":"app-2"}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(FilingIDHeader); got != "inline-1" {
		t.Fatalf("expected filing id header, got %q", got)
	}
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.FilingID != "inline-1" || resp.Status != "running" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(svc.started) != 1 || svc.started[0].ID != "app-2" {
		t.Fatalf("expected application to be started, got %+v", svc.started)
	}
}

func TestSubmitWaitReturnsValidationFailure(t *testing.T) {
	svc := newFakeFilingService()
	svc.inline = lca.FilingResult{Status: lca.StatusValidationFailed, Error: "Missing employer information"}
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodPost, "/v1/filings?wait=true", `{"id":"app-2"}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for validation failure, got %d", rec.Code)
	}
	if got := rec.Header().Get(FilingIDHeader); got != "inline-1" {
		t.Fatalf("expected filing id header, got %q", got)
	}
	var res lca.FilingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ApplicationID != "app-2" || res.Status != lca.StatusValidationFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(svc.submitted) != 0 {
		t.Fatalf("wait must not queue, got %+v", svc.submitted)
	}
}

func TestSubmitWaitHandsOutFilingIDWhileOperatorIsNeeded(t *testing.T) {
	svc := newFakeFilingService()
	svc.askOperator = true
	handler := NewFilingsHandler(svc, nil)
	handler.pendingPoll = 5 * time.Millisecond
	srv := httptest.NewServer(filingRoutes(handler))
	defer srv.Close()

	// Headers arrive as soon as the filing asks for an operator.
	resp, err := http.Post(srv.URL+"/v1/filings?wait=true", "application/json", strings.NewReader(`{"id":"app-7"}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	filingID := resp.Header.Get(FilingIDHeader)
	if filingID != "inline-1" {
		t.Fatalf("expected filing id header, got %q", filingID)
	}

	pending, err := http.Get(srv.URL + "/v1/filings/" + filingID + "/interaction")
	if err != nil {
		t.Fatalf("get interaction: %v", err)
	}
	pending.Body.Close()
	if pending.StatusCode != http.StatusOK {
		t.Fatalf("expected pending interaction, got %d", pending.StatusCode)
	}

	resolved, err := http.Post(srv.URL+"/v1/filings/"+filingID+"/interaction", "application/json",
		strings.NewReader(`{"values":{"naics_code":"541512"}}`))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	resolved.Body.Close()
	if resolved.StatusCode != http.StatusOK {
		t.Fatalf("expected resolve to succeed, got %d", resolved.StatusCode)
	}

	var res lca.FilingResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Status != lca.StatusSuccess || res.FilingID != filingID {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestActiveFilings(t *testing.T) {
	svc := newFakeFilingService()
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodGet, "/v1/filings/active", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"filings":[]`) {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}

	svc.active = []progress.State{{FilingID: "inline-1", Status: progress.StatusPaused, AwaitingInteraction: true}}
	rec = do(t, h, http.MethodGet, "/v1/filings/active", "")
	var resp struct {
		Filings []progress.State `json:"filings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Filings) != 1 || resp.Filings[0].FilingID != "inline-1" || !resp.Filings[0].AwaitingInteraction {
		t.Fatalf("unexpected active filings %+v", resp.Filings)
	}
}

func TestSubmitQueueFailure(t *testing.T) {
	svc := newFakeFilingService()
	svc.submitErr = errors.New("sqs down")
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodPost, "/v1/filings", `{"id":"app-3"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestGetResult(t *testing.T) {
	svc := newFakeFilingService()
	svc.results["done"] = lca.FilingResult{FilingID: "done", Status: lca.StatusSuccess, ConfirmationNumber: "I-200-26288-512345"}
	svc.states["running"] = progress.State{FilingID: "running", Status: progress.StatusInProgress}
	h := filingRoutes(NewFilingsHandler(svc, nil))

	t.Run("terminal", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/filings/done", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "I-200-26288-512345") {
			t.Fatalf("expected confirmation number in body: %s", rec.Body.String())
		}
	})
	t.Run("still running", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/filings/running", "")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/v1/filings/nope", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestListRejectsBadLimit(t *testing.T) {
	h := filingRoutes(NewFilingsHandler(newFakeFilingService(), nil))
	rec := do(t, h, http.MethodGet, "/v1/filings?limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/filings", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"filings":[]`) {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetProgress(t *testing.T) {
	svc := newFakeFilingService()
	svc.states["f1"] = progress.State{FilingID: "f1", Percentage: 42.5, Status: progress.StatusPaused, AwaitingInteraction: true}
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodGet, "/v1/filings/f1/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st progress.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Percentage != 42.5 || !st.AwaitingInteraction {
		t.Fatalf("unexpected state %+v", st)
	}

	rec = do(t, h, http.MethodGet, "/v1/filings/f2/progress", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancel(t *testing.T) {
	svc := newFakeFilingService()
	svc.running["f1"] = true
	h := filingRoutes(NewFilingsHandler(svc, nil))

	if rec := do(t, h, http.MethodDelete, "/v1/filings/f1", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/v1/filings/f2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInteractionRoundTrip(t *testing.T) {
	svc := newFakeFilingService()
	svc.pending["f1"] = interaction.Request{
		ID:       "req-1",
		FilingID: "f1",
		Section:  "Section B: Employer Information",
		Fields: []interaction.FieldPrompt{
			{FieldID: "naics_code", Label: "NAICS Code", Type: "text", Required: true, Error: "Invalid NAICS code"},
		},
		HasErrors: true,
	}
	h := filingRoutes(NewFilingsHandler(svc, nil))

	rec := do(t, h, http.MethodGet, "/v1/filings/f1/interaction", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "naics_code") {
		t.Fatalf("expected pending request, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/v1/filings/f1/interaction", `{"values":{"bogus":"1"}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid result, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/filings/f1/interaction", `{"values":{"naics_code":"541512"},"operator":"ops@acme.example"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if len(svc.resolved) != 1 || svc.resolved[0].Values["naics_code"] != "541512" {
		t.Fatalf("expected resolved values, got %+v", svc.resolved)
	}

	rec = do(t, h, http.MethodPost, "/v1/filings/f1/interaction", `{"values":{"naics_code":"541512"}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 once nothing is pending, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/v1/filings/f1/interaction", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestInteractionHistoryEmpty(t *testing.T) {
	h := filingRoutes(NewFilingsHandler(newFakeFilingService(), nil))
	rec := do(t, h, http.MethodGet, "/v1/filings/f1/interactions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"interactions":[]`) {
		t.Fatalf("expected empty history, got %d %s", rec.Code, rec.Body.String())
	}
}
