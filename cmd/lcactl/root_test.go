package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []recordedCall
	srv   *httptest.Server
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		_, _ = body.ReadFrom(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{
			Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery,
			Auth: r.Header.Get("Authorization"), Body: body.String(),
		})
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func runCmd(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--api", api.srv.URL, "--token", "tok"}, args...))
	err := root.Execute()
	return buf.String(), err
}

func writeJSONBody(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"file", "list", "active", "result", "progress", "pending", "resolve", "history", "cancel"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}
}

func TestFileCmd_SubmitsEachApplication(t *testing.T) {
	n := 0
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		n++
		writeJSONBody(w, http.StatusAccepted, map[string]string{"filing_id": "f-" + string(rune('0'+n)), "status": "queued"})
	})

	path := filepath.Join(t.TempDir(), "apps.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"app-1"},{"id":"app-2"}]`), 0o600))

	out, err := runCmd(t, api, "file", "--input", path)
	require.NoError(t, err)

	calls := api.recorded()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, http.MethodPost, c.Method)
		assert.Equal(t, "/v1/filings", c.Path)
		assert.Equal(t, "Bearer tok", c.Auth)
	}
	assert.Contains(t, calls[0].Body, `"id":"app-1"`)
	assert.Contains(t, out, "app-1\tf-1\tqueued")
	assert.Contains(t, out, "app-2\tf-2\tqueued")
}

func TestFileCmd_WaitReportsValidationFailures(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, http.StatusUnprocessableEntity, map[string]string{"error": "employer is required"})
	})

	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetIn(strings.NewReader(`{"id":"app-9"}`))
	root.SetArgs([]string{"--api", api.srv.URL, "file", "--wait"})
	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 submissions failed")
	assert.Contains(t, buf.String(), "app-9\tvalidation_failed\temployer is required")
	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "wait=true", calls[0].Query)
	assert.Empty(t, calls[0].Auth)
}

func TestReadApplications(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantIDs []string
		wantErr bool
	}{
		{name: "single object", input: `{"id":"a"}`, wantIDs: []string{"a"}},
		{name: "array", input: ` [{"id":"a"},{"id":"b"}]`, wantIDs: []string{"a", "b"}},
		{name: "empty", input: "  ", wantErr: true},
		{name: "malformed", input: `{"id":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apps, err := readApplications(strings.NewReader(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, a := range apps {
				ids = append(ids, a.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{
		"employer_fein=12-3456789",
		`additional_worksites=[{"city":"Austin"}]`,
		"note=[not json",
	})
	require.NoError(t, err)
	assert.Equal(t, "12-3456789", values["employer_fein"])
	assert.Equal(t, []any{map[string]any{"city": "Austin"}}, values["additional_worksites"])
	assert.Equal(t, "[not json", values["note"])

	_, err = parseAssignments(nil)
	require.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	require.Error(t, err)
	_, err = parseAssignments([]string{"novalue"})
	require.Error(t, err)
}

func TestResolveCmd_PostsValues(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, http.StatusOK, map[string]string{"status": "resolved"})
	})

	out, err := runCmd(t, api, "resolve", "f-1", "--set", "wage_rate=95000", "--note", "checked OFLC")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved f-1 (1 field(s))")

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/v1/filings/f-1/interaction", calls[0].Path)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(calls[0].Body), &body))
	assert.Equal(t, map[string]any{"wage_rate": "95000"}, body["values"])
	assert.Equal(t, "checked OFLC", body["note"])
}

func TestResolveCmd_NothingPending(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, http.StatusNotFound, map[string]string{"error": "no pending interaction"})
	})

	_, err := runCmd(t, api, "resolve", "f-1", "--set", "a=b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no pending interaction")
}

func TestPendingCmd_PrintsPrompts(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, http.StatusOK, map[string]any{
			"section":  "Section F",
			"guidance": "Section F has 1 validation error(s)",
			"errors":   []string{"wage_rate: must exceed prevailing wage"},
			"fields": []map[string]any{
				{"field_id": "wage_rate", "type": "currency", "required": true, "current": "50000", "suggested": "95000"},
				{"field_id": "wage_unit", "type": "select", "options": []string{"Year", "Hour"}},
			},
		})
	})

	out, err := runCmd(t, api, "pending", "f-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Section F\n")
	assert.Contains(t, out, "! wage_rate: must exceed prevailing wage")
	assert.Contains(t, out, "wage_rate (currency, required) current=50000 suggested=95000")
	assert.Contains(t, out, "wage_unit (select) options=Year|Hour")
	assert.Equal(t, "/v1/filings/f-1/interaction", api.recorded()[0].Path)
}

func TestProgressCmd_FollowStopsWhenFinished(t *testing.T) {
	n := 0
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		n++
		st := map[string]any{"status": "in_progress", "stage": "filling_sections", "percentage": 40.0, "current_section": "Section C"}
		if n > 1 {
			st = map[string]any{"status": "completed", "stage": "completed", "percentage": 100.0}
		}
		writeJSONBody(w, http.StatusOK, st)
	})

	out, err := runCmd(t, api, "progress", "f-1", "--follow", "--interval", "1ms")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, " 40.0%\tin_progress\tfilling_sections\tSection C", lines[0])
	assert.Equal(t, "100.0%\tcompleted\tcompleted", lines[1])
}

func TestListResultAndCancel(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/filings":
			writeJSONBody(w, http.StatusOK, map[string]any{"filings": []map[string]any{
				{"filing_id": "f-1", "application_id": "app-1", "status": "success", "confirmation_number": "I-200-1"},
			}})
		case r.Method == http.MethodGet:
			writeJSONBody(w, http.StatusOK, map[string]any{"filing_id": "f-1", "status": "success"})
		case r.Method == http.MethodDelete:
			writeJSONBody(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		}
	})

	out, err := runCmd(t, api, "list", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "f-1\tapp-1\tsuccess\tI-200-1\n", out)

	out, err = runCmd(t, api, "result", "f-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "success"`)

	out, err = runCmd(t, api, "cancel", "f-1")
	require.NoError(t, err)
	assert.Equal(t, "cancelling f-1\n", out)

	calls := api.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, "limit=5", calls[0].Query)
	assert.Equal(t, "/v1/filings/f-1", calls[1].Path)
	assert.Equal(t, http.MethodDelete, calls[2].Method)
}

func TestActive(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONBody(w, http.StatusOK, map[string]any{"filings": []map[string]any{
			{"filing_id": "f-2", "percentage": 37.5, "status": "paused", "current_section": "Section B", "awaiting_interaction": true},
			{"filing_id": "f-3", "percentage": 5, "status": "in_progress"},
		}})
	})

	out, err := runCmd(t, api, "active")
	require.NoError(t, err)
	assert.Equal(t, "f-2\t 37.5%\tpaused\tSection B\tawaiting operator\nf-3\t  5.0%\tin_progress\t\n", out)

	calls := api.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "/v1/filings/active", calls[0].Path)
}
