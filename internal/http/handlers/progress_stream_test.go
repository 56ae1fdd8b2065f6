package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
)

func streamServer(t *testing.T, b *progress.Broadcaster, svc *fakeFilingService) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/v1/filings/{filingID}/progress/stream", NewProgressStream(b, svc, []string{"https://ops.example"}, nil).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestProgressStreamDeliversEventsUntilFinished(t *testing.T) {
	b := progress.NewBroadcaster(8)
	svc := newFakeFilingService()
	svc.states["f1"] = progress.State{FilingID: "f1", Status: progress.StatusInProgress, Percentage: 10}
	srv := streamServer(t, b, svc)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/filings/f1/progress/stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first progress.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.State.Percentage != 10 {
		t.Fatalf("unexpected first frame %+v", first)
	}

	ctx := context.Background()
	_ = b.OnStatusUpdate(ctx, progress.Event{FilingID: "f1", Type: progress.EventSectionStarted, Message: "Section A: Job Information"})
	_ = b.OnStatusUpdate(ctx, progress.Event{FilingID: "other", Type: progress.EventSectionStarted})
	_ = b.OnStatusUpdate(ctx, progress.Event{
		FilingID: "f1",
		Type:     progress.EventFilingFinished,
		State:    progress.State{FilingID: "f1", Status: progress.StatusCompleted, Percentage: 100},
		Message:  string(lca.StatusSuccess),
	})

	var ev progress.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read section event: %v", err)
	}
	if ev.Type != progress.EventSectionStarted || ev.FilingID != "f1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read finish event: %v", err)
	}
	if ev.Type != progress.EventFilingFinished || ev.State.Percentage != 100 {
		t.Fatalf("unexpected finish event %+v", ev)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestProgressStreamClosesImmediatelyForFinishedFiling(t *testing.T) {
	b := progress.NewBroadcaster(8)
	svc := newFakeFilingService()
	svc.states["f1"] = progress.State{FilingID: "f1", Status: progress.StatusFailed}
	srv := streamServer(t, b, svc)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/filings/f1/progress/stream"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first progress.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestProgressStreamRejections(t *testing.T) {
	b := progress.NewBroadcaster(8)
	svc := newFakeFilingService()
	svc.states["f1"] = progress.State{FilingID: "f1", Status: progress.StatusInProgress}
	srv := streamServer(t, b, svc)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/filings/missing/progress/stream"), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown filing, got %v", err)
	}

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "/v1/filings/f1/progress/stream"), header)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign origin, got %v", err)
	}
}
