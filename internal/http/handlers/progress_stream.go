package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	httpmiddleware "github.com/wolfman30/lca-filing-automation/internal/http/middleware"
	"github.com/wolfman30/lca-filing-automation/internal/progress"
	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// ProgressSource yields the current state of a filing.
type ProgressSource interface {
	GetProgress(ctx context.Context, filingID string) (progress.State, bool, error)
}

// ProgressStream pushes tracker events for one filing over a websocket. The
// first frame is the current state; the stream closes after the filing
// finishes.
type ProgressStream struct {
	broadcaster *progress.Broadcaster
	source      ProgressSource
	upgrader    websocket.Upgrader
	logger      *logging.Logger
}

func NewProgressStream(b *progress.Broadcaster, source ProgressSource, allowedOrigins []string, logger *logging.Logger) *ProgressStream {
	if b == nil {
		panic("handlers: broadcaster cannot be nil")
	}
	if source == nil {
		panic("handlers: progress source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &ProgressStream{broadcaster: b, source: source, logger: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     httpmiddleware.NewOriginPolicy(allowedOrigins).AllowsRequest,
	}
	return s
}

func (s *ProgressStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filingID := chi.URLParam(r, "filingID")
	st, ok, err := s.source.GetProgress(r.Context(), filingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "filing not found")
		return
	}

	// Subscribe before upgrading so no event between snapshot and stream is lost.
	sub := s.broadcaster.Subscribe(filingID)
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("progress stream upgrade failed", "filing_id", filingID, "error", err)
		return
	}
	defer conn.Close()

	first := progress.Event{FilingID: filingID, Type: "snapshot", State: st, At: st.UpdatedAt}
	if err := s.write(conn, first); err != nil {
		return
	}
	if st.Status == progress.StatusCompleted || st.Status == progress.StatusFailed {
		s.closeNormal(conn)
		return
	}

	// Reader goroutine handles pongs and notices client disconnects.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := s.write(conn, ev); err != nil {
				s.logger.Debug("progress stream write failed", "filing_id", filingID, "error", err)
				return
			}
			if ev.Type == progress.EventFilingFinished {
				s.closeNormal(conn)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *ProgressStream) write(conn *websocket.Conn, ev progress.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}

func (s *ProgressStream) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "filing finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
