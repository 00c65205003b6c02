package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jinford/feedback-flow/internal/module/collection/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type eventsResponse struct {
	LastSeq int64          `json:"lastSeq"`
	Events  []domain.Event `json:"events"`
}

func parseSince(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, nil
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0, &domain.ValidationError{Field: "since", Reason: "must be a non-negative integer"}
	}
	return since, nil
}

// handleEvents は since より新しいイベントを返します
// クライアントは応答の lastSeq を次回の since に使います
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events := s.events.Since(since)
	if events == nil {
		events = []domain.Event{}
	}
	lastSeq := s.events.LastSeq()
	if n := len(events); n > 0 {
		lastSeq = events[n-1].Seq
	}
	writeJSON(w, http.StatusOK, eventsResponse{LastSeq: lastSeq, Events: events})
}

// handleEventStream はイベントを websocket で配信します
// since を指定すると保持中の履歴を先に送ります
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// 履歴より先に購読し、重複は seq で除く
	events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// クライアントからのメッセージは読み捨て、切断の検知だけに使う
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("WebSocket read error", "error", err)
				}
				return
			}
		}
	}()

	lastSeq := int64(0)
	if r.URL.Query().Has("since") {
		lastSeq = since
		for _, event := range s.events.Since(since) {
			if err := s.writeEvent(conn, event); err != nil {
				return
			}
			lastSeq = event.Seq
		}
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			if err := s.writeEvent(conn, event); err != nil {
				return
			}
			lastSeq = event.Seq
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, event domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(event); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			s.logger.Debug("Failed to write WebSocket event", "seq", event.Seq, "error", err)
		}
		return err
	}
	return nil
}
