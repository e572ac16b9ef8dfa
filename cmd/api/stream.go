package main

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"reviewdesk/notify"
	"reviewdesk/request"
)

type streamMessage struct {
	Type  string        `json:"type"`
	Event *notify.Event `json:"event,omitempty"`
}

// handleStream pushes request change events over a websocket. A client that
// falls behind gets a "resync" message and should reload its list.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	kind := request.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.wsOrigins) > 0 {
		opts.OriginPatterns = s.wsOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.feed.Subscribe(notify.TableRequests, 64)
	defer sub.Unsubscribe()

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx = conn.CloseRead(ctx)

	if err := wsjson.Write(ctx, conn, streamMessage{Type: "ready"}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg := streamMessage{Type: "change", Event: &ev}
			if sub.Lagged() || ev.Op == notify.OpResync {
				msg = streamMessage{Type: "resync"}
			} else if kind != "" && ev.Kind != kind {
				continue
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, msg)
			cancelWrite()
			if err != nil {
				s.log().Debug("stream write failed", "error", err)
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}
