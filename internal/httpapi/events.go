package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleEvents upgrades to a websocket and streams reconciliation events until
// the client goes away. Events are best-effort; a slow client misses events
// rather than backing up the reconciliation loop.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, "", "shelf:read", time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "event feed unavailable", getCorrelationID(r))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Inbound frames are not part of the protocol; CloseRead discards them
	// and gives us a context that ends when the peer disconnects.
	ctx := conn.CloseRead(r.Context())

	events, cancel := s.feed.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
