package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/coupleplay/rooms/internal/feed"
)

// handleStream upgrades to a WebSocket and writes every change event for
// the room as a JSON text message. Anything the client sends is ignored.
func handleStream(logger *slog.Logger, f feed.Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := roomFrom(r).ID

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Subscribed before the handshake completes, so the client sees
		// every event published after Dial returns.
		ch, err := f.Subscribe(ctx, roomID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx = conn.CloseRead(ctx)

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case ev, ok := <-ch:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "feed closed")
					return
				}
				wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(wctx, conn, ev)
				wcancel()
				if err != nil {
					logger.Debug("websocket write failed", "room_id", roomID, "error", err)
					return
				}
			case <-ping.C:
				if err := conn.Ping(ctx); err != nil {
					logger.Debug("websocket ping failed", "room_id", roomID, "error", err)
					return
				}
			}
		}
	}
}
