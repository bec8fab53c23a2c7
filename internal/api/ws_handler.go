package api

import (
	"log/slog"
	"net/http"

	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/websocket"
)

// ServeWS upgrades the connection, registers it with the hub and sends the
// in-memory history as a first message.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	if h.recent == nil {
		return
	}
	history := h.recent.GetRecent(0)
	if len(history) == 0 {
		return
	}

	message, err := websocket.Encode(websocket.MessageHistory, history)
	if err != nil {
		h.log.Error("failed to encode history", sl.Err(err))
		return
	}
	if !h.hub.SendTo(client, message) {
		h.log.Warn("failed to queue history", slog.String("remote", conn.RemoteAddr().String()))
	}
}
