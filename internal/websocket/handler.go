package websocket

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/chorebank/internal/auth"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades an authenticated request and streams the caller's
// family events until the connection closes.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // origin checks happen at the gateway
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, conn, actor.FamilyID)
		client.Run(r.Context())
	}
}
