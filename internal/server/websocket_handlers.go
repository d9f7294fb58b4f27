package server

import (
	"bilimshare/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// FeedWebSocket streams feed_invalidated events. Signed-in and anonymous
// viewers are both accepted; the stream carries no private data.
func (s *Server) FeedWebSocket() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(localUserID).(string)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("WebSocket: registration refused", "user_id", userID, "error", err)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}
