package api

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// handleWebSocket pushes notifications to an open page until it goes away
func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	id, feed := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(id)
	s.deps.Metrics.IncrementActiveSockets()
	defer s.deps.Metrics.DecrementActiveSockets()

	s.logger.Debug("Push client connected", zap.String("client", id))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			s.logger.Debug("Push client disconnected", zap.String("client", id))
			return
		case n, ok := <-feed:
			if !ok {
				return
			}
			if err := c.WriteJSON(n); err != nil {
				s.logger.Warn("WebSocket write error", zap.String("client", id), zap.Error(err))
				return
			}
		}
	}
}
