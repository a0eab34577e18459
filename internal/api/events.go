package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// streamEvents pushes the restaurant's booking events as server-sent events.
func (s *Server) streamEvents(c *gin.Context) {
	restaurantID := c.Param("id")
	ch, cancel := s.hub.Listen(restaurantID, s.cfg.StreamBuffer)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	s.logger.Debug().Str("restaurant_id", restaurantID).Msg("event stream opened")
	defer s.logger.Debug().Str("restaurant_id", restaurantID).Msg("event stream closed")

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		}
	})
}
