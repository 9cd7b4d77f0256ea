package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin allowlisting belongs to the oauth2-proxy layer in
		// front of this process in production; ServerConfig.AllowedWSOrigins
		// is reserved for a future direct-exposure deployment.
		return true
	},
}

// wsHandler upgrades the connection and delegates its lifecycle to the
// ConnectionManager, which owns subscribe/unsubscribe/catchup framing.
func (s *Server) wsHandler(c *gin.Context) {
	if s.connManager == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.connManager.HandleConnection(c.Request.Context(), conn)
}
