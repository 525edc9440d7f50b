// Package status exposes the daemon's operational state over HTTP.
package status

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Source is what the engine reveals about itself.
type Source interface {
	ConnectionState() string
	Connected() bool
	Conversations() int
	UnreadTotal() int
	NotificationsUnread() int
}

// NewRouter builds the status router: a liveness probe and a state report.
func NewRouter(src Source) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logRequests())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"connected":           src.Connected(),
			"state":               src.ConnectionState(),
			"conversations":       src.Conversations(),
			"unreadTotal":         src.UnreadTotal(),
			"notificationsUnread": src.NotificationsUnread(),
		})
	})

	return r
}

func logRequests() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] | %s | %d | %s | %s | %s\n",
			param.TimeStamp.Format("2006-01-02 15:04:05"),
			param.ClientIP,
			param.StatusCode,
			param.Method,
			param.Path,
			param.Latency,
		)
	})
}
