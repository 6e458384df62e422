package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", handleStatus(opts.Source))
	api.GET("/queue", handleQueue(opts))
	api.GET("/events", handleSSE(opts.Hub))

	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
}

func handleStatus(src StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if src == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no session running"})
			return
		}
		c.JSON(http.StatusOK, src.Snapshot())
	}
}

func handleQueue(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Queue == nil {
			c.JSON(http.StatusOK, gin.H{"entries": []QueueRow{}})
			return
		}
		rows, err := QueueSummary(c.Request.Context(), opts.Queue, c.Query("session"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": rows})
	}
}
