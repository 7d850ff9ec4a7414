package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"furitingoasis/wiredin/internal/history"

	"github.com/gin-gonic/gin"
)

type readingSource interface {
	Recent(ctx context.Context, limit int) ([]history.Reading, error)
}

func newRouter(src readingSource, maxPoints int) *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.Recovery())

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	// At most maxPoints readings, evenly thinned over the stored history.
	router.GET("/api/telemetry", func(c *gin.Context) {
		limit := maxPoints
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxPoints)
		}

		readings, err := src.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error querying data: " + err.Error()})
			return
		}
		if readings == nil {
			readings = []history.Reading{}
		}
		c.JSON(http.StatusOK, readings)
	})

	return router
}
