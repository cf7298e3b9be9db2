package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
)

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		ctx := c.Request.Context()
		logger := logging.From(ctx).With("request_id", uuid.NewString())
		c.Request = c.Request.WithContext(logging.With(ctx, logger))

		c.Next()

		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(started),
			"remote", c.ClientIP(),
		)
	}
}

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.From(c.Request.Context()).Error("panic in http handler",
					"panic", r,
					"path", c.Request.URL.Path,
					"stack_trace", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"status":  "error",
					"message": "internal error",
				})
			}
		}()
		c.Next()
	}
}
