// Package logging configures structured logrus output and a Gin request
// logging middleware, mirroring the teacher's internal/logging package.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger. logFile, when non-empty,
// rotates output to disk via lumberjack instead of writing to stderr.
func Setup(level, logFile string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	log.SetOutput(out)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

const requestIDHeader = "X-Request-Id"

// GinLogger returns Gin middleware that logs method/path/status/latency and
// stamps a request id, matching the teacher's GinLogrusLogger shape.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.Request.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		c.Next()

		latency := time.Since(start).Truncate(time.Millisecond)
		log.WithFields(log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency":    latency.String(),
			"client_ip":  c.ClientIP(),
		}).Info("request")
	}
}

// RequestID extracts the request id stamped by GinLogger, if any.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
