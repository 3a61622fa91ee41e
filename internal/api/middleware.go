package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// apiKeyAuth validates the client-facing x-api-key header against the
// configured API keys (spec.md §4.G), using a constant-time comparison per
// key the way the teacher's management-password check does
// (internal/api/server.go's subtle.ConstantTimeCompare).
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader("x-api-key"))
		if provided == "" || !constantTimeAnyEqual(provided, s.cfg.APIKeys) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "missing or invalid x-api-key",
				},
			})
			return
		}
		c.Next()
	}
}

// adminAuth validates the management surface's bearer token
// (SPEC_FULL.md §4.L: "guarded by a separate admin token distinct from the
// client-facing API key").
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader("Authorization"))
		if parts := strings.SplitN(provided, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			provided = parts[1]
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

func constantTimeAnyEqual(provided string, candidates []string) bool {
	ok := false
	for _, k := range candidates {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(k)) == 1 {
			ok = true
		}
	}
	return ok
}
