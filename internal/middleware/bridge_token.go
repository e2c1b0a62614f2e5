package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"marketnotify/internal/pkg/response"
)

// HeaderBridgeToken carries the static token for local bridge callers. The
// Authorization header is left free for the user's session token.
const HeaderBridgeToken = "X-Bridge-Token"

// BridgeTokenAuth protects the local bridge with a static token. An empty
// expected token disables the check.
func BridgeTokenAuth(expected string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		token := c.GetHeader(HeaderBridgeToken)
		if token == "" {
			token = c.Query("bridge_token")
		}
		if token == "" {
			logAuthFailure(logger, c, http.StatusUnauthorized, "missing_token")
			response.Abort(c, http.StatusUnauthorized, "AUTH_MISSING", HeaderBridgeToken+" header is required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			logAuthFailure(logger, c, http.StatusForbidden, "invalid_token")
			response.Abort(c, http.StatusForbidden, "AUTH_INVALID", "Invalid bridge token")
			return
		}

		c.Next()
	}
}

func logAuthFailure(logger *zap.Logger, c *gin.Context, status int, reason string) {
	logger.Warn("bridge auth failed",
		zap.Int("status", status),
		zap.String("request_id", requestID(c)),
		zap.String("reason", reason),
	)
}
