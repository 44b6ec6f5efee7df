package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretTokenHeader carries the secret Telegram echoes on every webhook call.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// webhookSecretMiddleware rejects webhook calls without the configured
// secret token. With no secret configured every call passes.
func (s *Server) webhookSecretMiddleware() gin.HandlerFunc {
	secret := []byte(s.config.Telegram.SecretToken)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		provided := []byte(c.GetHeader(SecretTokenHeader))
		if subtle.ConstantTimeCompare(provided, secret) != 1 {
			s.securityLogger.LogFailedAuth(c.Request, "invalid_secret_token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
