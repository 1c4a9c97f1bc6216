package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sarvex/infisical/internal/licensing"
)

// RequireValidLicense rejects requests while the server's license is
// not valid. Validity is re-checked per request; the validator decides
// how expensive that check is.
func RequireValidLicense(v licensing.Validator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "license_check").Logger()

	return func(c *gin.Context) {
		if !v.Valid(c.Request.Context()) {
			log.Warn().Str("path", c.Request.URL.Path).Msg("request rejected, license invalid")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "license is not valid"})
			return
		}
		c.Next()
	}
}
